package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/SkynetNext/game-server/internal/domain"
	"github.com/SkynetNext/game-server/internal/session"
)

type recordingConn struct {
	id   uint64
	open bool
	fail bool

	mu   sync.Mutex
	sent [][]byte
}

func (c *recordingConn) ID() uint64         { return c.id }
func (c *recordingConn) RemoteAddr() string { return "127.0.0.1:1" }
func (c *recordingConn) IsOpen() bool       { return c.open }

func (c *recordingConn) Send(ctx context.Context, data []byte) error {
	if c.fail {
		return errors.New("broken pipe")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestSendToPlayer(t *testing.T) {
	reg := session.NewRegistry()
	n := New(reg, time.Second)

	p := domain.NewPlayerID()
	c := &recordingConn{id: 1, open: true}
	reg.Register(p, c)

	n.SendToPlayer(context.Background(), p, []byte("hi"))
	assert.Equal(t, 1, c.count())

	// offline player is a silent no-op
	n.SendToPlayer(context.Background(), domain.NewPlayerID(), []byte("hi"))
}

func TestSendToPlayer_ClosedOrFailing(t *testing.T) {
	reg := session.NewRegistry()
	n := New(reg, time.Second)

	closed := &recordingConn{id: 1, open: false}
	reg.Register(domain.NewPlayerID(), closed)
	failing := &recordingConn{id: 2, open: true, fail: true}
	pf := domain.NewPlayerID()
	reg.Register(pf, failing)

	assert.NotPanics(t, func() {
		n.Broadcast(context.Background(), []byte("x"))
		n.SendToPlayer(context.Background(), pf, []byte("x"))
	})
	assert.Equal(t, 0, closed.count())
}

func TestBroadcast_IsolatesFailures(t *testing.T) {
	reg := session.NewRegistry()
	n := New(reg, time.Second)

	var good []*recordingConn
	for i := 0; i < 10; i++ {
		c := &recordingConn{id: uint64(i), open: true, fail: i%3 == 0}
		reg.Register(domain.NewPlayerID(), c)
		if !c.fail {
			good = append(good, c)
		}
	}

	n.Broadcast(context.Background(), []byte("x"))
	for _, c := range good {
		assert.Equal(t, 1, c.count())
	}
}

func TestBroadcastExcept(t *testing.T) {
	reg := session.NewRegistry()
	n := New(reg, 0)

	skip := domain.NewPlayerID()
	skipped := &recordingConn{id: 1, open: true}
	reg.Register(skip, skipped)
	other := &recordingConn{id: 2, open: true}
	reg.Register(domain.NewPlayerID(), other)

	n.BroadcastExcept(context.Background(), skip, []byte("x"))
	assert.Equal(t, 0, skipped.count())
	assert.Equal(t, 1, other.count())
}
