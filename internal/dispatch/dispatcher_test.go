package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkynetNext/game-server/internal/errs"
	"github.com/SkynetNext/game-server/internal/protocol"
	"github.com/SkynetNext/game-server/internal/session"
)

type captureConn struct {
	mu   sync.Mutex
	sent [][]byte
}

func (c *captureConn) ID() uint64         { return 7 }
func (c *captureConn) RemoteAddr() string { return "127.0.0.1:1" }
func (c *captureConn) IsOpen() bool       { return true }

func (c *captureConn) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *captureConn) lastError(t *testing.T) protocol.ErrorPayload {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent)
	env, err := protocol.Parse(c.sent[len(c.sent)-1])
	require.NoError(t, err)
	require.Equal(t, protocol.TypeError, env.Type)
	var p protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p
}

func newTestDispatcher(calls *int) *Dispatcher {
	return New(map[string]Handler{
		"PING": HandlerFunc(func(ctx context.Context, conn session.Conn, payload json.RawMessage) error {
			*calls++
			return nil
		}),
		"FAIL": HandlerFunc(func(ctx context.Context, conn session.Conn, payload json.RawMessage) error {
			return errs.New(errs.NotFriends, "You can only send gifts to friends")
		}),
		"PANIC": HandlerFunc(func(ctx context.Context, conn session.Conn, payload json.RawMessage) error {
			panic("boom")
		}),
	})
}

func TestDispatch_RoutesToHandler(t *testing.T) {
	calls := 0
	d := newTestDispatcher(&calls)
	conn := &captureConn{}

	got := d.Dispatch(context.Background(), conn, []byte(`{"type":"PING","payload":{}}`))
	assert.Equal(t, "PING", got)
	assert.Equal(t, 1, calls)
	assert.Empty(t, conn.sent)
}

func TestDispatch_EmptyInputIsNoop(t *testing.T) {
	calls := 0
	d := newTestDispatcher(&calls)
	conn := &captureConn{}

	d.Dispatch(context.Background(), conn, nil)
	assert.Empty(t, conn.sent)
	assert.Zero(t, calls)
}

func TestDispatch_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code string
	}{
		{name: "malformed json", raw: `{"type":`, code: errs.InvalidMessage},
		{name: "missing type", raw: `{"payload":{}}`, code: errs.InvalidMessage},
		{name: "unknown type", raw: `{"type":"NOPE"}`, code: errs.UnknownType},
		{name: "case sensitive", raw: `{"type":"ping"}`, code: errs.UnknownType},
		{name: "handler failure", raw: `{"type":"FAIL"}`, code: errs.NotFriends},
		{name: "handler panic", raw: `{"type":"PANIC"}`, code: errs.InternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			d := newTestDispatcher(&calls)
			conn := &captureConn{}

			assert.NotPanics(t, func() {
				d.Dispatch(context.Background(), conn, []byte(tt.raw))
			})
			assert.Equal(t, tt.code, conn.lastError(t).Code)
		})
	}
}

func TestDispatch_ForwardsHandlerMessage(t *testing.T) {
	calls := 0
	d := newTestDispatcher(&calls)
	conn := &captureConn{}

	d.Dispatch(context.Background(), conn, []byte(`{"type":"FAIL"}`))
	assert.Equal(t, "You can only send gifts to friends", conn.lastError(t).Message)
}

func TestNew_CopiesTable(t *testing.T) {
	table := map[string]Handler{}
	d := New(table)
	table["LATE"] = HandlerFunc(func(context.Context, session.Conn, json.RawMessage) error { return nil })

	conn := &captureConn{}
	d.Dispatch(context.Background(), conn, []byte(`{"type":"LATE"}`))
	assert.Equal(t, errs.UnknownType, conn.lastError(t).Code)
}

func TestDispatcher_Types(t *testing.T) {
	calls := 0
	assert.Equal(t, []string{"FAIL", "PANIC", "PING"}, newTestDispatcher(&calls).Types())
	assert.Empty(t, New(nil).Types())
}
