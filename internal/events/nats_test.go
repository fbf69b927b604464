package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkynetNext/game-server/internal/circuitbreaker"
	"github.com/SkynetNext/game-server/internal/domain"
)

type published struct {
	subject string
	data    []byte
}

func TestNATS_PublishSubjectAndPayload(t *testing.T) {
	var got []published
	p := newPublisher(func(subject string, data []byte) error {
		got = append(got, published{subject, data})
		return nil
	}, NATSOptions{SubjectPrefix: "game.events", MaxFailures: 3, BreakerTimeout: time.Minute})

	from, to := domain.NewPlayerID(), domain.NewPlayerID()
	p.Publish(context.Background(), GiftSent(from, to, domain.Coins, 100))

	require.Len(t, got, 1)
	assert.Equal(t, "game.events.gift.sent", got[0].subject)

	var evt map[string]any
	require.NoError(t, json.Unmarshal(got[0].data, &evt))
	assert.Equal(t, "gift.sent", evt["kind"])
	assert.Equal(t, from.String(), evt["playerId"])
	assert.Equal(t, to.String(), evt["targetId"])
	assert.Equal(t, "Coins", evt["resource"])
	assert.Equal(t, float64(100), evt["amount"])
}

func TestNATS_BreakerOpensOnFailures(t *testing.T) {
	calls := 0
	p := newPublisher(func(string, []byte) error {
		calls++
		return errors.New("nats: connection closed")
	}, NATSOptions{SubjectPrefix: "x", MaxFailures: 2, BreakerTimeout: time.Hour})

	for i := 0; i < 5; i++ {
		p.Publish(context.Background(), PlayerLogin(domain.NewPlayerID()))
	}
	assert.Equal(t, 2, calls, "breaker stops calling after max failures")
	assert.Equal(t, circuitbreaker.StateOpen, p.breaker.State())
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NotPanics(t, func() { p.Publish(context.Background(), FriendAdded(domain.NewPlayerID(), domain.NewPlayerID())) })
}
