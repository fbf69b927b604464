package store

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkynetNext/game-server/internal/domain"
)

type countingRepo struct {
	Repository
	friendReads atomic.Int64
}

func (c *countingRepo) FriendIDs(ctx context.Context, id domain.PlayerID) ([]domain.PlayerID, error) {
	c.friendReads.Add(1)
	return c.Repository.FriendIDs(ctx, id)
}

func TestFriendCache_HitsAndInvalidates(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	inner := &countingRepo{Repository: mem}
	c := NewFriendCache(inner, time.Minute)

	a, _ := c.GetOrCreatePlayer(ctx, "a")
	b, _ := c.GetOrCreatePlayer(ctx, "b")

	ids, err := c.FriendIDs(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, ids)
	_, _ = c.FriendIDs(ctx, a)
	assert.Equal(t, int64(1), inner.friendReads.Load(), "second read served from cache")

	require.NoError(t, c.AddFriendship(ctx, a, b))

	ids, err = c.FriendIDs(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []domain.PlayerID{b}, ids)
	assert.Equal(t, int64(2), inner.friendReads.Load())
}

func TestFriendCache_InvalidatesAfterTx(t *testing.T) {
	ctx := context.Background()
	c := NewFriendCache(NewMemory(), time.Minute)
	a, _ := c.GetOrCreatePlayer(ctx, "a")
	b, _ := c.GetOrCreatePlayer(ctx, "b")

	_, _ = c.FriendIDs(ctx, b)

	err := c.InTx(ctx, func(ctx context.Context, tx Repository) error {
		return tx.AddFriendship(ctx, a, b)
	})
	require.NoError(t, err)

	ids, _ := c.FriendIDs(ctx, b)
	assert.Equal(t, []domain.PlayerID{a}, ids)
}

func TestFriendCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewFriendCache(NewMemory(), time.Minute)
	a, _ := c.GetOrCreatePlayer(ctx, "a")
	b, _ := c.GetOrCreatePlayer(ctx, "b")
	require.NoError(t, c.AddFriendship(ctx, a, b))

	ids, _ := c.FriendIDs(ctx, a)
	ids[0] = domain.NewPlayerID()

	again, _ := c.FriendIDs(ctx, a)
	assert.Equal(t, b, again[0])
}
