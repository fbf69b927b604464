package store

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/SkynetNext/game-server/internal/domain"
)

// FriendCache decorates a Repository with a TTL cache of friend lists.
// Writes through AddFriendship, directly or inside InTx, invalidate both
// players once they are durable.
type FriendCache struct {
	Repository

	cache *cache.Cache
	group singleflight.Group

	// generation per player, bumped on invalidation so that a fill started
	// before a write never stores the stale list
	mu   sync.Mutex
	gens map[domain.PlayerID]uint64
}

// NewFriendCache wraps inner with a cache whose entries live for ttl
func NewFriendCache(inner Repository, ttl time.Duration) *FriendCache {
	return &FriendCache{
		Repository: inner,
		cache:      cache.New(ttl, 2*ttl),
		gens:       make(map[domain.PlayerID]uint64),
	}
}

func (c *FriendCache) generation(id domain.PlayerID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[id]
}

func (c *FriendCache) invalidate(ids ...domain.PlayerID) {
	c.mu.Lock()
	for _, id := range ids {
		c.gens[id]++
		c.cache.Delete(id.String())
	}
	c.mu.Unlock()
}

// FriendIDs serves from cache, collapsing concurrent misses for one player
func (c *FriendCache) FriendIDs(ctx context.Context, playerID domain.PlayerID) ([]domain.PlayerID, error) {
	key := playerID.String()
	if v, ok := c.cache.Get(key); ok {
		return append([]domain.PlayerID(nil), v.([]domain.PlayerID)...), nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		gen := c.generation(playerID)
		ids, err := c.Repository.FriendIDs(ctx, playerID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gens[playerID] == gen {
			c.cache.SetDefault(key, ids)
		}
		c.mu.Unlock()
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.PlayerID(nil), v.([]domain.PlayerID)...), nil
}

func (c *FriendCache) AddFriendship(ctx context.Context, playerID, friendID domain.PlayerID) error {
	err := c.Repository.AddFriendship(ctx, playerID, friendID)
	c.invalidate(playerID, friendID)
	return err
}

func (c *FriendCache) InTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	var touched []domain.PlayerID
	err := c.Repository.InTx(ctx, func(ctx context.Context, tx Repository) error {
		view := &friendTrackingTx{Repository: tx}
		err := fn(ctx, view)
		touched = view.touched
		return err
	})
	if len(touched) > 0 {
		c.invalidate(touched...)
	}
	return err
}

// friendTrackingTx reads friends straight from the transaction and records
// whose lists a commit will change
type friendTrackingTx struct {
	Repository
	touched []domain.PlayerID
}

func (t *friendTrackingTx) AddFriendship(ctx context.Context, playerID, friendID domain.PlayerID) error {
	if err := t.Repository.AddFriendship(ctx, playerID, friendID); err != nil {
		return err
	}
	t.touched = append(t.touched, playerID, friendID)
	return nil
}
