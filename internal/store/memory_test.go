package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkynetNext/game-server/internal/domain"
	"github.com/SkynetNext/game-server/internal/errs"
)

func TestMemory_GetOrCreatePlayer(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	p1, err := m.GetOrCreatePlayer(ctx, "d1")
	require.NoError(t, err)
	again, err := m.GetOrCreatePlayer(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, p1, again)

	p2, err := m.GetOrCreatePlayer(ctx, "d2")
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	for _, rt := range domain.ResourceTypes {
		bal, err := m.GetBalance(ctx, p1, rt)
		require.NoError(t, err)
		assert.Zero(t, bal)
	}
}

func TestMemory_GetOrCreatePlayer_Concurrent(t *testing.T) {
	m := NewMemory()
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[domain.PlayerID]struct{}{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.GetOrCreatePlayer(context.Background(), "same-device")
			assert.NoError(t, err)
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1)
}

func TestMemory_Balances(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p, _ := m.GetOrCreatePlayer(ctx, "d1")

	require.NoError(t, m.SetBalance(ctx, p, domain.Coins, 500))
	bal, err := m.GetBalance(ctx, p, domain.Coins)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)

	_, err = m.GetBalance(ctx, domain.NewPlayerID(), domain.Coins)
	assert.True(t, errs.Is(err, errs.ResourceNotFound))

	err = m.SetBalance(ctx, domain.NewPlayerID(), domain.Coins, 1)
	assert.True(t, errs.Is(err, errs.ResourceNotFound))
}

func TestMemory_Friendships(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	p1, _ := m.GetOrCreatePlayer(ctx, "d1")
	p2, _ := m.GetOrCreatePlayer(ctx, "d2")

	require.NoError(t, m.AddFriendship(ctx, p1, p2))

	f1, _ := m.FriendIDs(ctx, p1)
	f2, _ := m.FriendIDs(ctx, p2)
	assert.Equal(t, []domain.PlayerID{p2}, f1)
	assert.Equal(t, []domain.PlayerID{p1}, f2)

	err := m.AddFriendship(ctx, p2, p1)
	assert.True(t, errs.Is(err, errs.FriendshipAlreadyExists))

	err = m.AddFriendship(ctx, p1, domain.NewPlayerID())
	assert.True(t, errs.Is(err, errs.PlayerNotFound))
}

func TestMemory_InTx_CommitsTogether(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	a, _ := m.GetOrCreatePlayer(ctx, "a")
	b, _ := m.GetOrCreatePlayer(ctx, "b")
	require.NoError(t, m.SetBalance(ctx, a, domain.Coins, 100))

	err := m.InTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.SetBalance(ctx, a, domain.Coins, 60); err != nil {
			return err
		}
		// staged write visible inside the transaction only
		bal, _ := tx.GetBalance(ctx, a, domain.Coins)
		assert.Equal(t, int64(60), bal)
		outside, _ := m.GetBalance(ctx, a, domain.Coins)
		assert.Equal(t, int64(100), outside)

		return tx.SetBalance(ctx, b, domain.Coins, 40)
	})
	require.NoError(t, err)

	balA, _ := m.GetBalance(ctx, a, domain.Coins)
	balB, _ := m.GetBalance(ctx, b, domain.Coins)
	assert.Equal(t, int64(60), balA)
	assert.Equal(t, int64(40), balB)
}

func TestMemory_InTx_RollsBack(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	a, _ := m.GetOrCreatePlayer(ctx, "a")
	b, _ := m.GetOrCreatePlayer(ctx, "b")
	require.NoError(t, m.SetBalance(ctx, a, domain.Coins, 100))

	boom := errors.New("disk on fire")
	err := m.InTx(ctx, func(ctx context.Context, tx Repository) error {
		require.NoError(t, tx.SetBalance(ctx, a, domain.Coins, 0))
		require.NoError(t, tx.AddFriendship(ctx, a, b))
		return boom
	})
	assert.True(t, errs.Is(err, errs.TransactionFailed))
	assert.ErrorIs(t, err, boom)

	bal, _ := m.GetBalance(ctx, a, domain.Coins)
	assert.Equal(t, int64(100), bal)
	friends, _ := m.FriendIDs(ctx, a)
	assert.Empty(t, friends)
}

func TestMemory_InTx_KeepsCodedError(t *testing.T) {
	m := NewMemory()
	err := m.InTx(context.Background(), func(ctx context.Context, tx Repository) error {
		return errs.New(errs.InsufficientFunds, "not enough")
	})
	assert.True(t, errs.Is(err, errs.InsufficientFunds))
}
