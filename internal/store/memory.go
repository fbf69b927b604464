package store

import (
	"context"
	"sync"

	"github.com/samber/lo"

	"github.com/SkynetNext/game-server/internal/domain"
	"github.com/SkynetNext/game-server/internal/errs"
)

type balanceKey struct {
	player domain.PlayerID
	rt     domain.ResourceType
}

type friendPair struct {
	a, b domain.PlayerID
}

// Memory is an in-process Repository. Transactions stage their writes and
// apply them under a single write lock on commit.
type Memory struct {
	mu       sync.RWMutex
	devices  map[string]domain.PlayerID
	balances map[balanceKey]int64
	friends  map[domain.PlayerID][]domain.PlayerID
}

// NewMemory creates an empty in-memory repository
func NewMemory() *Memory {
	return &Memory{
		devices:  make(map[string]domain.PlayerID),
		balances: make(map[balanceKey]int64),
		friends:  make(map[domain.PlayerID][]domain.PlayerID),
	}
}

func (m *Memory) GetOrCreatePlayer(_ context.Context, deviceID string) (domain.PlayerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.devices[deviceID]; ok {
		return id, nil
	}
	id := domain.NewPlayerID()
	m.devices[deviceID] = id
	for _, rt := range domain.ResourceTypes {
		m.balances[balanceKey{id, rt}] = 0
	}
	return id, nil
}

func (m *Memory) GetBalance(_ context.Context, playerID domain.PlayerID, rt domain.ResourceType) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceLocked(playerID, rt)
}

func (m *Memory) balanceLocked(playerID domain.PlayerID, rt domain.ResourceType) (int64, error) {
	amount, ok := m.balances[balanceKey{playerID, rt}]
	if !ok {
		return 0, errs.Newf(errs.ResourceNotFound, "%s balance not found for player %s", rt, playerID)
	}
	return amount, nil
}

func (m *Memory) SetBalance(_ context.Context, playerID domain.PlayerID, rt domain.ResourceType, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := balanceKey{playerID, rt}
	if _, ok := m.balances[key]; !ok {
		return errs.Newf(errs.ResourceNotFound, "%s balance not found for player %s", rt, playerID)
	}
	m.balances[key] = amount
	return nil
}

func (m *Memory) FriendIDs(_ context.Context, playerID domain.PlayerID) ([]domain.PlayerID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.PlayerID(nil), m.friends[playerID]...), nil
}

func (m *Memory) AddFriendship(_ context.Context, playerID, friendID domain.PlayerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkFriendshipLocked(playerID, friendID); err != nil {
		return err
	}
	m.addFriendshipLocked(playerID, friendID)
	return nil
}

func (m *Memory) exists(playerID domain.PlayerID) bool {
	_, ok := m.balances[balanceKey{playerID, domain.Coins}]
	return ok
}

func (m *Memory) checkFriendshipLocked(playerID, friendID domain.PlayerID) error {
	if !m.exists(playerID) {
		return errs.Newf(errs.PlayerNotFound, "player %s not found", playerID)
	}
	if !m.exists(friendID) {
		return errs.Newf(errs.PlayerNotFound, "player %s not found", friendID)
	}
	if lo.Contains(m.friends[playerID], friendID) {
		return errs.New(errs.FriendshipAlreadyExists, "players are already friends")
	}
	return nil
}

func (m *Memory) addFriendshipLocked(playerID, friendID domain.PlayerID) {
	m.friends[playerID] = append(m.friends[playerID], friendID)
	m.friends[friendID] = append(m.friends[friendID], playerID)
}

// InTx runs fn against a staging view. Player creation inside fn is not
// staged and takes effect immediately.
func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	tx := &memTx{
		m:        m,
		balances: make(map[balanceKey]int64),
	}
	if err := fn(ctx, tx); err != nil {
		return errs.Wrap(errs.TransactionFailed, err)
	}
	return tx.commit()
}

type memTx struct {
	m        *Memory
	balances map[balanceKey]int64
	friends  []friendPair
}

func (t *memTx) GetOrCreatePlayer(ctx context.Context, deviceID string) (domain.PlayerID, error) {
	return t.m.GetOrCreatePlayer(ctx, deviceID)
}

func (t *memTx) GetBalance(ctx context.Context, playerID domain.PlayerID, rt domain.ResourceType) (int64, error) {
	if amount, ok := t.balances[balanceKey{playerID, rt}]; ok {
		return amount, nil
	}
	return t.m.GetBalance(ctx, playerID, rt)
}

func (t *memTx) SetBalance(ctx context.Context, playerID domain.PlayerID, rt domain.ResourceType, amount int64) error {
	if _, err := t.GetBalance(ctx, playerID, rt); err != nil {
		return err
	}
	t.balances[balanceKey{playerID, rt}] = amount
	return nil
}

func (t *memTx) FriendIDs(ctx context.Context, playerID domain.PlayerID) ([]domain.PlayerID, error) {
	ids, err := t.m.FriendIDs(ctx, playerID)
	if err != nil {
		return nil, err
	}
	for _, p := range t.friends {
		switch playerID {
		case p.a:
			ids = append(ids, p.b)
		case p.b:
			ids = append(ids, p.a)
		}
	}
	return ids, nil
}

func (t *memTx) AddFriendship(ctx context.Context, playerID, friendID domain.PlayerID) error {
	staged := lo.ContainsBy(t.friends, func(p friendPair) bool {
		return (p.a == playerID && p.b == friendID) || (p.a == friendID && p.b == playerID)
	})
	if staged {
		return errs.New(errs.FriendshipAlreadyExists, "players are already friends")
	}

	t.m.mu.RLock()
	err := t.m.checkFriendshipLocked(playerID, friendID)
	t.m.mu.RUnlock()
	if err != nil {
		return err
	}

	t.friends = append(t.friends, friendPair{playerID, friendID})
	return nil
}

func (t *memTx) InTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	return fn(ctx, t)
}

func (t *memTx) commit() error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	for _, p := range t.friends {
		if err := t.m.checkFriendshipLocked(p.a, p.b); err != nil {
			return err
		}
	}
	for key := range t.balances {
		if _, ok := t.m.balances[key]; !ok {
			return errs.New(errs.TransactionFailed, "balance disappeared before commit")
		}
	}

	for key, amount := range t.balances {
		t.m.balances[key] = amount
	}
	for _, p := range t.friends {
		t.m.addFriendshipLocked(p.a, p.b)
	}
	return nil
}
