// Package store persists players, resource balances and friendships.
//
// Every implementation reports failures as errs.Error values carrying the
// repository codes (Player.NotFound, Resource.NotFound, ...) so handlers can
// forward them to clients unchanged.
package store

import (
	"context"

	"github.com/SkynetNext/game-server/internal/domain"
)

// Repository is the persistence collaborator used by the handlers
type Repository interface {
	// GetOrCreatePlayer returns the player bound to deviceID, creating it with
	// zero balances for every resource type on first sight
	GetOrCreatePlayer(ctx context.Context, deviceID string) (domain.PlayerID, error)

	GetBalance(ctx context.Context, playerID domain.PlayerID, rt domain.ResourceType) (int64, error)

	// SetBalance overwrites a balance. Callers guarantee amount >= 0.
	SetBalance(ctx context.Context, playerID domain.PlayerID, rt domain.ResourceType, amount int64) error

	FriendIDs(ctx context.Context, playerID domain.PlayerID) ([]domain.PlayerID, error)

	// AddFriendship stores the friendship in both directions
	AddFriendship(ctx context.Context, playerID, friendID domain.PlayerID) error

	// InTx runs fn as one unit of work: everything fn writes through tx
	// commits together, or nothing does when fn returns an error
	InTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}

// Pinger is implemented by repositories backed by a remote database
type Pinger interface {
	Ping(ctx context.Context) error
}
