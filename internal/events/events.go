// Package events publishes domain events for downstream consumers
// (analytics, audit). Publishing is best effort and never fails a player
// operation.
package events

import (
	"context"
	"time"

	"github.com/SkynetNext/game-server/internal/domain"
)

// Event kinds, used as the subject suffix
const (
	KindPlayerLogin     = "player.login"
	KindResourceUpdated = "resource.updated"
	KindGiftSent        = "gift.sent"
	KindFriendAdded     = "friend.added"
)

// Event is one domain fact
type Event struct {
	Kind       string               `json:"kind"`
	PlayerID   domain.PlayerID      `json:"playerId"`
	TargetID   *domain.PlayerID     `json:"targetId,omitempty"`
	Resource   *domain.ResourceType `json:"resource,omitempty"`
	Amount     int64                `json:"amount,omitempty"`
	NewBalance *int64               `json:"newBalance,omitempty"`
	OccurredAt time.Time            `json:"occurredAt"`
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// PlayerLogin builds a player.login event
func PlayerLogin(playerID domain.PlayerID) Event {
	return Event{Kind: KindPlayerLogin, PlayerID: playerID, OccurredAt: time.Now().UTC()}
}

// ResourceUpdated builds a resource.updated event
func ResourceUpdated(playerID domain.PlayerID, rt domain.ResourceType, delta, newBalance int64) Event {
	return Event{
		Kind:       KindResourceUpdated,
		PlayerID:   playerID,
		Resource:   &rt,
		Amount:     delta,
		NewBalance: &newBalance,
		OccurredAt: time.Now().UTC(),
	}
}

// GiftSent builds a gift.sent event
func GiftSent(from, to domain.PlayerID, rt domain.ResourceType, amount int64) Event {
	return Event{
		Kind:       KindGiftSent,
		PlayerID:   from,
		TargetID:   &to,
		Resource:   &rt,
		Amount:     amount,
		OccurredAt: time.Now().UTC(),
	}
}

// FriendAdded builds a friend.added event
func FriendAdded(by, friend domain.PlayerID) Event {
	return Event{Kind: KindFriendAdded, PlayerID: by, TargetID: &friend, OccurredAt: time.Now().UTC()}
}
