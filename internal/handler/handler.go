// Package handler implements the player operations routed by the dispatcher.
package handler

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/SkynetNext/game-server/internal/dispatch"
	"github.com/SkynetNext/game-server/internal/domain"
	"github.com/SkynetNext/game-server/internal/errs"
	"github.com/SkynetNext/game-server/internal/events"
	"github.com/SkynetNext/game-server/internal/keylock"
	"github.com/SkynetNext/game-server/internal/notify"
	"github.com/SkynetNext/game-server/internal/presence"
	"github.com/SkynetNext/game-server/internal/protocol"
	"github.com/SkynetNext/game-server/internal/session"
	"github.com/SkynetNext/game-server/internal/store"
)

const notLoggedIn = "Socket not registered. Please login first."

// Deps are the collaborators shared by all handlers
type Deps struct {
	Repo     store.Repository
	Registry *session.Registry
	Locks    *keylock.Manager
	Notifier *notify.Notifier

	// optional, default to no-ops
	Events   events.Publisher
	Presence presence.Tracker

	// upper bound on waiting for player locks, 0 waits as long as ctx allows
	LockTimeout time.Duration
}

// Handlers holds the operation implementations
type Handlers struct {
	Deps

	// collapses concurrent create-or-fetch calls for one device
	logins singleflight.Group
}

// New creates the handler set
func New(deps Deps) *Handlers {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Presence == nil {
		deps.Presence = presence.Nop{}
	}
	return &Handlers{Deps: deps}
}

// Table returns the dispatch table for every inbound message type
func (h *Handlers) Table() map[string]dispatch.Handler {
	return map[string]dispatch.Handler{
		protocol.TypeLogin:           dispatch.HandlerFunc(h.Login),
		protocol.TypeUpdateResources: dispatch.HandlerFunc(h.UpdateResources),
		protocol.TypeSendGift:        dispatch.HandlerFunc(h.SendGift),
		protocol.TypeAddFriend:       dispatch.HandlerFunc(h.AddFriend),
	}
}

// authenticated resolves the player bound to conn
func (h *Handlers) authenticated(conn session.Conn) (domain.PlayerID, error) {
	playerID, ok := h.Registry.GetPlayer(conn)
	if !ok {
		return domain.PlayerID{}, errs.New(errs.Unauthorized, notLoggedIn)
	}
	return playerID, nil
}

func (h *Handlers) lockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.LockTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.LockTimeout)
}

func (h *Handlers) lockOne(ctx context.Context, playerID domain.PlayerID) (*keylock.Guard, error) {
	lctx, cancel := h.lockContext(ctx)
	defer cancel()
	g, err := h.Locks.AcquireOne(lctx, playerID.String())
	if err != nil {
		return nil, errs.Newf(errs.LockTimeout, "timed out waiting for player lock: %v", err)
	}
	return g, nil
}

func (h *Handlers) lockPair(ctx context.Context, a, b domain.PlayerID) (*keylock.Guard, error) {
	lctx, cancel := h.lockContext(ctx)
	defer cancel()
	g, err := h.Locks.AcquireOrderedPair(lctx, a.String(), b.String())
	if err != nil {
		return nil, errs.Newf(errs.LockTimeout, "timed out waiting for player locks: %v", err)
	}
	return g, nil
}

func validResourceType(rt domain.ResourceType) error {
	if !rt.Valid() {
		return errs.New(errs.InvalidResourceType, "Resource type must be Coins or Rolls")
	}
	return nil
}
