package handler

import (
	"context"
	"encoding/json"
	"math"

	"go.uber.org/zap"

	"github.com/SkynetNext/game-server/internal/errs"
	"github.com/SkynetNext/game-server/internal/events"
	"github.com/SkynetNext/game-server/internal/logger"
	"github.com/SkynetNext/game-server/internal/protocol"
	"github.com/SkynetNext/game-server/internal/session"
)

// UpdateResources applies a signed delta to one of the caller's balances.
// It holds the caller's lock so it cannot interleave with a gift touching
// the same player.
func (h *Handlers) UpdateResources(ctx context.Context, conn session.Conn, payload json.RawMessage) error {
	playerID, err := h.authenticated(conn)
	if err != nil {
		return err
	}

	var req protocol.UpdateResourcesRequest
	if err := protocol.DecodePayload(payload, &req); err != nil {
		return err
	}
	if err := validResourceType(req.Type); err != nil {
		return err
	}

	guard, err := h.lockOne(ctx, playerID)
	if err != nil {
		return err
	}
	defer guard.Release()

	current, err := h.Repo.GetBalance(ctx, playerID, req.Type)
	if err != nil {
		return err
	}

	if req.Value > 0 && current > math.MaxInt64-req.Value {
		return errs.Newf(errs.InvalidAmount, "%s balance would overflow", req.Type)
	}
	newBalance := current + req.Value
	if newBalance < 0 {
		logger.L.Debug("insufficient funds", logger.WithTrace(ctx,
			zap.String("player_id", playerID.String()),
			zap.Stringer("type", req.Type),
			zap.Int64("balance", current),
			zap.Int64("delta", req.Value),
		)...)
		return errs.Newf(errs.InsufficientFunds, "Insufficient %s. Current: %d, Requested: %d", req.Type, current, req.Value)
	}

	if err := h.Repo.SetBalance(ctx, playerID, req.Type, newBalance); err != nil {
		return err
	}
	guard.Release()

	h.Notifier.SendToPlayer(ctx, playerID, protocol.MustEncode(protocol.TypeResourceUpdated, protocol.ResourceUpdated{
		Type:       req.Type,
		NewBalance: newBalance,
	}))

	logger.L.Debug("resource updated", logger.WithTrace(ctx,
		zap.String("player_id", playerID.String()),
		zap.Stringer("type", req.Type),
		zap.Int64("old_balance", current),
		zap.Int64("new_balance", newBalance),
	)...)
	h.Events.Publish(ctx, events.ResourceUpdated(playerID, req.Type, req.Value, newBalance))
	return nil
}
