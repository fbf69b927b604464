package handler

import (
	"context"
	"encoding/json"
	"math"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/SkynetNext/game-server/internal/domain"
	"github.com/SkynetNext/game-server/internal/errs"
	"github.com/SkynetNext/game-server/internal/events"
	"github.com/SkynetNext/game-server/internal/logger"
	"github.com/SkynetNext/game-server/internal/metrics"
	"github.com/SkynetNext/game-server/internal/protocol"
	"github.com/SkynetNext/game-server/internal/session"
	"github.com/SkynetNext/game-server/internal/store"
)

// SendGift moves an amount of one resource from the caller to a friend.
//
// Every check that needs no lock runs first. The sender and recipient are
// then locked as an ordered pair, the sender balance is re-read, and the
// debit and credit commit in one transaction. Notifications go out only
// after the locks are released and the transaction committed.
func (h *Handlers) SendGift(ctx context.Context, conn session.Conn, payload json.RawMessage) (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = errs.CodeOf(err)
		}
		metrics.Gifts.WithLabelValues(result).Inc()
	}()

	senderID, err := h.authenticated(conn)
	if err != nil {
		return err
	}

	var req protocol.SendGiftRequest
	if err := protocol.DecodePayload(payload, &req); err != nil {
		return err
	}

	recipientID := req.FriendPlayerID
	if senderID == recipientID {
		return errs.New(errs.InvalidRecipient, "Cannot send gift to yourself")
	}
	if req.Value <= 0 {
		return errs.New(errs.InvalidAmount, "Gift amount must be greater than zero")
	}
	if err := validResourceType(req.Type); err != nil {
		return err
	}

	friends, err := h.Repo.FriendIDs(ctx, senderID)
	if err != nil {
		return err
	}
	if !lo.Contains(friends, recipientID) {
		logger.L.Debug("gift to non-friend", logger.WithTrace(ctx,
			zap.String("sender_id", senderID.String()),
			zap.String("recipient_id", recipientID.String()),
		)...)
		return errs.New(errs.NotFriends, "You can only send gifts to friends")
	}

	senderBalance, err := h.transfer(ctx, senderID, recipientID, req.Type, req.Value)
	if err != nil {
		return err
	}

	h.Notifier.SendToPlayer(ctx, senderID, protocol.MustEncode(protocol.TypeResourceUpdated, protocol.ResourceUpdated{
		Type:       req.Type,
		NewBalance: senderBalance,
	}))
	h.Notifier.SendToPlayer(ctx, recipientID, protocol.MustEncode(protocol.TypeGiftReceived, protocol.GiftReceived{
		FromPlayerID: senderID,
		Type:         req.Type,
		Amount:       req.Value,
	}))

	logger.L.Info("gift sent", logger.WithTrace(ctx,
		zap.String("sender_id", senderID.String()),
		zap.String("recipient_id", recipientID.String()),
		zap.Stringer("type", req.Type),
		zap.Int64("amount", req.Value),
	)...)
	h.Events.Publish(ctx, events.GiftSent(senderID, recipientID, req.Type, req.Value))
	return nil
}

// transfer runs the locked part of a gift and returns the sender's new balance
func (h *Handlers) transfer(ctx context.Context, senderID, recipientID domain.PlayerID, rt domain.ResourceType, amount int64) (int64, error) {
	guard, err := h.lockPair(ctx, senderID, recipientID)
	if err != nil {
		return 0, err
	}
	defer guard.Release()

	senderBalance, err := h.Repo.GetBalance(ctx, senderID, rt)
	if err != nil {
		return 0, err
	}
	if senderBalance < amount {
		return 0, errs.Newf(errs.InsufficientFunds, "Insufficient %s. Current: %d, Requested: %d", rt, senderBalance, amount)
	}

	newSenderBalance := senderBalance - amount
	err = h.Repo.InTx(ctx, func(ctx context.Context, tx store.Repository) error {
		if err := tx.SetBalance(ctx, senderID, rt, newSenderBalance); err != nil {
			return err
		}

		recipientBalance, err := tx.GetBalance(ctx, recipientID, rt)
		if err != nil {
			return err
		}
		if recipientBalance > math.MaxInt64-amount {
			return errs.Newf(errs.InvalidAmount, "recipient %s balance would overflow", rt)
		}
		return tx.SetBalance(ctx, recipientID, rt, recipientBalance+amount)
	})
	if err != nil {
		return 0, err
	}
	return newSenderBalance, nil
}
