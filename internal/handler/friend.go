package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/SkynetNext/game-server/internal/errs"
	"github.com/SkynetNext/game-server/internal/events"
	"github.com/SkynetNext/game-server/internal/logger"
	"github.com/SkynetNext/game-server/internal/protocol"
	"github.com/SkynetNext/game-server/internal/session"
)

// AddFriend stores a symmetric friendship and tells the other player if online
func (h *Handlers) AddFriend(ctx context.Context, conn session.Conn, payload json.RawMessage) error {
	playerID, err := h.authenticated(conn)
	if err != nil {
		return err
	}

	var req protocol.AddFriendRequest
	if err := protocol.DecodePayload(payload, &req); err != nil {
		return err
	}

	friendID := req.FriendPlayerID
	if playerID == friendID {
		return errs.New(errs.InvalidFriend, "Cannot add yourself as a friend")
	}

	if err := h.Repo.AddFriendship(ctx, playerID, friendID); err != nil {
		return errs.Wrap(errs.AddFriendshipFailed, err)
	}

	h.Notifier.SendToPlayer(ctx, friendID, protocol.MustEncode(protocol.TypeFriendAdded, protocol.FriendAdded{
		ByPlayerID: playerID,
	}))

	logger.L.Info("friendship created", logger.WithTrace(ctx,
		zap.String("player_id", playerID.String()),
		zap.String("friend_id", friendID.String()),
	)...)
	h.Events.Publish(ctx, events.FriendAdded(playerID, friendID))
	return nil
}
