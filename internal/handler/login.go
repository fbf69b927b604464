package handler

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/SkynetNext/game-server/internal/domain"
	"github.com/SkynetNext/game-server/internal/errs"
	"github.com/SkynetNext/game-server/internal/events"
	"github.com/SkynetNext/game-server/internal/logger"
	"github.com/SkynetNext/game-server/internal/metrics"
	"github.com/SkynetNext/game-server/internal/protocol"
	"github.com/SkynetNext/game-server/internal/session"
)

// Login binds the device's player to conn. The online check and the
// registration run under the player's lock so two connections racing to
// log in the same player cannot both succeed.
func (h *Handlers) Login(ctx context.Context, conn session.Conn, payload json.RawMessage) error {
	var req protocol.LoginRequest
	if err := protocol.DecodePayload(payload, &req); err != nil {
		return err
	}

	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return errs.New(errs.InvalidDeviceID, "DeviceId is required")
	}

	if _, bound := h.Registry.GetPlayer(conn); bound {
		return errs.New(errs.AlreadyOnline, "Connection is already logged in")
	}

	v, err, _ := h.logins.Do(deviceID, func() (interface{}, error) {
		// shared by every caller for this device, so no single caller may cancel it
		return h.Repo.GetOrCreatePlayer(context.WithoutCancel(ctx), deviceID)
	})
	if err != nil {
		return errs.Wrap(errs.CreatePlayerFailed, err)
	}
	playerID := v.(domain.PlayerID)

	guard, err := h.lockOne(ctx, playerID)
	if err != nil {
		return err
	}
	if h.Registry.IsOnline(playerID) {
		guard.Release()
		logger.L.Info("duplicate login attempt", logger.WithTrace(ctx,
			zap.String("player_id", playerID.String()),
			zap.String("remote_addr", conn.RemoteAddr()),
		)...)
		return errs.New(errs.AlreadyOnline, "Player is already connected from another device")
	}
	h.Registry.Register(playerID, conn)
	guard.Release()

	metrics.ActiveSessions.Set(float64(h.Registry.Count()))
	h.Presence.Online(ctx, playerID, conn.RemoteAddr())

	h.Notifier.SendToPlayer(ctx, playerID, protocol.MustEncode(protocol.TypeLoginResponse, protocol.LoginResponse{PlayerID: playerID}))

	logger.L.Info("player logged in", logger.WithTrace(ctx,
		zap.String("player_id", playerID.String()),
		zap.String("device_id", deviceID),
	)...)

	h.notifyFriendsOnline(ctx, playerID)
	h.Events.Publish(ctx, events.PlayerLogin(playerID))
	return nil
}

func (h *Handlers) notifyFriendsOnline(ctx context.Context, playerID domain.PlayerID) {
	friends, err := h.Repo.FriendIDs(ctx, playerID)
	if err != nil {
		logger.L.Warn("failed to load friends for online notification", logger.WithTrace(ctx,
			zap.String("player_id", playerID.String()),
			zap.Error(err),
		)...)
		return
	}

	online := lo.Filter(friends, func(id domain.PlayerID, _ int) bool {
		return h.Registry.IsOnline(id)
	})
	if len(online) == 0 {
		return
	}
	h.Notifier.SendToPlayers(ctx, online, protocol.MustEncode(protocol.TypeFriendOnline, protocol.FriendOnline{PlayerID: playerID}))
}
