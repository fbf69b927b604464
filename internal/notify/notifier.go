// Package notify pushes server-initiated messages to online players.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SkynetNext/game-server/internal/domain"
	"github.com/SkynetNext/game-server/internal/logger"
	"github.com/SkynetNext/game-server/internal/metrics"
	"github.com/SkynetNext/game-server/internal/session"
)

// fan-out concurrency for Broadcast
const broadcastParallelism = 64

// Notifier delivers best effort pushes. A player who is offline, or whose
// send fails, is skipped; failures never reach the caller.
type Notifier struct {
	registry     *session.Registry
	writeTimeout time.Duration
}

// New creates a notifier over registry. writeTimeout bounds each send.
func New(registry *session.Registry, writeTimeout time.Duration) *Notifier {
	return &Notifier{registry: registry, writeTimeout: writeTimeout}
}

// SendToPlayer pushes data to playerID if it is online
func (n *Notifier) SendToPlayer(ctx context.Context, playerID domain.PlayerID, data []byte) {
	conn, ok := n.registry.GetConnection(playerID)
	if !ok || !conn.IsOpen() {
		return
	}

	if n.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.writeTimeout)
		defer cancel()
	}

	if err := conn.Send(ctx, data); err != nil {
		metrics.NotificationsDropped.Inc()
		logger.L.Debug("notification dropped", logger.WithTrace(ctx,
			zap.String("player_id", playerID.String()),
			zap.Uint64("conn_id", conn.ID()),
			zap.Error(err),
		)...)
	}
}

// Broadcast pushes data to every player online at call time
func (n *Notifier) Broadcast(ctx context.Context, data []byte) {
	n.fanOut(ctx, n.registry.AllPlayerIDs(), data)
}

// BroadcastExcept is Broadcast without except
func (n *Notifier) BroadcastExcept(ctx context.Context, except domain.PlayerID, data []byte) {
	ids := n.registry.AllPlayerIDs()
	targets := ids[:0]
	for _, id := range ids {
		if id != except {
			targets = append(targets, id)
		}
	}
	n.fanOut(ctx, targets, data)
}

// SendToPlayers pushes data to each of ids concurrently
func (n *Notifier) SendToPlayers(ctx context.Context, ids []domain.PlayerID, data []byte) {
	n.fanOut(ctx, ids, data)
}

func (n *Notifier) fanOut(ctx context.Context, ids []domain.PlayerID, data []byte) {
	if len(ids) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(broadcastParallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			n.SendToPlayer(ctx, id, data)
			return nil
		})
	}
	_ = g.Wait()
}
