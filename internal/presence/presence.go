// Package presence mirrors the set of online players into Redis so that
// dashboards and other processes can see who is connected.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SkynetNext/game-server/internal/config"
	"github.com/SkynetNext/game-server/internal/domain"
	"github.com/SkynetNext/game-server/internal/logger"
)

// Tracker records login and logout of players
type Tracker interface {
	Online(ctx context.Context, playerID domain.PlayerID, remoteAddr string)
	Offline(ctx context.Context, playerID domain.PlayerID)
}

// Nop ignores presence changes
type Nop struct{}

func (Nop) Online(context.Context, domain.PlayerID, string) {}
func (Nop) Offline(context.Context, domain.PlayerID)        {}

// Entry is the value stored per online player
type Entry struct {
	RemoteAddr string    `json:"remoteAddr"`
	Since      time.Time `json:"since"`
}

// Mirror keeps a Redis hash <prefix>presence:<instance> of player -> Entry
type Mirror struct {
	rdb      *redis.Client
	prefix   string
	instance string
}

// NewMirror creates a Redis backed tracker. instance separates the hashes
// of different server processes.
func NewMirror(cfg *config.RedisConfig, instance string) *Mirror {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return NewMirrorFromClient(rdb, cfg.KeyPrefix, instance)
}

// NewMirrorFromClient wraps an existing client
func NewMirrorFromClient(rdb *redis.Client, prefix, instance string) *Mirror {
	return &Mirror{rdb: rdb, prefix: prefix, instance: instance}
}

// Key returns the hash holding this instance's online players
func (m *Mirror) Key() string {
	return m.prefix + "presence:" + m.instance
}

// Ping checks Redis connection
func (m *Mirror) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (m *Mirror) Close() error {
	return m.rdb.Close()
}

// Online records playerID. Errors are logged, never returned.
func (m *Mirror) Online(ctx context.Context, playerID domain.PlayerID, remoteAddr string) {
	data, _ := json.Marshal(Entry{RemoteAddr: remoteAddr, Since: time.Now().UTC()})
	if err := m.rdb.HSet(ctx, m.Key(), playerID.String(), data).Err(); err != nil {
		logger.L.Warn("failed to mirror presence", zap.String("player_id", playerID.String()), zap.Error(err))
	}
}

// Offline removes playerID
func (m *Mirror) Offline(ctx context.Context, playerID domain.PlayerID) {
	if err := m.rdb.HDel(ctx, m.Key(), playerID.String()).Err(); err != nil {
		logger.L.Warn("failed to clear presence", zap.String("player_id", playerID.String()), zap.Error(err))
	}
}

// Count returns how many players the mirror holds
func (m *Mirror) Count(ctx context.Context) (int64, error) {
	n, err := m.rdb.HLen(ctx, m.Key()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count presence: %w", err)
	}
	return n, nil
}

// Lookup returns the entry of playerID
func (m *Mirror) Lookup(ctx context.Context, playerID domain.PlayerID) (Entry, bool, error) {
	data, err := m.rdb.HGet(ctx, m.Key(), playerID.String()).Result()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to load presence: %w", err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return Entry{}, false, fmt.Errorf("failed to parse presence: %w", err)
	}
	return e, true, nil
}

// Reset drops the whole hash; run at startup and shutdown since a fresh
// process holds no sessions
func (m *Mirror) Reset(ctx context.Context) error {
	if err := m.rdb.Del(ctx, m.Key()).Err(); err != nil {
		return fmt.Errorf("failed to reset presence: %w", err)
	}
	return nil
}
