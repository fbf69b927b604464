package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "/ws", cfg.Server.WebsocketPath)
	assert.Equal(t, 1000, cfg.Admission.MaxConnections)
	assert.Equal(t, 50, cfg.Admission.LatencyThresholdMs)
	assert.Equal(t, 1024*1024, cfg.Admission.MaxMessageSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Admission.LatencyThreshold())
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.True(t, cfg.Storage.MigrateEnabled())
	assert.Equal(t, "game.events", cfg.Events.SubjectPrefix)
	assert.Equal(t, 30*time.Second, cfg.GracefulShutdownTimeout)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  listen_addr: ":9000"
  lock_timeout: 2s
admission:
  max_connections: 10
  max_message_size: 4096
storage:
  driver: postgres
  dsn: postgres://localhost/game
  migrate: false
`))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.Server.LockTimeout)
	assert.Equal(t, 10, cfg.Admission.MaxConnections)
	assert.Equal(t, 4096, cfg.Admission.MaxMessageSize)
	assert.False(t, cfg.Storage.MigrateEnabled())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "bad driver", yaml: "storage: {driver: mongo}"},
		{name: "postgres without dsn", yaml: "storage: {driver: postgres}"},
		{name: "negative max connections", yaml: "admission: {max_connections: -1}"},
		{name: "bad port", yaml: "server: {health_check_port: 70000}"},
		{name: "not yaml", yaml: "server: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestHotReloadManager_WatchConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admission: {latency_threshold_ms: 50}"), 0o644))

	initial, err := Load(path)
	require.NoError(t, err)

	applied := make(chan *Config, 4)
	mgr := NewHotReloadManager(initial, func(c *Config) error {
		applied <- c
		return nil
	})

	require.NoError(t, os.WriteFile(path, []byte("admission: {latency_threshold_ms: 75}"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = mgr.WatchConfigFile(ctx, path, 10*time.Millisecond) }()

	select {
	case c := <-applied:
		assert.Equal(t, 75, c.Admission.LatencyThresholdMs)
	case <-time.After(2 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestHotReloadManager_RejectsInvalid(t *testing.T) {
	mgr := NewHotReloadManager(Default(), nil)
	bad := Default()
	bad.Admission.MaxConnections = 0

	assert.Error(t, mgr.UpdateConfig(bad))
	assert.Equal(t, 1000, mgr.GetConfig().Admission.MaxConnections)
}

func TestHotReloadManager_WatchSkipsUnchangedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admission: {max_message_size: 4096}"), 0o644))

	var applied atomic.Int32
	mgr := NewHotReloadManager(Default(), func(*Config) error {
		applied.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = mgr.WatchConfigFile(ctx, path, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return applied.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, 4096, mgr.GetConfig().Admission.MaxMessageSize)
}
