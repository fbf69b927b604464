package config

import (
	"bytes"
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SkynetNext/game-server/internal/logger"
	"github.com/SkynetNext/game-server/internal/metrics"
)

// HotReloadManager manages hot reloading of configuration
type HotReloadManager struct {
	config     *Config
	mu         sync.RWMutex
	reloadFunc func(*Config) error
}

// NewHotReloadManager creates a new hot reload manager
func NewHotReloadManager(initialConfig *Config, reloadFunc func(*Config) error) *HotReloadManager {
	return &HotReloadManager{
		config:     initialConfig,
		reloadFunc: reloadFunc,
	}
}

// GetConfig returns the current configuration (thread-safe)
func (h *HotReloadManager) GetConfig() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// UpdateConfig validates newConfig, hands it to the reload callback and
// keeps it as current on success
func (h *HotReloadManager) UpdateConfig(newConfig *Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := validateConfig(newConfig); err != nil {
		return err
	}

	if h.reloadFunc != nil {
		if err := h.reloadFunc(newConfig); err != nil {
			return err
		}
	}

	h.config = newConfig
	return nil
}

// WatchConfigFile polls configPath every interval until ctx is done. Only
// content that differs from the last seen file is parsed, so an unchanged
// or still broken file is not reapplied or reported again. A file that fails
// to load or validate leaves the current config in place.
func (h *HotReloadManager) WatchConfigFile(ctx context.Context, configPath string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			data, err := os.ReadFile(configPath)
			if err != nil {
				metrics.ConfigReloadErrors.Inc()
				logger.L.Warn("config reload failed", zap.String("path", configPath), zap.Error(err))
				continue
			}
			if last != nil && bytes.Equal(data, last) {
				continue
			}
			last = data

			newConfig, err := Parse(data)
			if err != nil {
				metrics.ConfigReloadErrors.Inc()
				logger.L.Warn("config reload failed", zap.String("path", configPath), zap.Error(err))
				continue
			}

			if err := h.UpdateConfig(newConfig); err != nil {
				metrics.ConfigReloadErrors.Inc()
				logger.L.Warn("config update rejected", zap.Error(err))
				continue
			}
			logger.L.Info("configuration reloaded", zap.String("path", configPath))
		}
	}
}
