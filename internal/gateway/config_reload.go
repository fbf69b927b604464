package gateway

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/SkynetNext/game-server/internal/admission"
	"github.com/SkynetNext/game-server/internal/config"
	"github.com/SkynetNext/game-server/internal/logger"
)

// UpdateConfig applies a reloaded configuration. The latency threshold,
// message size limit and per-IP limits take effect for the next message or
// connection; the global connection limit only changes on restart.
func (g *Gateway) UpdateConfig(newConfig *config.Config) error {
	// Validate new configuration
	if err := config.ValidateConfig(newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	g.configMu.Lock()
	defer g.configMu.Unlock()

	old := g.config.Admission
	next := newConfig.Admission

	if next.LatencyThresholdMs != old.LatencyThresholdMs {
		g.latencyThreshold.Store(int64(next.LatencyThreshold()))
		logger.L.Info("latency threshold updated",
			zap.Int("old_ms", old.LatencyThresholdMs),
			zap.Int("new_ms", next.LatencyThresholdMs),
		)
	}

	if next.MaxMessageSize != old.MaxMessageSize {
		g.maxMessageSize.Store(int64(next.MaxMessageSize))
		logger.L.Info("max message size updated",
			zap.Int("old", old.MaxMessageSize),
			zap.Int("new", next.MaxMessageSize),
		)
	}

	// Update IP limiter if security settings changed
	if next.MaxConnectionsPerIP != old.MaxConnectionsPerIP ||
		next.ConnectionRateLimit != old.ConnectionRateLimit {
		g.ipLimiter = admission.NewIPLimiter(next.MaxConnectionsPerIP, next.ConnectionRateLimit)
		logger.L.Info("IP limiter updated",
			zap.Int("old_max_per_ip", old.MaxConnectionsPerIP),
			zap.Int("new_max_per_ip", next.MaxConnectionsPerIP),
			zap.Int("old_rate_limit", old.ConnectionRateLimit),
			zap.Int("new_rate_limit", next.ConnectionRateLimit),
		)
	}

	if next.MaxConnections != old.MaxConnections {
		logger.L.Warn("max_connections change requires a restart",
			zap.Int("current", old.MaxConnections),
			zap.Int("requested", next.MaxConnections),
		)
	}

	// the limiter keeps its startup size, so the stored config does too
	applied := *newConfig
	applied.Admission.MaxConnections = old.MaxConnections
	g.config = &applied

	logger.L.Info("configuration updated successfully")
	return nil
}

// GetConfig returns the current configuration (thread-safe)
func (g *Gateway) GetConfig() *config.Config {
	g.configMu.RLock()
	defer g.configMu.RUnlock()
	return g.config
}
