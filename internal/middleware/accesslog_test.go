package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/SkynetNext/game-server/internal/logger"
)

func TestAccessLogger_FlushesOnShutdown(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := logger.L
	logger.L = zap.New(core)
	defer func() { logger.L = prev }()

	InitAccessLogger(100, time.Hour)
	for i := 0; i < 3; i++ {
		LogAccess(context.Background(), &AccessLogEntry{
			RemoteAddr: "10.0.0.1:1234",
			ConnID:     uint64(i + 1),
			PlayerID:   "p",
			Messages:   2,
			Status:     StatusClosed,
		})
	}

	ShutdownAccessLogger()
	ShutdownAccessLogger()
	assert.Equal(t, 3, logs.FilterMessage("access_log").Len())

	// after shutdown entries are written directly
	LogAccess(context.Background(), &AccessLogEntry{RemoteAddr: "10.0.0.2:1", Status: StatusRejected})
	assert.Equal(t, 4, logs.FilterMessage("access_log").Len())

	entry := logs.FilterMessage("access_log").All()[0]
	assert.Equal(t, StatusClosed, entry.ContextMap()["status"])
}
