package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("bogus"))
}

func TestInit_FileOutput(t *testing.T) {
	prev := L
	defer func() { L = prev }()

	path := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, Init("info", FileOptions{Path: path, MaxSizeMB: 1}))

	L.Info("hello", zap.String("k", "v"))
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"timestamp"`)
}

func TestWithTrace_NoSpan(t *testing.T) {
	fields := WithTrace(context.Background(), zap.String("a", "b"))
	assert.Len(t, fields, 1)
}
