package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestNewWithOptionsWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")

	log, err := NewWithOptions(Options{Level: "debug", File: path})
	require.NoError(t, err)

	log.WithTurn("corr-1", "user-1", "msg-1").Info("turn completed")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"turn completed"`)
	assert.Contains(t, string(data), `"user_id":"user-1"`)
}

func TestCorrelationID(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "corr-1")
	assert.Equal(t, "corr-1", CorrelationID(ctx))
	assert.Empty(t, CorrelationID(context.Background()))
}
