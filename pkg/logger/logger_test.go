package logger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsRunFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(nil) })

	ctx := ContextWith(context.Background(), RunIDKey, "run-1")
	ctx = ContextWith(ctx, ResourceKey, "campaign")
	ctx = ContextWith(ctx, CustomerKey, "1234567890")

	WithContext(ctx).Info("extracting")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "campaign", fields["resource"])
	assert.Equal(t, "1234567890", fields["customer_id"])
}

func TestWithContextWithoutValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(nil) })

	WithContext(context.Background()).Warn("plain")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].Context)
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := newLogger(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestInitWithRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adsync.log")
	require.NoError(t, Init(Config{
		Level:       "debug",
		Encoding:    "console",
		OutputPaths: []string{"stderr"},
		File:        &FileConfig{Path: path, MaxSizeMB: 1},
	}))
	t.Cleanup(func() { Set(nil) })

	Info("written to file", zap.String("k", "v"))
	_ = Sync()

	assert.FileExists(t, path)
}
