package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// observed возвращает логгер, записи которого можно проверить
func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	zl := zap.New(core)
	return &Logger{Logger: zl, sugar: zl.Sugar()}, logs
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}

func TestInitLogger_JSONFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger := InitLogger(LogConfig{Level: "info", Format: "json", Output: path})

	logger.Debug("below level", OrderID("ord-0"))
	logger.WithComponent("gateway").Info("broker call failed",
		Broker("paper-a"),
		OrderID("ord-1"),
		Latency(12.5),
	)
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "broker call failed", entry["message"])
	assert.Equal(t, "gateway", entry["component"])
	assert.Equal(t, "paper-a", entry["broker"])
	assert.Equal(t, "ord-1", entry["order_id"])
	assert.Equal(t, 12.5, entry["latency_ms"])
	assert.Contains(t, entry, "ts")
}

func TestInitLogger_UnwritableOutputFallsBack(t *testing.T) {
	logger := InitLogger(LogConfig{Format: "text", Output: filepath.Join(t.TempDir(), "missing", "engine.log")})
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestLogger_ScopedHelpers(t *testing.T) {
	logger, logs := observed(zapcore.DebugLevel)

	logger.WithBroker("alpaca").WithSymbol("AAPL").WithOrder("ord-7").Info("order routed")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]interface{}{
		"broker":   "alpaca",
		"symbol":   "AAPL",
		"order_id": "ord-7",
	}, entries[0].ContextMap())
}

func TestDomainFields(t *testing.T) {
	tests := []struct {
		field zap.Field
		key   string
		want  interface{}
	}{
		{ParentID("ord-1"), "parent_id", "ord-1"},
		{CorrelationID("corr-1"), "correlation_id", "corr-1"},
		{Strategy("TWAP"), "strategy", "TWAP"},
		{Routing("ICEBERG"), "routing", "ICEBERG"},
		{Status("FILLED"), "status", "FILLED"},
		{Side("BUY"), "side", "BUY"},
		{Quantity(1500), "quantity", int64(1500)},
		{Price(187.25), "price", 187.25},
		{Score(82.5), "score", 82.5},
		{RequestID("req-1"), "request_id", "req-1"},
		{UserID("u-1"), "user_id", "u-1"},
		{Elapsed(1500 * time.Millisecond), "elapsed", 1500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			logger, logs := observed(zapcore.InfoLevel)
			logger.Info("field", tt.field)
			require.Equal(t, 1, logs.Len())
			assert.Equal(t, tt.want, logs.All()[0].ContextMap()[tt.key])
		})
	}
}

func TestGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(prev) })

	logger, logs := observed(zapcore.InfoLevel)
	SetGlobalLogger(logger)
	require.Same(t, logger, L())

	Debug("hidden")
	Info("engine started", Int("shards", 4))
	Warnf("broker %s degraded", "paper-b")
	Error("journal write failed", Err(os.ErrClosed))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "engine started", entries[0].Message)
	assert.Equal(t, int64(4), entries[0].ContextMap()["shards"])
	assert.Equal(t, "broker paper-b degraded", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)

	// Nil-логгер сужается от глобального
	var nilLogger *Logger
	nilLogger.WithComponent("router").Info("scoped")
	require.Equal(t, 4, logs.Len())
	assert.Equal(t, "router", logs.All()[3].ContextMap()["component"])
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.Error("discarded", OrderID("x"))
	assert.NotNil(t, logger.Sugar())
	assert.False(t, logger.Core().Enabled(zapcore.ErrorLevel))
}
