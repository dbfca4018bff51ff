// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/formrunner/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// -- Test Cases --

func TestNewLogger(t *testing.T) {
	t.Run("console output is colorized", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "formrunner",
			Colors:      config.ColorConfig{Info: "blue"},
		}
		logger := NewLogger(cfg, zapcore.AddSync(&buf))
		logger.Info("profile swept")
		logger.Warn("advance control missing")
		require.NoError(t, logger.Sync())

		out := buf.String()
		assert.Contains(t, out, colorBlue+"INFO"+colorReset, "configured color wins")
		assert.Contains(t, out, colorYellow+"WARN"+colorReset, "blank colors fall back to defaults")
		assert.Contains(t, out, "formrunner.")
		assert.Contains(t, out, "profile swept")
	})

	t.Run("json output is structured", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := config.LoggerConfig{Level: "info", Format: "json", ServiceName: "jsontest"}
		logger := NewLogger(cfg, zapcore.AddSync(&buf))
		logger.Warn("job failed", zap.String("session_id", "acct-1-abc"))
		require.NoError(t, logger.Sync())

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "jsontest", entry["logger"])
		assert.Equal(t, "job failed", entry["msg"])
		assert.Equal(t, "acct-1-abc", entry["session_id"])
	})

	t.Run("level filter applies", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(config.LoggerConfig{Level: "warn", Format: "json"}, zapcore.AddSync(&buf))
		logger.Info("hidden")
		require.NoError(t, logger.Sync())
		assert.Empty(t, buf.String())
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(config.LoggerConfig{Level: "loud", Format: "json"}, zapcore.AddSync(&buf))
		logger.Debug("hidden")
		logger.Info("shown")
		require.NoError(t, logger.Sync())
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("file sink receives entries", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "formrunner.log")
		var buf bytes.Buffer
		cfg := config.LoggerConfig{Level: "debug", Format: "console", LogFile: logPath, MaxSize: 1}
		logger := NewLogger(cfg, zapcore.AddSync(&buf))
		logger.Error("this goes to the file")
		_ = logger.Sync()

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(content), "this goes to the file")
		assert.Contains(t, string(content), `"level":"ERROR"`, "file sink is always JSON")
	})
}

func TestInitialize(t *testing.T) {
	t.Run("only initializes once", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		var buf bytes.Buffer
		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "first"}, zapcore.AddSync(&buf))
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "second"}, zapcore.AddSync(&buf))
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("test")
		_ = second.Sync()
		assert.Contains(t, buf.String(), "first")
		assert.NotContains(t, buf.String(), "second")
	})

	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		assert.NotNil(t, GetLogger())
	})
}

func TestJobLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	JobLogger(zap.New(core), "job-1", "acct-1-abc").Info("launched")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "job-1", fields["job_id"])
	assert.Equal(t, "acct-1-abc", fields["session_id"])
}
