package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_WritesJSONWithServiceField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	l, err := New(Config{Level: "debug", Encoding: "json", OutputPath: path, Service: "sjscal-test"})
	require.NoError(t, err)

	l.Info("step finished", zap.String("step", "checkout"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	require.Equal(t, "sjscal-test", entry["service"])
	require.Equal(t, "checkout", entry["step"])
	require.Equal(t, "step finished", entry["message"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	require.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	require.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	require.Equal(t, zapcore.InfoLevel, parseLevel("loud"))
}

func TestInit_ReplacesGlobals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.log")

	l, err := Init(Config{Level: "warn", OutputPath: path, Service: "sjscal-runner"})
	require.NoError(t, err)
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	require.Same(t, l, zap.L())
	zap.L().Info("dropped below warn")
	zap.L().Warn("kept")
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "dropped below warn")
	require.Contains(t, string(data), `"service":"sjscal-runner"`)
}
