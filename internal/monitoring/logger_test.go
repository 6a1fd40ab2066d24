package monitoring

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/oscstack/internal/config"
)

func TestSetLogger(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	Logger().Info("custom logger")
	assert.Contains(t, buf.String(), "custom logger")

	// nil installs a discarding logger; it must not panic or write.
	buf.Reset()
	SetLogger(nil)
	Logger().Warn("muted")
	assert.Empty(t, buf.String())
	assert.NotNil(t, Logger())
}

func TestNewLogger_JSON(t *testing.T) {
	t.Setenv(EnvLogFormat, "")
	t.Setenv(EnvLogLevel, "")

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	require.NoError(t, err)

	log.With("component", "dispatch").Info("routed", "address", "/s_new")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &entry))
	assert.Equal(t, "routed", entry["msg"])
	assert.Equal(t, "dispatch", entry["component"])
	assert.Equal(t, "/s_new", entry["address"])
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	t.Setenv(EnvLogFormat, "")
	t.Setenv(EnvLogLevel, "")

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "warn"}, &out)
	require.NoError(t, err)

	log.Info("ignored")
	assert.Empty(t, out.String())

	log.Warn("kept")
	assert.Contains(t, out.String(), "kept")
}

func TestNewLogger_EnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogFormat, "text")

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	require.NoError(t, err)

	log.Debug("debug enabled")
	line := strings.TrimSpace(out.String())
	require.NotEmpty(t, line)
	assert.False(t, strings.HasPrefix(line, "{"), "expected text output, got %q", line)
	assert.Contains(t, line, "debug enabled")
}

func TestNewLogger_Rejects(t *testing.T) {
	t.Setenv(EnvLogFormat, "")
	t.Setenv(EnvLogLevel, "")

	_, err := newWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = newWithWriter(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
