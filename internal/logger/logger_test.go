package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogLevelFromEnv(t *testing.T) {
	tests := []struct {
		name  string
		debug string
		dev   bool
		want  LogLevel
	}{
		{"dev defaults to debug", "", true, LevelDebug},
		{"dev with DEBUG=false", "false", true, LevelInfo},
		{"dev with DEBUG=0", "0", true, LevelInfo},
		{"prod defaults to info", "", false, LevelInfo},
		{"prod with DEBUG=true", "TRUE", false, LevelDebug},
		{"prod with DEBUG=1", "1", false, LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DEBUG", tt.debug)
			assert.Equal(t, tt.want, GetLogLevelFromEnv(tt.dev))
		})
	}
}

func TestConfigureWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: LevelInfo, Output: &buf})
	t.Cleanup(func() { Configure(Options{Level: LevelInfo}) })

	Debugf("hidden %d", 1)
	Infof("relay listening on %s", ":2005")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"message":"relay listening on :2005"`)
	assert.Contains(t, out, `"service":"copilot"`)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestConfigureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-yet", "copilot.log")

	closer, err := ConfigureFile(path, LevelWarn)
	require.NoError(t, err)
	t.Cleanup(func() { Configure(Options{Level: LevelInfo}) })

	Infof("skipped")
	log := WithField("session", "abc")
	log.Warn().Msg("stream stalled")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "skipped")
	assert.Contains(t, string(data), `"session":"abc"`)
}
