package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"WARNING", zerolog.WarnLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestJSONLoggerCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(FormatJSON, "debug", &buf)
	require.NoError(t, err)

	log.Error("Aligner", errors.New("boom"), map[string]interface{}{"matches": 3})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Aligner", entry["component"])
	assert.Equal(t, "boom", entry["error"])
	assert.EqualValues(t, 3, entry["matches"])
	assert.Equal(t, "error", entry["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(FormatJSON, "warn", &buf)
	require.NoError(t, err)

	log.Debug("Server", "hidden", nil)
	log.Info("Server", "hidden", nil)
	assert.Zero(t, buf.Len())

	log.Warning("Server", "shown", nil)
	assert.Contains(t, buf.String(), "shown")
}

func TestUnknownFormat(t *testing.T) {
	_, err := New("xml", "info", nil)
	assert.Error(t, err)
}

func TestTextLoggerCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(FormatText, "info", &buf)
	require.NoError(t, err)

	log.Debug("Server", "hidden", nil)
	assert.Zero(t, buf.Len())

	log.Warning("Server", "slow request", map[string]interface{}{"duration_ms": 1200})
	out := buf.String()
	assert.Contains(t, out, "component=Server")
	assert.Contains(t, out, "duration_ms=1200")
	assert.Contains(t, out, "level=warning")

	buf.Reset()
	log.Error("Aligner", errors.New("boom"), nil)
	assert.Contains(t, buf.String(), "error=boom")
}

func TestLogrusLevelMapping(t *testing.T) {
	assert.Equal(t, "debug", logrusLevel(zerolog.DebugLevel).String())
	assert.Equal(t, "warning", logrusLevel(zerolog.WarnLevel).String())
	assert.Equal(t, "info", logrusLevel(zerolog.NoLevel).String())
}
