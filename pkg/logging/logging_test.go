package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{"debug level", "debug", zerolog.DebugLevel},
		{"warn level", "warn", zerolog.WarnLevel},
		{"default info", "", zerolog.InfoLevel},
		{"garbage falls back to info", "loud", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New("test", "prod", tt.level)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestJSONOutputCarriesService(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "api-server", "prod", "info")

	logger.Info().Str("doctor_id", "d-1").Msg("slots computed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "api-server", line["service"])
	assert.Equal(t, "d-1", line["doctor_id"])
	assert.Equal(t, "slots computed", line["message"])
}

func TestNopDiscards(t *testing.T) {
	logger := Nop()
	assert.Equal(t, zerolog.Disabled, logger.GetLevel())
}
