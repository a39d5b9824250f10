package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerProductionJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "production", "")
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())

	l.Debug().Msg("hidden")
	l.Info().Str("task_id", "task-1").Msg("published")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "published", line["message"])
	assert.Equal(t, "task-1", line["task_id"])
	assert.Equal(t, "fieldproof", line["service"])
	assert.Contains(t, line, "time")
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, zerolog.DebugLevel, NewLoggerTo(&buf, "development", "").GetLevel())
	assert.Equal(t, zerolog.WarnLevel, NewLoggerTo(&buf, "development", "warn").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewLoggerTo(&buf, "production", "nonsense").GetLevel())
}
