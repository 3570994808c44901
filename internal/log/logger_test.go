package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_AttachesServiceAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf, Service: "test-svc"})

	l.Info().Msg("dropped")
	require.Zero(t, buf.Len(), "info must be filtered at warn level")

	l.Warn().Str(FieldChannel, "BBC News").Msg("kept")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "test-svc", entry[FieldService])
	require.Equal(t, "BBC News", entry[FieldChannel])
	require.Equal(t, "warn", entry["level"])
}

func TestLevelFrom_InvalidFallsBackToInfo(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	require.Equal(t, "info", levelFrom("nonsense").String())
	require.Equal(t, "debug", levelFrom("debug").String())
}
