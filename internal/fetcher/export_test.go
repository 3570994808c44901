package fetcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/iptvmine/internal/models"
)

func sampleChannels() []models.Channel {
	return []models.Channel{
		models.NewChannel("BBC News", "http://x/logo.png", "http://example.com/bbc.m3u8", "News"),
		models.NewChannel("Jazz FM", "", "https://radio.example:8443/jazz", "Music"),
		models.NewChannel("Plain", "", "http://example.com/page", ""),
	}
}

func TestWriteM3U(t *testing.T) {
	var b strings.Builder
	require.NoError(t, WriteM3U(&b, sampleChannels()[:1]))
	want := "#EXTM3U\n" +
		`#EXTINF:-1 tvg-logo="http://x/logo.png" group-title="News",BBC News` + "\n" +
		"http://example.com/bbc.m3u8\n"
	assert.Equal(t, want, b.String())
}

func TestExportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.m3u")
	channels := sampleChannels()
	require.NoError(t, ExportFile(path, channels))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	got, _, err := ParseString(string(data), ParseOptions{Strict: true})
	require.NoError(t, err)

	// The last channel does not pass the strict stream heuristic.
	if diff := cmp.Diff(channels[:2], got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestExportFileReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.m3u")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))
	require.NoError(t, ExportFile(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n", string(data))
}

func TestFilterByCategory(t *testing.T) {
	channels := sampleChannels()
	assert.Len(t, FilterByCategory(channels, models.CategoryAll), 3)
	assert.Len(t, FilterByCategory(channels, ""), 3)

	music := FilterByCategory(channels, "Music")
	require.Len(t, music, 1)
	assert.Equal(t, "Jazz FM", music[0].Name)
	assert.Empty(t, FilterByCategory(channels, "Sports"))
}
