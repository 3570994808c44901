package fetcher

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/iptvmine/internal/filter"
	"github.com/voyagen/iptvmine/internal/models"
)

var strict = ParseOptions{Strict: true}

func TestParseExtractsNameLogoCategory(t *testing.T) {
	text := "#EXTM3U\n" +
		`#EXTINF:-1 tvg-logo="http://x/logo.png" group-title="News",BBC News` + "\n" +
		"http://example.com/bbc.m3u8\n"

	got, stats, err := ParseString(text, strict)
	require.NoError(t, err)
	want := []models.Channel{{
		Name:       "BBC News",
		LogoURL:    "http://x/logo.png",
		StreamURL:  "http://example.com/bbc.m3u8",
		StreamType: "HTTP",
		Category:   "News",
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("channels mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Stats{ValidURLs: 1, Channels: 1}, stats)
}

func TestParseMetadataFollowedByMetadata(t *testing.T) {
	text := "#EXTINF:-1,First\n#EXTINF:-1,Second\nhttp://a.example/s.m3u8\n"
	got, _, err := ParseString(text, strict)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Second", got[0].Name)
}

func TestParseURLWithoutMetadataIsDropped(t *testing.T) {
	got, stats, err := ParseString("#EXTM3U\nhttp://a.example/x.m3u8\n", strict)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, stats.ValidURLs)
}

func TestParseStrictVersusLenient(t *testing.T) {
	text := "#EXTINF:-1,Page\nhttp://example.com/page.html\n"

	got, stats, err := ParseString(text, strict)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, stats.InvalidURLs)

	got, _, err = ParseString(text, ParseOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "http://example.com/page.html", got[0].StreamURL)
}

func TestParseStrictKeepsPendingAfterRejectedURL(t *testing.T) {
	text := "#EXTINF:-1,Kept\nhttp://example.com/page.html\nhttp://example.com/live/1\n"
	got, _, err := ParseString(text, strict)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Kept", got[0].Name)
	assert.Equal(t, "http://example.com/live/1", got[0].StreamURL)
}

func TestIsStreamURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"http://example.com/bbc.m3u8", true},
		{"https://cdn.example/video.mp4", true},
		{"http://example.com/stream/42", true},
		{"http://host:8080/abc", true},
		{"http://example.com/page.html", false},
		{"rtmp://example.com/live.m3u8", false},
		{"ftp://example.com/a.ts", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStreamURL(tt.url))
		})
	}
}

func TestParseCategoryAndLogoDefaults(t *testing.T) {
	tests := []struct {
		name     string
		meta     string
		category string
		logo     string
	}{
		{"group-title", `#EXTINF:-1 group-title="Sports",X`, "Sports", models.DefaultLogoURL},
		{"case-insensitive attribute", `#EXTINF:-1 GROUP-TITLE="Kids",X`, "Kids", models.DefaultLogoURL},
		{"tvg-group fallback", `#EXTINF:-1 tvg-group="Music",X`, "Music", models.DefaultLogoURL},
		{"empty group", `#EXTINF:-1 group-title="",X`, models.CategoryUncategorized, models.DefaultLogoURL},
		{"no group", `#EXTINF:-1 tvg-logo="https://l.example/a.png",X`, models.CategoryUncategorized, "https://l.example/a.png"},
		{"trimmed group", `#EXTINF:-1 group-title="  News  ",X`, "News", models.DefaultLogoURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := ParseString(tt.meta+"\nhttp://a.example/x.m3u8\n", strict)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.category, got[0].Category)
			assert.Equal(t, tt.logo, got[0].LogoURL)
		})
	}
}

func TestParseNameAfterLastComma(t *testing.T) {
	text := `#EXTINF:-1 tvg-name="a,b" group-title="News",Real Name` + "\nhttp://a.example/x.m3u8\n" +
		`#EXTINF:-1 group-title="News"` + "\nhttp://a.example/y.m3u8\n" +
		"#EXTINF:-1,\nhttp://a.example/z.m3u8\n"
	got, stats, err := ParseString(text, strict)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Real Name", got[0].Name)
	assert.Equal(t, 3, stats.ValidURLs)
}

func TestParseIgnoresDirectivesAndCRLF(t *testing.T) {
	text := "#EXTM3U\r\n#EXTINF:-1 group-title=\"News\",CRLF Channel\r\n#EXTVLCOPT:http-user-agent=x\r\n\r\nhttp://a.example/c.m3u8\r\n"
	got, _, err := ParseString(text, strict)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CRLF Channel", got[0].Name)
	assert.Equal(t, "http://a.example/c.m3u8", got[0].StreamURL)
}

func TestParseAppliesPolicy(t *testing.T) {
	policy := filter.New()
	policy.AddCustomCategory("Shopping")
	text := `#EXTINF:-1 group-title="Adult",Late Show` + "\nhttp://a.example/1.m3u8\n" +
		`#EXTINF:-1 group-title="Entertainment",XXX Channel` + "\nhttp://a.example/2.m3u8\n" +
		`#EXTINF:-1 group-title="shopping",QVC` + "\nhttp://a.example/3.m3u8\n" +
		`#EXTINF:-1 group-title="News",BBC News` + "\nhttp://a.example/4.m3u8\n"

	got, stats, err := ParseString(text, ParseOptions{Strict: true, Policy: policy})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BBC News", got[0].Name)
	assert.Equal(t, 3, stats.Blocked)
	assert.Equal(t, 1, stats.Channels)
}

func TestParseIsIdempotent(t *testing.T) {
	text := "#EXTM3U\n" +
		`#EXTINF:-1 tvg-logo="http://x/1.png" group-title="News",One` + "\nhttp://a.example/1.m3u8\n" +
		`#EXTINF:-1 group-title="Music",Two` + "\nhttp://a.example:8000/live\n" +
		"#EXTINF:-1,Three\nhttp://a.example/3.mpd\n"
	for _, opts := range []ParseOptions{strict, {}} {
		first, _, err := ParseString(text, opts)
		require.NoError(t, err)
		second, _, err := ParseString(text, opts)
		require.NoError(t, err)
		require.Len(t, first, 3)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Fatalf("second parse differs (-first +second):\n%s", diff)
		}
	}
}
