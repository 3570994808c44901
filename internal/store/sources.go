package store

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/voyagen/iptvmine/internal/models"
)

// SourceStore persists the ordered list of playlist sources.
type SourceStore interface {
	// SourceURLs returns the enabled source URLs by priority, or the built-in
	// default when nothing is configured.
	SourceURLs(ctx context.Context) ([]string, error)
	ListSources(ctx context.Context) ([]models.SourceConfig, error)
	// SetSources replaces the list. Order defines priority.
	SetSources(ctx context.Context, urls []string) error
	// AddSource appends url and reports whether it was added. Blank, invalid
	// and duplicate URLs are refused without error.
	AddSource(ctx context.Context, url string) (bool, error)
	RemoveSource(ctx context.Context, url string) error
	ResetToDefaults(ctx context.Context) error
}

// DefaultSources returns the built-in source list.
func DefaultSources() []string {
	return []string{models.DefaultSourceURL}
}

var sourceSchemes = []string{"http://", "https://", "rtmp://", "rtsp://", "udp://", "rtp://"}

// ValidSourceURL reports whether u uses one of the accepted stream schemes.
func ValidSourceURL(u string) bool {
	if u == "" {
		return false
	}
	for _, s := range sourceSchemes {
		if strings.HasPrefix(u, s) {
			return true
		}
	}
	return false
}

// cleanURLs trims, drops blanks and keeps the first of each duplicate.
func cleanURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u != "" && !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}

func newSourceConfig(rawURL string, priority int) models.SourceConfig {
	return models.SourceConfig{
		ID:       uuid.NewString(),
		URL:      rawURL,
		Name:     sourceName(rawURL),
		Enabled:  true,
		Priority: priority,
	}
}

// sourceName derives a display name from the URL host.
func sourceName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}

// enabledURLs orders sources by priority and applies the default fallback.
func enabledURLs(sources []models.SourceConfig) []string {
	sorted := slices.Clone(sources)
	slices.SortStableFunc(sorted, func(a, b models.SourceConfig) int { return a.Priority - b.Priority })
	var out []string
	for _, s := range sorted {
		if s.Enabled {
			out = append(out, s.URL)
		}
	}
	if len(out) == 0 {
		return DefaultSources()
	}
	return out
}
