package fetcher

import (
	"bufio"
	"io"
	"strings"

	"github.com/voyagen/iptvmine/internal/filter"
	"github.com/voyagen/iptvmine/internal/models"
)

const (
	extinfPrefix = "#EXTINF:"
	// Handle long lines (some M3U have very long EXTINF lines).
	maxLineSize = 1 << 20
)

// streamHints are the substrings that make an http(s) line look like a stream in strict mode.
var streamHints = []string{".m3u8", ".mp4", ".avi", ".mkv", ".ts", ".mpd", "stream", "live"}

// ParseOptions selects the URL acceptance mode and the content policy.
// Strict is used for the catalog; the lenient mode accepts any line starting
// with "http" and is used for liveness re-checks.
type ParseOptions struct {
	Strict bool
	Policy *filter.Policy
}

// Stats counts what a parse pass saw.
type Stats struct {
	ValidURLs   int
	InvalidURLs int
	Blocked     int
	Channels    int
}

// pending is the record being assembled from the last metadata line.
type pending struct {
	name     string
	logo     string
	category string
}

func (p *pending) reset() {
	*p = pending{logo: models.DefaultLogoURL}
}

// Parse reads an extended M3U playlist and returns the accepted channels in order.
func Parse(r io.Reader, opts ParseOptions) ([]models.Channel, Stats, error) {
	var (
		channels []models.Channel
		stats    Stats
		cur      pending
	)
	cur.reset()

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLineSize)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, extinfPrefix):
			// A previous metadata line without a URL is dropped here.
			cur = pending{
				name:     extractName(line),
				logo:     extractLogo(line, opts.Strict),
				category: extractCategory(line),
			}
		case trimmed == "":
		case strings.HasPrefix(trimmed, "#"):
		default:
			if !acceptURL(trimmed, opts.Strict) {
				if strings.HasPrefix(trimmed, "http") {
					stats.InvalidURLs++
				}
				continue
			}
			stats.ValidURLs++
			if cur.name != "" {
				if opts.Policy != nil && opts.Policy.Rejects(cur.name, cur.category) {
					stats.Blocked++
				} else {
					channels = append(channels, models.NewChannel(cur.name, cur.logo, trimmed, cur.category))
				}
			}
			cur.reset()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, err
	}
	stats.Channels = len(channels)
	return channels, stats, nil
}

// ParseString is Parse over an in-memory playlist.
func ParseString(text string, opts ParseOptions) ([]models.Channel, Stats, error) {
	return Parse(strings.NewReader(text), opts)
}

func acceptURL(line string, strict bool) bool {
	if !strict {
		return strings.HasPrefix(line, "http")
	}
	return IsStreamURL(line)
}

// IsStreamURL is the strict stream-URL heuristic: an http(s) URL that carries
// a known extension/keyword hint or has at least three colon-separated segments.
func IsStreamURL(u string) bool {
	if !isHTTPURL(u) {
		return false
	}
	for _, h := range streamHints {
		if strings.Contains(u, h) {
			return true
		}
	}
	return len(strings.Split(u, ":")) >= 3
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// extractName returns the text after the last comma, or "" when there is none.
func extractName(line string) string {
	i := strings.LastIndex(line, ",")
	if i < 0 || i == len(line)-1 {
		return ""
	}
	return strings.TrimSpace(line[i+1:])
}

// extractLogo returns the first quoted token that looks like a URL.
func extractLogo(line string, strict bool) string {
	for _, part := range strings.Split(line, `"`) {
		if strict && isHTTPURL(part) || !strict && strings.HasPrefix(part, "http") {
			return part
		}
	}
	return models.DefaultLogoURL
}

func extractCategory(line string) string {
	lower := strings.ToLower(line)
	for _, attr := range []string{"group-title=", "tvg-group="} {
		if v, ok := quotedAfter(line, lower, attr); ok {
			if v == "" {
				return models.CategoryUncategorized
			}
			return v
		}
	}
	return models.CategoryUncategorized
}

// quotedAfter finds attr in lower (the lower-cased line) and returns the
// trimmed value between the next pair of quotes in line.
func quotedAfter(line, lower, attr string) (string, bool) {
	idx := strings.Index(lower, attr)
	if idx < 0 {
		return "", false
	}
	start := strings.IndexByte(line[idx:], '"')
	if start < 0 {
		return "", false
	}
	start += idx + 1
	end := strings.IndexByte(line[start:], '"')
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(line[start : start+end]), true
}
