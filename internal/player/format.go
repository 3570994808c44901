// Package player drives one playback session over an external decoder:
// it picks a format hint for a stream URL, recovers from playback errors
// and tracks the distance to the live edge.
package player

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// Format is a container/protocol hypothesis handed to the decoder.
type Format struct {
	Name string
	MIME string
}

// Auto reports whether f carries no hint.
func (f Format) Auto() bool { return f.MIME == "" }

func (f Format) String() string {
	if f.Auto() {
		return "auto"
	}
	return f.Name
}

var (
	FormatAuto   = Format{Name: "auto"}
	FormatHLS    = Format{Name: "hls", MIME: "application/x-mpegURL"}
	FormatDASH   = Format{Name: "dash", MIME: "application/dash+xml"}
	FormatSmooth = Format{Name: "smooth", MIME: "application/vnd.ms-sstr+xml"}
	FormatTS     = Format{Name: "mpegts", MIME: "video/mp2t"}
	FormatMP4    = Format{Name: "mp4", MIME: "video/mp4"}
	FormatWebM   = Format{Name: "webm", MIME: "video/webm"}
	FormatMKV    = Format{Name: "mkv", MIME: "video/x-matroska"}
	FormatAVI    = Format{Name: "avi", MIME: "video/x-msvideo"}
	FormatMOV    = Format{Name: "mov", MIME: "video/quicktime"}
	FormatFLV    = Format{Name: "flv", MIME: "video/x-flv"}
	FormatWMV    = Format{Name: "wmv", MIME: "video/x-ms-wmv"}
	Format3GP    = Format{Name: "3gp", MIME: "video/3gpp"}
)

// extensions maps a file extension to its format.
var extensions = map[string]Format{
	"m3u8": FormatHLS,
	"mpd":  FormatDASH,
	"ism":  FormatSmooth,
	"ts":   FormatTS,
	"mp4":  FormatMP4,
	"webm": FormatWebM,
	"mkv":  FormatMKV,
	"avi":  FormatAVI,
	"mov":  FormatMOV,
	"flv":  FormatFLV,
	"wmv":  FormatWMV,
	"3gp":  Format3GP,
}

// identifierAliases resolves protocol names used in URL markers.
var identifierAliases = map[string]string{"hls": "m3u8", "dash": "mpd"}

// formatIdentifiers are explicit format markers, checked in order.
var formatIdentifiers = []string{
	"format=m3u8", "format=mpd", "format=hls", "format=dash", "format=mp4",
	"type=m3u8", "type=mpd", "type=hls", "type=dash", "type=mp4",
	"playlist_type=m3u8", "stream_type=hls",
	"/hls/", "/dash/", "/m3u8/", "/mpd/",
}

// FallbackOrder is the sequence of hypotheses tried after an unsupported-format
// or source error. It ends with the decoder's own detection.
var FallbackOrder = []Format{
	FormatHLS, FormatDASH, FormatTS, FormatMP4, FormatWebM, FormatMKV, FormatSmooth, FormatFLV, FormatAuto,
}

var liveKeywords = []string{"live", "stream", "24/7", "24x7", "m3u8", "mpd", "dash", "real-time"}

// InferFormat picks the decoder hint for rawURL: an explicit marker first,
// then the file extension, then well-known path patterns.
func InferFormat(rawURL string) Format {
	lower := strings.ToLower(rawURL)
	if f, ok := formatFromIdentifier(lower); ok {
		return f
	}
	if f, ok := extensions[extension(lower)]; ok {
		return f
	}
	switch {
	case strings.Contains(lower, "/hls/"), strings.Contains(lower, "playlist"), strings.Contains(lower, "manifest"):
		return FormatHLS
	case strings.Contains(lower, "/dash/"):
		return FormatDASH
	}
	return FormatAuto
}

func formatFromIdentifier(lower string) (Format, bool) {
	for _, id := range formatIdentifiers {
		if !strings.Contains(lower, id) {
			continue
		}
		key := strings.Trim(id, "/")
		if i := strings.IndexByte(id, '='); i >= 0 {
			key = id[i+1:]
		}
		if alias, ok := identifierAliases[key]; ok {
			key = alias
		}
		if f, ok := extensions[key]; ok {
			return f, true
		}
	}
	return Format{}, false
}

// extension returns the lower-cased extension of the URL path, without the dot.
func extension(lower string) string {
	p := lower
	if u, err := url.Parse(lower); err == nil {
		p = u.Path
	}
	return strings.TrimPrefix(path.Ext(p), ".")
}

// IsLive reports whether rawURL looks like a live stream.
func IsLive(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, k := range liveKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// LiveConfig is the live-edge envelope the decoder converges on.
type LiveConfig struct {
	TargetOffset time.Duration `json:"target_offset"`
	MinOffset    time.Duration `json:"min_offset"`
	MaxOffset    time.Duration `json:"max_offset"`
	MinSpeed     float64       `json:"min_speed"`
	MaxSpeed     float64       `json:"max_speed"`
}

func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		TargetOffset: 5 * time.Second,
		MinOffset:    3 * time.Second,
		MaxOffset:    10 * time.Second,
		MinSpeed:     0.97,
		MaxSpeed:     1.02,
	}
}

// Item is the resolved playable descriptor handed to the decoder.
type Item struct {
	URI  string      `json:"uri"`
	MIME string      `json:"mime,omitempty"`
	Live *LiveConfig `json:"live,omitempty"`
	// Raw marks a bare URI item: no hint and no live envelope.
	Raw bool `json:"raw,omitempty"`
}

// BuildItem resolves rawURL with the inferred format.
func BuildItem(rawURL string) Item {
	return itemWithFormat(rawURL, InferFormat(rawURL))
}

func itemWithFormat(rawURL string, f Format) Item {
	it := Item{URI: rawURL, MIME: f.MIME}
	if IsLive(rawURL) {
		lc := DefaultLiveConfig()
		it.Live = &lc
	}
	return it
}

func rawItem(rawURL string) Item {
	return Item{URI: rawURL, Raw: true}
}
