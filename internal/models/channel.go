package models

// Channel is a single playable entry from an extended M3U playlist.
// It is a plain comparable value; two channels are equal when all fields are.
type Channel struct {
	Name       string `json:"name"`
	LogoURL    string `json:"logo_url"`
	StreamURL  string `json:"stream_url"`
	StreamType string `json:"stream_type"`
	Category   string `json:"category"`
}

// NewChannel builds a Channel and fills the logo, stream type and category
// defaults when they are empty.
func NewChannel(name, logoURL, streamURL, category string) Channel {
	if logoURL == "" {
		logoURL = DefaultLogoURL
	}
	if category == "" {
		category = CategoryUncategorized
	}
	return Channel{
		Name:       name,
		LogoURL:    logoURL,
		StreamURL:  streamURL,
		StreamType: DefaultStreamType,
		Category:   category,
	}
}

// Valid reports whether the channel carries the fields every surfaced record needs.
func (c Channel) Valid() bool {
	return c.Name != "" && c.StreamURL != ""
}
