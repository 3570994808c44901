package models

const (
	// DefaultLogoURL is the placeholder token used when a playlist entry has no logo.
	DefaultLogoURL = "assets/images/ic_tv.png"
	// DefaultStreamType is the transport label given to parsed channels.
	DefaultStreamType = "HTTP"
	// CategoryUncategorized is used when group-title/tvg-group is missing or empty.
	CategoryUncategorized = "Uncategorized"
	// CategoryAll is the synthetic pseudo-category prepended to the category index.
	CategoryAll = "All"
	// DefaultSourceURL is the built-in playlist used when no source is configured.
	DefaultSourceURL = "https://bugsfreeweb.github.io/LiveTVCollector/LiveTV/India/LiveTV.m3u"
)
