// Package filter decides which playlist entries are kept out of the catalog.
package filter

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	xlog "github.com/voyagen/iptvmine/internal/log"
)

// Category keywords are matched as case-insensitive substrings ("adult" also
// blocks "Adults Only"). The set is broader than the name set and carries
// several languages.
var blockedCategories = []string{
	"adult",
	"xxx",
	"18+",
	"18 +",
	"porn",
	"erotic",
	"sex",
	"sexy",
	"adults only",
	"mature",
	"nsfw",
	"x-rated",
	"r-rated",
	"adulto",
	"adulte",
	"erwachsene",
	"成人",
	"大人",
	"성인",
}

var blockedChannelKeywords = []string{
	"xxx",
	"porn",
	"adult",
	"sex",
	"erotic",
	"playboy",
	"hustler",
	"brazzers",
	"bangbros",
}

// Policy is a content filter. The fixed keyword sets are shared and
// immutable; the custom category blocklist belongs to one Policy value and
// lives as long as it does.
type Policy struct {
	mu     sync.RWMutex
	custom map[string]struct{}
	logger zerolog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger sets the logger used for block decisions.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// New returns a Policy with an empty custom blocklist.
func New(opts ...Option) *Policy {
	p := &Policy{
		custom: make(map[string]struct{}),
		logger: xlog.WithComponent("filter"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsBlockedCategory reports whether category matches the built-in category blocklist.
func (p *Policy) IsBlockedCategory(category string) bool {
	c := normalize(category)
	if c == "" {
		return false
	}
	for _, kw := range blockedCategories {
		if strings.Contains(c, kw) {
			p.logger.Debug().Str(xlog.FieldCategory, category).Msg("blocked category")
			return true
		}
	}
	return false
}

// IsBlockedChannelName reports whether name contains a blocked keyword.
func (p *Policy) IsBlockedChannelName(name string) bool {
	n := normalize(name)
	if n == "" {
		return false
	}
	for _, kw := range blockedChannelKeywords {
		if strings.Contains(n, kw) {
			p.logger.Debug().Str(xlog.FieldChannel, name).Msg("blocked channel name")
			return true
		}
	}
	return false
}

// ShouldBlock reports whether an entry is rejected by the built-in sets.
func (p *Policy) ShouldBlock(name, category string) bool {
	return p.IsBlockedCategory(category) || p.IsBlockedChannelName(name)
}

// Rejects combines ShouldBlock with the custom category blocklist. It is
// the check applied when a parsed record is about to enter a catalog.
func (p *Policy) Rejects(name, category string) bool {
	return p.ShouldBlock(name, category) || p.IsCustomBlockedCategory(category)
}

// CategoryHidden reports whether a category must be left out of the category index.
func (p *Policy) CategoryHidden(category string) bool {
	return p.IsBlockedCategory(category) || p.IsCustomBlockedCategory(category)
}

// AddCustomCategory blocks an additional category (exact, case-insensitive).
func (p *Policy) AddCustomCategory(category string) {
	c := normalize(category)
	if c == "" {
		return
	}
	p.mu.Lock()
	p.custom[c] = struct{}{}
	p.mu.Unlock()
	p.logger.Debug().Str(xlog.FieldCategory, category).Msg("added custom blocked category")
}

// RemoveCustomCategory unblocks a category previously added with AddCustomCategory.
func (p *Policy) RemoveCustomCategory(category string) {
	p.mu.Lock()
	delete(p.custom, normalize(category))
	p.mu.Unlock()
}

// ClearCustomCategories empties the custom blocklist.
func (p *Policy) ClearCustomCategories() {
	p.mu.Lock()
	p.custom = make(map[string]struct{})
	p.mu.Unlock()
}

// IsCustomBlockedCategory reports whether category is on the custom blocklist.
func (p *Policy) IsCustomBlockedCategory(category string) bool {
	c := normalize(category)
	if c == "" {
		return false
	}
	p.mu.RLock()
	_, ok := p.custom[c]
	p.mu.RUnlock()
	return ok
}

// CustomCategories returns the custom blocklist, sorted.
func (p *Policy) CustomCategories() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.custom))
	for c := range p.custom {
		out = append(out, c)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

// BlockedCategories returns a copy of the built-in category keywords.
func BlockedCategories() []string {
	return append([]string(nil), blockedCategories...)
}

// BlockedChannelKeywords returns a copy of the built-in channel name keywords.
func BlockedChannelKeywords() []string {
	return append([]string(nil), blockedChannelKeywords...)
}
