package aggregator

import (
	"slices"
	"strings"

	"github.com/voyagen/iptvmine/internal/filter"
	"github.com/voyagen/iptvmine/internal/models"
)

// BuildCategories returns the sorted distinct categories of channels with
// "All" in front. Categories hidden by policy are left out. An empty channel
// list yields an empty index.
func BuildCategories(channels []models.Channel, policy *filter.Policy) []string {
	if len(channels) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{})
	var cats []string
	for _, ch := range channels {
		c := ch.Category
		if strings.TrimSpace(c) == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		if policy != nil && policy.CategoryHidden(c) {
			continue
		}
		cats = append(cats, c)
	}
	slices.Sort(cats)
	return append([]string{models.CategoryAll}, cats...)
}
