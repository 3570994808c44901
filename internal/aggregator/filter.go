package aggregator

import (
	"strings"

	"github.com/voyagen/iptvmine/internal/models"
)

// FilterByText returns the channels of the current snapshot whose name
// contains query, ignoring case. A blank query returns every channel.
func (a *Aggregator) FilterByText(query string) []models.Channel {
	return matching(a.snapshot(), query, "")
}

// FilterByCategory returns the channels in category; "All" or "" returns every channel.
func (a *Aggregator) FilterByCategory(category string) []models.Channel {
	return matching(a.snapshot(), "", category)
}

func (a *Aggregator) FilterByTextAndCategory(query, category string) []models.Channel {
	return matching(a.snapshot(), query, category)
}

func (a *Aggregator) snapshot() []models.Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.catalog.Channels
}

func matching(channels []models.Channel, query, category string) []models.Channel {
	q := strings.ToLower(strings.TrimSpace(query))
	allCats := category == "" || category == models.CategoryAll
	out := make([]models.Channel, 0, len(channels))
	for _, ch := range channels {
		if q != "" && !strings.Contains(strings.ToLower(ch.Name), q) {
			continue
		}
		if !allCats && ch.Category != category {
			continue
		}
		out = append(out, ch)
	}
	return out
}
