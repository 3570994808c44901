package models

import "time"

// Catalog is the aggregator's published view: the merged channel list, the
// derived category index and the state of the last fetch cycle.
type Catalog struct {
	Channels   []Channel `json:"channels"`
	Categories []string  `json:"categories"`
	Error      string    `json:"error,omitempty"`
	Loading    bool      `json:"loading"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// Clone returns a copy whose slices do not alias c.
func (c Catalog) Clone() Catalog {
	out := c
	out.Channels = append([]Channel(nil), c.Channels...)
	out.Categories = append([]string(nil), c.Categories...)
	return out
}
