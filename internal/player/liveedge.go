package player

import (
	"fmt"
	"time"
)

// EdgeThreshold is how close to the live edge still counts as live.
const EdgeThreshold = 10 * time.Second

// LiveEdge is the live sub-status of a session.
type LiveEdge struct {
	Live   bool          `json:"live"`
	Behind time.Duration `json:"behind"`
	AtEdge bool          `json:"at_edge"`
	Label  string        `json:"label"`
}

// LiveStatus reports how far the session is behind the live edge. Non-live
// sessions return the zero value.
func (e *Engine) LiveStatus() LiveEdge {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || !e.session.Live {
		return LiveEdge{}
	}
	pos, dur := e.dec.Position()
	return liveEdge(pos, dur)
}

func liveEdge(pos, dur time.Duration) LiveEdge {
	// Unknown window: the decoder is at the edge as far as anyone can tell.
	if dur <= 0 {
		return LiveEdge{Live: true, AtEdge: true, Label: "LIVE"}
	}
	behind := max(dur-pos, 0)
	le := LiveEdge{Live: true, Behind: behind, AtEdge: behind < EdgeThreshold}
	switch {
	case le.AtEdge:
		le.Label = "LIVE"
	case behind < time.Minute:
		le.Label = fmt.Sprintf("%ds behind", int(behind/time.Second))
	default:
		le.Label = fmt.Sprintf("%dm behind", int(behind/time.Minute))
	}
	return le
}
