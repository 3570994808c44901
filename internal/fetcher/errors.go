package fetcher

import (
	"fmt"
	"strconv"
)

// Kind classifies a fetch failure.
type Kind int

const (
	KindOther Kind = iota
	KindStatus
	KindDNS
	KindTimeout
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindDNS:
		return "dns"
	case KindTimeout:
		return "timeout"
	case KindIO:
		return "io"
	default:
		return "other"
	}
}

// FetchError is returned by Client.FetchPlaylist for every non-200 outcome.
type FetchError struct {
	Kind       Kind
	StatusCode int
	URL        string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindStatus {
		return "HTTP " + strconv.Itoa(e.StatusCode)
	}
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Network reports whether the failure is a connectivity problem (DNS, timeout, I/O)
// rather than a server response.
func (e *FetchError) Network() bool {
	switch e.Kind {
	case KindDNS, KindTimeout, KindIO:
		return true
	}
	return false
}

// Message is the underlying error text, used in user-facing summaries.
func (e *FetchError) Message() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error", e.Kind)
	}
	return e.Err.Error()
}
