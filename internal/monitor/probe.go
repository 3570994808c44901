package monitor

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/voyagen/iptvmine/internal/models"
)

const (
	ProbeUserAgent      = "IPTVmine/1.0"
	DefaultProbeTimeout = 8 * time.Second
	// previewSize is how much of a stream body a probe reads.
	previewSize = 512
	// minVideoBytes is the preview size that counts as stream data without a playlist signature.
	minVideoBytes = 100
)

// streamContentTypes are the content-type substrings accepted as media.
var streamContentTypes = []string{
	"mpegurl",
	"x-mpegurl",
	"application/vnd.apple.mpegurl",
	"video/",
	"application/dash+xml",
	"octet-stream",
}

// ProbeResult is the outcome of one liveness probe.
type ProbeResult struct {
	Live        bool
	StatusCode  int
	ContentType string
	Bytes       int
	// Signature is set when the preview carries an HLS/M3U marker.
	Signature bool
	Err       error
}

// ChannelProber checks whether a channel is broadcasting.
type ChannelProber interface {
	Probe(ctx context.Context, ch models.Channel) ProbeResult
}

// Prober probes streams with a GET and inspects the start of the body.
type Prober struct {
	client  *http.Client
	timeout time.Duration
}

// NewProber returns a Prober with the given connect/response timeout.
// A nil transport uses a dedicated transport with that timeout.
func NewProber(timeout time.Duration, transport http.RoundTripper) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       30 * time.Second,
		}
	}
	return &Prober{client: &http.Client{Transport: transport}, timeout: timeout}
}

// Probe issues a GET, never HEAD, and reads at
// most 512 bytes of the body.
func (p *Prober) Probe(ctx context.Context, ch models.Channel) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ch.StreamURL, nil)
	if err != nil {
		return ProbeResult{Err: err}
	}
	req.Header.Set("User-Agent", ProbeUserAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return ProbeResult{Err: err}
	}
	defer resp.Body.Close()

	res := ProbeResult{StatusCode: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return res
	}
	preview, err := io.ReadAll(io.LimitReader(resp.Body, previewSize))
	if err != nil && len(preview) == 0 {
		res.Err = err
		return res
	}
	res.Bytes = len(preview)
	res.Signature = bytes.Contains(preview, []byte("#EXTM3U")) || bytes.Contains(preview, []byte("#EXT-X-"))
	res.Live = isStreamContentType(res.ContentType) && res.Bytes > 0 && (res.Signature || res.Bytes > minVideoBytes)
	return res
}

func isStreamContentType(ct string) bool {
	ct = strings.ToLower(ct)
	for _, want := range streamContentTypes {
		if strings.Contains(ct, want) {
			return true
		}
	}
	return false
}
