package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/voyagen/iptvmine/internal/models"
)

const (
	DefaultUserAgent      = "IPTVmine/1.0 (Go)"
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 10 * time.Second
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	UserAgent      string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// Client downloads playlists from remote sources.
type Client struct {
	http        *http.Client
	userAgent   string
	readTimeout time.Duration
}

// NewClient returns a Client with the given options applied over the defaults.
func NewClient(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	rt := opts.Transport
	if rt == nil {
		rt = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   opts.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   opts.ConnectTimeout,
			ResponseHeaderTimeout: opts.ReadTimeout,
			// Decoding is done here so brotli is covered too.
			DisableCompression:  true,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &Client{
		http:        &http.Client{Transport: rt},
		userAgent:   opts.UserAgent,
		readTimeout: opts.ReadTimeout,
	}
}

// FetchPlaylist returns the full body of url on HTTP 200.
// Any other outcome is a *FetchError.
func (c *Client) FetchPlaylist(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{Kind: KindOther, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classify(ctx, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &FetchError{Kind: KindStatus, StatusCode: resp.StatusCode, URL: url}
	}

	body, err := c.decode(resp, cancel)
	if err != nil {
		return "", &FetchError{Kind: KindIO, URL: url, Err: err}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", classify(ctx, url, err)
	}
	return string(data), nil
}

// FetchChannels fetches url and parses it with opts.
func (c *Client) FetchChannels(ctx context.Context, url string, opts ParseOptions) ([]models.Channel, Stats, error) {
	text, err := c.FetchPlaylist(ctx, url)
	if err != nil {
		return nil, Stats{}, err
	}
	return ParseString(text, opts)
}

func (c *Client) decode(resp *http.Response, cancel context.CancelFunc) (io.Reader, error) {
	var r io.Reader = &idleReader{r: resp.Body, timeout: c.readTimeout, cancel: cancel}
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return gz, nil
	case "br":
		return brotli.NewReader(r), nil
	}
	return r, nil
}

// idleReader fails a read that stalls longer than timeout by cancelling the request.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	cancel  func()
	expired atomic.Bool
}

func (ir *idleReader) Read(p []byte) (int, error) {
	t := time.AfterFunc(ir.timeout, func() {
		ir.expired.Store(true)
		ir.cancel()
	})
	n, err := ir.r.Read(p)
	if !t.Stop() && ir.expired.Load() {
		return n, errReadTimeout
	}
	return n, err
}

var errReadTimeout = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "read timeout" }
func (*timeoutError) Timeout() bool { return true }
func (*timeoutError) Temporary() bool { return true }

func classify(ctx context.Context, url string, err error) *FetchError {
	fe := &FetchError{Kind: KindOther, URL: url, Err: err}
	var dnsErr *net.DNSError
	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.As(err, &dnsErr):
		fe.Kind = KindDNS
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		fe.Kind = KindTimeout
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		fe.Kind = KindOther
	case errors.As(err, &opErr), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		fe.Kind = KindIO
	}
	return fe
}
