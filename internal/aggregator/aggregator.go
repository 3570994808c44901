// Package aggregator merges the channel lists of several playlist sources
// into one catalog and keeps the category index in step with it.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voyagen/iptvmine/internal/fetcher"
	"github.com/voyagen/iptvmine/internal/filter"
	xlog "github.com/voyagen/iptvmine/internal/log"
	"github.com/voyagen/iptvmine/internal/metrics"
	"github.com/voyagen/iptvmine/internal/models"
)

const (
	msgNoSources = "No source URLs configured"
	msgNoData    = "Failed to fetch channels: No data available"
)

// Fetcher downloads and parses one source.
type Fetcher interface {
	FetchChannels(ctx context.Context, url string, opts fetcher.ParseOptions) ([]models.Channel, fetcher.Stats, error)
}

// Result is the outcome of one fetch cycle.
type Result struct {
	Channels  []models.Channel
	Succeeded int
	Total     int
	Err       string
	// Cancelled is set when a newer fetch, Close or the caller's context
	// stopped this one. A superseded cycle publishes nothing; a cycle cancelled
	// by its caller only publishes Loading=false.
	Cancelled bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

func WithLogger(l zerolog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// WithSources sets the initial working source list.
func WithSources(urls []string) Option {
	return func(a *Aggregator) { a.sources = normalizeSources(urls) }
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// Aggregator owns the catalog snapshot. All methods are safe for concurrent use.
type Aggregator struct {
	client Fetcher
	policy *filter.Policy
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	sources []string
	catalog models.Catalog
	gen     uint64
	cancel  context.CancelFunc
	watch   chan models.Catalog
	wg      sync.WaitGroup
}

// New returns an Aggregator fetching through client and filtering with policy.
// A nil policy disables content filtering.
func New(client Fetcher, policy *filter.Policy, opts ...Option) *Aggregator {
	a := &Aggregator{
		client: client,
		policy: policy,
		logger: xlog.WithComponent("aggregator"),
		now:    time.Now,
		watch:  make(chan models.Catalog, 1),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func normalizeSources(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || slices.Contains(out, u) {
			continue
		}
		out = append(out, u)
	}
	return out
}

// SetSources replaces the working source list. Blank and duplicate entries are dropped.
func (a *Aggregator) SetSources(urls []string) {
	a.mu.Lock()
	a.sources = normalizeSources(urls)
	a.mu.Unlock()
}

// AddSource appends url and reports whether it was added.
func (a *Aggregator) AddSource(url string) bool {
	url = strings.TrimSpace(url)
	if url == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if slices.Contains(a.sources, url) {
		return false
	}
	a.sources = append(a.sources, url)
	return true
}

func (a *Aggregator) RemoveSource(url string) {
	url = strings.TrimSpace(url)
	a.mu.Lock()
	a.sources = slices.DeleteFunc(a.sources, func(s string) bool { return s == url })
	a.mu.Unlock()
}

// Sources returns a copy of the working source list.
func (a *Aggregator) Sources() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.sources)
}

// Catalog returns the last published snapshot.
func (a *Aggregator) Catalog() models.Catalog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.catalog.Clone()
}

// Watch returns a channel carrying the latest published catalog. An unread
// value is replaced by a newer one, so a slow reader only sees the latest state.
func (a *Aggregator) Watch() <-chan models.Catalog {
	return a.watch
}

// publish must be called with a.mu held.
func (a *Aggregator) publish() {
	snap := a.catalog.Clone()
	select {
	case <-a.watch:
	default:
	}
	select {
	case a.watch <- snap:
	default:
	}
}

// begin cancels any in-flight cycle and marks the catalog as loading.
// It must be called with a.mu held.
func (a *Aggregator) begin(parent context.Context) (context.Context, uint64) {
	if a.cancel != nil {
		a.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel
	a.gen++
	a.catalog.Loading = true
	a.publish()
	return ctx, a.gen
}

// finish clears the in-flight marker if gen is still current and reports whether it was.
// It must be called with a.mu held.
func (a *Aggregator) finish(gen uint64) bool {
	if gen != a.gen {
		return false
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	return true
}

// FetchAll fetches every working source in order and merges the result into
// the catalog. An in-flight fetch is cancelled first. The returned channel
// yields exactly one Result and is then closed.
func (a *Aggregator) FetchAll(ctx context.Context) <-chan Result {
	out := make(chan Result, 1)

	a.mu.Lock()
	sources := slices.Clone(a.sources)
	if len(sources) == 0 {
		if a.cancel != nil {
			a.cancel()
			a.cancel = nil
		}
		a.gen++
		a.catalog.Error = msgNoSources
		a.catalog.Loading = false
		a.publish()
		a.mu.Unlock()
		out <- Result{Err: msgNoSources}
		close(out)
		return out
	}
	runCtx, gen := a.begin(ctx)
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		defer close(out)
		out <- a.runAll(runCtx, gen, sources)
	}()
	return out
}

func (a *Aggregator) runAll(ctx context.Context, gen uint64, sources []string) (res Result) {
	start := a.now()
	res.Total = len(sources)
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Msg("fetch cycle panicked")
			res = a.settle(gen, func() string {
				return fmt.Sprintf("Failed to fetch channels from all sources:\n%v", r)
			})
		}
	}()

	var (
		merged []models.Channel
		lines  []string
	)
	for i, url := range sources {
		if ctx.Err() != nil {
			return a.cancelled(gen, res)
		}
		log := a.logger.With().Int(xlog.FieldSourceIndex, i+1).Str(xlog.FieldSource, url).Logger()
		channels, stats, err := a.client.FetchChannels(ctx, url, a.parseOptions())
		if err != nil {
			if ctx.Err() != nil {
				return a.cancelled(gen, res)
			}
			recordSourceError(err)
			log.Warn().Err(err).Msg("source fetch failed")
			lines = append(lines, sourceErrorLine(i+1, err))
			continue
		}
		metrics.RecordSourceFetch("ok")
		recordStats(stats)
		log.Info().Int("channels", len(channels)).Int("invalid_urls", stats.InvalidURLs).
			Int("blocked", stats.Blocked).Msg("source fetched")
		res.Succeeded++
		merged = append(merged, channels...)
	}
	metrics.ObserveFetch("all", a.now().Sub(start))

	a.mu.Lock()
	defer a.mu.Unlock()
	if ctx.Err() != nil || gen != a.gen {
		return a.abandonLocked(gen, res)
	}
	a.finish(gen)
	if len(merged) > 0 {
		a.replace(merged)
		res.Channels = merged
		if res.Succeeded < res.Total && len(lines) > 0 {
			a.catalog.Error = fmt.Sprintf("Loaded %d/%d sources. Errors:\n%s", res.Succeeded, res.Total, strings.Join(lines, "\n"))
		}
	} else if len(lines) > 0 {
		a.catalog.Error = "Failed to fetch channels from all sources:\n" + strings.Join(lines, "\n")
	} else {
		a.catalog.Error = msgNoData
	}
	a.catalog.Loading = false
	a.publish()

	res.Err = a.catalog.Error
	a.logger.Info().Int("channels", len(merged)).Int("succeeded", res.Succeeded).Int("total", res.Total).Msg("catalog refreshed")
	return res
}

// FetchSingle fetches one source and, on success, replaces the catalog with
// its channels even when there are none.
func (a *Aggregator) FetchSingle(ctx context.Context, url string) <-chan Result {
	out := make(chan Result, 1)

	a.mu.Lock()
	runCtx, gen := a.begin(ctx)
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		defer close(out)
		out <- a.runSingle(runCtx, gen, strings.TrimSpace(url))
	}()
	return out
}

func (a *Aggregator) runSingle(ctx context.Context, gen uint64, url string) (res Result) {
	start := a.now()
	res.Total = 1
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Str(xlog.FieldSource, url).Msg("single fetch panicked")
			res = a.settle(gen, func() string { return fmt.Sprintf("Error: %v", r) })
			res.Total = 1
		}
	}()

	channels, stats, err := a.client.FetchChannels(ctx, url, a.parseOptions())
	metrics.ObserveFetch("single", a.now().Sub(start))

	a.mu.Lock()
	defer a.mu.Unlock()
	if ctx.Err() != nil || gen != a.gen {
		return a.abandonLocked(gen, res)
	}
	a.finish(gen)
	if err != nil {
		recordSourceError(err)
		a.logger.Warn().Err(err).Str(xlog.FieldSource, url).Msg("single source fetch failed")
		a.catalog.Error = singleErrorMessage(err)
	} else {
		metrics.RecordSourceFetch("ok")
		recordStats(stats)
		a.replace(channels)
		res.Succeeded = 1
		res.Channels = slices.Clone(channels)
	}
	a.catalog.Loading = false
	a.publish()
	res.Err = a.catalog.Error
	return res
}

// settle publishes a failed cycle after a recovered panic.
func (a *Aggregator) settle(gen uint64, msg func() string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.finish(gen) {
		return Result{Cancelled: true}
	}
	a.catalog.Error = msg()
	a.catalog.Loading = false
	a.publish()
	return Result{Err: a.catalog.Error}
}

func (a *Aggregator) cancelled(gen uint64, res Result) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.abandonLocked(gen, res)
}

// abandonLocked ends a cycle that stopped early. A superseded cycle leaves the
// catalog to its successor; a cycle whose caller cancelled it is still current
// and clears Loading itself. It must be called with a.mu held.
func (a *Aggregator) abandonLocked(gen uint64, res Result) Result {
	res.Cancelled = true
	if !a.finish(gen) {
		a.logger.Debug().Uint64("generation", gen).Msg("fetch cycle superseded")
		return res
	}
	a.logger.Debug().Uint64("generation", gen).Msg("fetch cycle cancelled by caller")
	a.catalog.Loading = false
	a.publish()
	return res
}

// replace must be called with a.mu held.
func (a *Aggregator) replace(channels []models.Channel) {
	a.catalog.Channels = slices.Clone(channels)
	a.catalog.Categories = BuildCategories(channels, a.policy)
	a.catalog.Error = ""
	a.catalog.UpdatedAt = a.now()
	metrics.SetCatalogSize(len(channels))
}

func (a *Aggregator) parseOptions() fetcher.ParseOptions {
	return fetcher.ParseOptions{Strict: true, Policy: a.policy}
}

// Close cancels any in-flight fetch and waits for it to return.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.gen++
	if a.catalog.Loading {
		a.catalog.Loading = false
		a.publish()
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func sourceErrorLine(n int, err error) string {
	var fe *fetcher.FetchError
	if !errors.As(err, &fe) {
		return fmt.Sprintf("Source %d: %s", n, err.Error())
	}
	switch fe.Kind {
	case fetcher.KindStatus:
		return fmt.Sprintf("Source %d: HTTP %d", n, fe.StatusCode)
	case fetcher.KindDNS:
		return fmt.Sprintf("Source %d: No internet connection or DNS error", n)
	case fetcher.KindTimeout:
		return fmt.Sprintf("Source %d: Connection timeout", n)
	case fetcher.KindIO:
		return fmt.Sprintf("Source %d: Network I/O error - %s", n, fe.Message())
	default:
		return fmt.Sprintf("Source %d: %s", n, fe.Message())
	}
}

func singleErrorMessage(err error) string {
	var fe *fetcher.FetchError
	if !errors.As(err, &fe) {
		return "Error: " + err.Error()
	}
	switch fe.Kind {
	case fetcher.KindStatus:
		return fmt.Sprintf("Error: HTTP %d", fe.StatusCode)
	case fetcher.KindDNS:
		return "Network Error: No internet connection or unable to resolve host. Please check your connection."
	case fetcher.KindTimeout:
		return "Network Error: Connection timeout. Please check your internet speed."
	case fetcher.KindIO:
		return "Network Error: " + fe.Message()
	default:
		return "Error: " + fe.Message()
	}
}

func recordSourceError(err error) {
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		metrics.RecordSourceFetch(fe.Kind.String())
		return
	}
	metrics.RecordSourceFetch("other")
}

func recordStats(s fetcher.Stats) {
	metrics.AddParsed("accepted", s.Channels)
	metrics.AddParsed("blocked", s.Blocked)
	metrics.AddParsed("invalid_url", s.InvalidURLs)
}
