// Package monitor periodically probes the channels of one source and
// announces channels that have come on air.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/voyagen/iptvmine/internal/cache"
	"github.com/voyagen/iptvmine/internal/fetcher"
	"github.com/voyagen/iptvmine/internal/filter"
	xlog "github.com/voyagen/iptvmine/internal/log"
	"github.com/voyagen/iptvmine/internal/metrics"
	"github.com/voyagen/iptvmine/internal/models"
	"github.com/voyagen/iptvmine/internal/notify"
	"github.com/voyagen/iptvmine/internal/schedule"
)

const (
	// TaskName is the unique name the monitor registers under.
	TaskName = "channel_monitor"

	DefaultMinBattery = 15
	DefaultLockTTL    = 10 * time.Minute
)

// Fetcher downloads and parses the monitored source.
type Fetcher interface {
	FetchChannels(ctx context.Context, url string, opts fetcher.ParseOptions) ([]models.Channel, fetcher.Stats, error)
}

// Report summarises one run.
type Report struct {
	Checked    int
	Live       int
	Notified   int
	Suppressed int
	// Failed counts live channels whose cooldown lookup or notification failed.
	Failed int
}

type announcement int

const (
	announced announcement = iota
	suppressed
	failed
)

// Option configures a Monitor.
type Option func(*Monitor)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLimiter paces probes. Nil disables pacing.
func WithLimiter(l *rate.Limiter) Option {
	return func(m *Monitor) { m.limiter = l }
}

// WithDistributedLock makes runs exclusive across processes sharing r.
func WithDistributedLock(r *cache.Redis, ttl time.Duration) Option {
	return func(m *Monitor) {
		m.redis = r
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithMinBattery sets the charge at or below which a run is skipped.
func WithMinBattery(pct int) Option {
	return func(m *Monitor) { m.minBattery = pct }
}

func WithPolicy(p *filter.Policy) Option {
	return func(m *Monitor) { m.policy = p }
}

// Monitor checks one source. Run is safe to call concurrently; overlapping
// calls return OutcomeRetry.
type Monitor struct {
	source     string
	fetcher    Fetcher
	prober     ChannelProber
	cooldown   *Cooldown
	notifier   notify.Notifier
	conditions Conditions

	logger     zerolog.Logger
	now        func() time.Time
	limiter    *rate.Limiter
	redis      *cache.Redis
	lockTTL    time.Duration
	minBattery int
	policy     *filter.Policy

	running sync.Mutex
}

// New returns a Monitor for source. A nil conditions value assumes mains
// power and a working network.
func New(source string, f Fetcher, p ChannelProber, cd *Cooldown, n notify.Notifier, c Conditions, opts ...Option) *Monitor {
	if c == nil {
		c = Static{Battery: 100, Online: true}
	}
	m := &Monitor{
		source:     source,
		fetcher:    f,
		prober:     p,
		cooldown:   cd,
		notifier:   n,
		conditions: c,
		logger:     xlog.WithComponent("monitor"),
		now:        time.Now,
		lockTTL:    DefaultLockTTL,
		minBattery: DefaultMinBattery,
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.With().Str(xlog.FieldSource, source).Logger()
	return m
}

// Policy is the scheduling the monitor is registered with.
func Policy() schedule.Policy {
	return schedule.Policy{
		Interval:              30 * time.Minute,
		Flex:                  5 * time.Minute,
		Backoff:               15 * time.Minute,
		RequiresNetwork:       true,
		RequiresBatteryNotLow: true,
	}
}

// Task wraps the monitor for a schedule.Runner.
func (m *Monitor) Task() schedule.Task {
	return schedule.Task{Name: TaskName, Policy: Policy(), Run: m.Run}
}

// Run performs one monitoring pass.
func (m *Monitor) Run(ctx context.Context) schedule.Outcome {
	_, out := m.RunReport(ctx)
	return out
}

// RunReport performs one monitoring pass and reports what it saw.
func (m *Monitor) RunReport(ctx context.Context) (rep Report, out schedule.Outcome) {
	start := m.now()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str(xlog.FieldEvent, "monitor.panic").
				Str("panic", fmt.Sprint(r)).Msg("monitor run panicked")
			out = schedule.OutcomeRetry
		}
		metrics.RecordMonitorRun(out.String())
		m.logger.Info().Str(xlog.FieldEvent, "monitor.done").
			Str(xlog.FieldOutcome, out.String()).
			Int("checked", rep.Checked).Int("live", rep.Live).
			Int("notified", rep.Notified).Int("suppressed", rep.Suppressed).Int("failed", rep.Failed).
			Dur(xlog.FieldDuration, m.now().Sub(start)).
			Msg("monitor run finished")
	}()

	if !m.running.TryLock() {
		m.logger.Debug().Str(xlog.FieldEvent, "monitor.busy").Msg("run already in progress")
		return rep, schedule.OutcomeRetry
	}
	defer m.running.Unlock()

	if m.redis != nil {
		lock, err := cache.TryLock(ctx, m.redis, cache.Key("lock", TaskName), m.lockTTL)
		if err != nil {
			if !errors.Is(err, cache.ErrLocked) {
				m.logger.Warn().Err(err).Str(xlog.FieldEvent, "monitor.lock").Msg("lock unavailable")
			}
			return rep, schedule.OutcomeRetry
		}
		defer func() { _ = lock.Release() }()
	}

	level, err := m.conditions.BatteryLevel(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("battery level unavailable")
		level = 100
	}
	if level <= m.minBattery {
		m.logger.Info().Str(xlog.FieldEvent, "monitor.skip").Int("battery", level).Msg("battery low, skipping run")
		return rep, schedule.OutcomeSuccess
	}
	if !m.conditions.NetworkAvailable(ctx) {
		m.logger.Info().Str(xlog.FieldEvent, "monitor.offline").Msg("network unavailable")
		return rep, schedule.OutcomeRetry
	}

	channels, err := m.fetch(ctx)
	if err != nil {
		return rep, schedule.OutcomeRetry
	}

	for _, ch := range channels {
		if ctx.Err() != nil {
			return rep, schedule.OutcomeRetry
		}
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return rep, schedule.OutcomeRetry
			}
		}
		rep.Checked++
		res := m.prober.Probe(ctx, ch)
		if !res.Live {
			metrics.RecordProbe("offline")
			if res.Err != nil {
				m.logger.Debug().Err(res.Err).Str(xlog.FieldChannel, ch.Name).Msg("probe failed")
			}
			continue
		}
		metrics.RecordProbe("live")
		rep.Live++
		switch m.announce(ctx, ch) {
		case announced:
			rep.Notified++
		case suppressed:
			rep.Suppressed++
		case failed:
			rep.Failed++
		}
	}

	if _, err := m.cooldown.Prune(ctx, m.now()); err != nil {
		m.logger.Warn().Err(err).Msg("cooldown prune failed")
	}
	return rep, schedule.OutcomeSuccess
}

// fetch returns the source's channels. Only network-class failures are
// returned as errors; anything else yields an empty list.
func (m *Monitor) fetch(ctx context.Context) ([]models.Channel, error) {
	channels, _, err := m.fetcher.FetchChannels(ctx, m.source, fetcher.ParseOptions{Policy: m.policy})
	if err == nil {
		return channels, nil
	}
	var fe *fetcher.FetchError
	if errors.As(err, &fe) && fe.Network() {
		m.logger.Warn().Err(err).Str(xlog.FieldEvent, "monitor.fetch").Msg("source unreachable")
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	ev := m.logger.Warn().Err(err).Str(xlog.FieldEvent, "monitor.fetch")
	if fe != nil && fe.Kind == fetcher.KindStatus {
		ev = ev.Int(xlog.FieldStatusCode, fe.StatusCode)
	}
	ev.Msg("source fetch failed, nothing to check")
	return nil, nil
}

// announce notifies a live channel unless it is cooling down.
func (m *Monitor) announce(ctx context.Context, ch models.Channel) announcement {
	now := m.now()
	ok, err := m.cooldown.Allow(ctx, ch.Name, now)
	if err != nil {
		metrics.RecordNotification("cooldown_error")
		m.logger.Warn().Err(err).Str(xlog.FieldChannel, ch.Name).Msg("cooldown lookup failed")
		return failed
	}
	if !ok {
		metrics.RecordNotification("suppressed")
		return suppressed
	}
	if err := m.notifier.Notify(ctx, notify.Live(ch.Name, ch.StreamURL, now)); err != nil {
		metrics.RecordNotification("error")
		m.logger.Error().Err(err).Str(xlog.FieldChannel, ch.Name).Msg("notify failed")
		return failed
	}
	metrics.RecordNotification("sent")
	if err := m.cooldown.Mark(ctx, ch.Name, now); err != nil {
		m.logger.Warn().Err(err).Str(xlog.FieldChannel, ch.Name).Msg("cooldown stamp failed")
	}
	return announced
}
