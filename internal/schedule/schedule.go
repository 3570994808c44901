// Package schedule runs named periodic tasks with flex-window jitter and
// linear retry backoff.
package schedule

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/voyagen/iptvmine/internal/log"
)

// Outcome is what a task run reports back to the scheduler.
type Outcome int

const (
	// OutcomeSuccess schedules the next periodic run.
	OutcomeSuccess Outcome = iota
	// OutcomeRetry schedules a retry after linear backoff.
	OutcomeRetry
	// OutcomeFailure unregisters the task.
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MaxBackoff caps the retry delay.
const MaxBackoff = 5 * time.Hour

// Policy controls when a task runs.
type Policy struct {
	Interval time.Duration
	// Flex is the window at the end of Interval in which a run may start.
	Flex    time.Duration
	Backoff time.Duration
	// RequiresNetwork and RequiresBatteryNotLow are checked by the task
	// itself; they are carried for reporting.
	RequiresNetwork       bool
	RequiresBatteryNotLow bool
}

// Task is a registered periodic job.
type Task struct {
	Name   string
	Policy Policy
	Run    func(ctx context.Context) Outcome
}

type entry struct {
	task Task
	stop chan struct{}
	once sync.Once
}

func (e *entry) cancel() { e.once.Do(func() { close(e.stop) }) }

// Runner owns the registered tasks. The zero value is not usable; call NewRunner.
type Runner struct {
	logger zerolog.Logger
	jitter func(n int64) int64

	mu      sync.Mutex
	tasks   map[string]*entry
	ctx     context.Context
	running bool
	wg      sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithJitter replaces the random source used inside the flex window.
// fn returns a value in [0, n).
func WithJitter(fn func(n int64) int64) Option {
	return func(r *Runner) { r.jitter = fn }
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger: xlog.WithComponent("schedule"),
		jitter: rand.Int64N,
		tasks:  make(map[string]*entry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds t unless a task with the same name exists, in which case the
// existing one is kept and false is returned. Tasks registered while the
// runner is running start immediately.
func (r *Runner) Register(t Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.Name]; ok {
		r.logger.Debug().Str(xlog.FieldTask, t.Name).Msg("task already scheduled, keeping existing")
		return false
	}
	e := &entry{task: t, stop: make(chan struct{})}
	r.tasks[t.Name] = e
	if r.running {
		r.start(e)
	}
	return true
}

// Cancel unregisters the named task. A run in progress finishes first.
func (r *Runner) Cancel(name string) {
	r.mu.Lock()
	e, ok := r.tasks[name]
	delete(r.tasks, name)
	r.mu.Unlock()
	if ok {
		e.cancel()
	}
}

// Scheduled reports whether a task with name is registered.
func (r *Runner) Scheduled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[name]
	return ok
}

// Run starts every registered task and blocks until ctx is done and all
// task loops have returned.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("schedule: runner already running")
	}
	r.running = true
	r.ctx = ctx
	for _, e := range r.tasks {
		r.start(e)
	}
	r.mu.Unlock()

	<-ctx.Done()
	r.wg.Wait()
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return nil
}

// start must be called with r.mu held.
func (r *Runner) start(e *entry) {
	r.wg.Add(1)
	go r.loop(r.ctx, e)
}

func (r *Runner) loop(ctx context.Context, e *entry) {
	defer r.wg.Done()
	log := r.logger.With().Str(xlog.FieldTask, e.task.Name).Logger()
	retries := 0
	var delay time.Duration
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		outcome := r.runOnce(ctx, e.task)
		if ctx.Err() != nil {
			return
		}
		switch outcome {
		case OutcomeFailure:
			log.Warn().Str(xlog.FieldOutcome, outcome.String()).Msg("task failed, unregistering")
			r.mu.Lock()
			if r.tasks[e.task.Name] == e {
				delete(r.tasks, e.task.Name)
			}
			r.mu.Unlock()
			return
		case OutcomeRetry:
			retries++
		default:
			retries = 0
		}
		delay = NextDelay(e.task.Policy, outcome, retries, r.jitter)
		log.Debug().Str(xlog.FieldOutcome, outcome.String()).Dur("next_in", delay).Msg("task scheduled")
	}
}

func (r *Runner) runOnce(ctx context.Context, t Task) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Str(xlog.FieldTask, t.Name).Interface("panic", p).Msg("task panicked")
			out = OutcomeRetry
		}
	}()
	return t.Run(ctx)
}

// NextDelay is the wait before the next run. After success it is uniform in
// [Interval-Flex, Interval]; after the n-th consecutive retry it is
// Backoff*n, capped at MaxBackoff.
func NextDelay(p Policy, outcome Outcome, retries int, jitter func(n int64) int64) time.Duration {
	if outcome == OutcomeRetry {
		d := p.Backoff * time.Duration(retries)
		if d > MaxBackoff || d < 0 {
			d = MaxBackoff
		}
		return d
	}
	flex := p.Flex
	if flex > p.Interval {
		flex = p.Interval
	}
	if flex <= 0 {
		return p.Interval
	}
	return p.Interval - flex + time.Duration(jitter(int64(flex)+1))
}
