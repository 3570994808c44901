package player

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xlog "github.com/voyagen/iptvmine/internal/log"
	"github.com/voyagen/iptvmine/internal/metrics"
	"github.com/voyagen/iptvmine/internal/models"
)

const (
	// DefaultGrace is how long a fallback attempt gets to start playing.
	DefaultGrace = 2 * time.Second
	// DefaultMaxBehindLive bounds consecutive live-edge reseeks without reaching Ready.
	DefaultMaxBehindLive = 3

	eventBuffer = 64
)

// ErrNoSession is returned by operations that need an active session.
var ErrNoSession = errors.New("player: no active session")

// State is the playback state of a session.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateReady
	StateBuffering
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateReady:
		return "ready"
	case StateBuffering:
		return "buffering"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Decoder is the external media pipeline. Load may be called again after
// Release. Its methods run under the engine lock, so state and error
// callbacks must be delivered from another goroutine.
type Decoder interface {
	Load(Item) error
	SeekToDefaultPosition()
	Prepare()
	// Position returns the playback position and the (live window) duration.
	Position() (pos, dur time.Duration)
	IsPlaying() bool
	Release()
}

// Timer is a pending one-shot callback.
type Timer interface {
	Stop() bool
}

// Clock schedules the fallback grace checks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Session is a snapshot of the active channel's playback.
type Session struct {
	ID       string         `json:"id"`
	Channel  models.Channel `json:"channel"`
	Format   Format         `json:"format"`
	Item     Item           `json:"item"`
	Live     bool           `json:"live"`
	Attempt  int            `json:"attempt"`
	Position time.Duration  `json:"position"`
	State    State          `json:"state"`
}

// EventKind tells what an Event carries.
type EventKind int

const (
	EventState EventKind = iota
	EventItem
	EventReconnecting
	EventError
)

// Event is emitted to the playback surface.
type Event struct {
	Kind  EventKind
	State State
	Item  Item
	Err   *UserError
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithGrace(d time.Duration) Option {
	return func(e *Engine) { e.grace = d }
}

func WithMaxBehindLive(n int) Option {
	return func(e *Engine) { e.maxBehindLive = n }
}

// Engine runs one playback session at a time over a Decoder.
//
// State is guarded by a mutex because grace timers fire on their own
// goroutine; callers still drive one session from one goroutine.
type Engine struct {
	dec           Decoder
	clock         Clock
	logger        zerolog.Logger
	grace         time.Duration
	maxBehindLive int
	events        chan Event

	mu         sync.Mutex
	session    *Session
	uri        string // effective URL after an https upgrade
	token      uint64 // bumped on every load; stale timers compare against it
	timer      Timer
	behindLive int
	httpsTried bool
	rawTried   bool
	fallback   int // index into FallbackOrder, -1 when idle
	lastPos    time.Duration
}

func NewEngine(dec Decoder, opts ...Option) *Engine {
	e := &Engine{
		dec:           dec,
		clock:         realClock{},
		logger:        xlog.WithComponent("player"),
		grace:         DefaultGrace,
		maxBehindLive: DefaultMaxBehindLive,
		events:        make(chan Event, eventBuffer),
		fallback:      -1,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Events delivers state, item and error events. Events are dropped when
// the buffer is full.
func (e *Engine) Events() <-chan Event { return e.events }

// Prepare tears down any previous session and starts playing ch.
func (e *Engine) Prepare(ch models.Channel) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.teardownLocked()
	item := BuildItem(ch.StreamURL)
	e.session = &Session{
		ID:      uuid.NewString(),
		Channel: ch,
		Format:  InferFormat(ch.StreamURL),
		Live:    item.Live != nil,
		State:   StateIdle,
	}
	e.uri = ch.StreamURL
	e.logger.Info().Str(xlog.FieldEvent, "player.prepare").
		Str(xlog.FieldSessionID, e.session.ID).
		Str(xlog.FieldChannel, ch.Name).
		Str(xlog.FieldFormat, e.session.Format.String()).
		Bool("live", e.session.Live).
		Msg("preparing channel")

	if err := e.loadLocked(item); err != nil {
		e.failLocked(&UserError{Category: CategoryGeneric, Message: "Error playing stream: " + err.Error(), Diagnostic: err.Error()})
		return *e.session, err
	}
	return *e.session, nil
}

// Session returns a copy of the active session.
func (e *Engine) Session() (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return Session{}, false
	}
	return *e.session, true
}

// OnStateChanged is called by the decoder host.
func (e *Engine) OnStateChanged(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return
	}
	if s == StateReady {
		if e.fallback >= 0 {
			e.logger.Info().Str(xlog.FieldEvent, "player.fallback_ok").
				Str(xlog.FieldSessionID, e.session.ID).
				Str(xlog.FieldFormat, FallbackOrder[e.fallback].String()).
				Msg("fallback format playing")
		}
		e.stopTimerLocked()
		e.fallback = -1
		e.behindLive = 0
	}
	e.setStateLocked(s)
}

// OnError is called by the decoder host and runs the recovery chain.
func (e *Engine) OnError(perr PlaybackError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str(xlog.FieldSessionID, e.session.ID).Msg("recovery panicked")
			e.failLocked(&UserError{Category: CategoryGeneric, Message: "Playback error: " + perr.Code.String(), Diagnostic: perr.Error()})
		}
	}()

	log := e.logger.With().Str(xlog.FieldSessionID, e.session.ID).Str("code", perr.Code.String()).Logger()
	log.Warn().Err(perr).Str(xlog.FieldEvent, "player.error").Msg("playback error")

	// An error while a fallback attempt is in flight moves on to the next format.
	if e.fallback >= 0 {
		e.tryFallbackLocked(e.fallback + 1)
		return
	}

	switch classify(perr) {
	case classBehindLive:
		if e.behindLive < e.maxBehindLive {
			e.behindLive++
			metrics.RecordRecovery("behind_live")
			e.emitLocked(Event{Kind: EventReconnecting, State: StatePreparing})
			e.dec.SeekToDefaultPosition()
			e.dec.Prepare()
			e.session.Attempt++
			e.setStateLocked(StatePreparing)
			return
		}
	case classCleartext:
		if !e.httpsTried && strings.HasPrefix(e.uri, "http://") {
			e.httpsTried = true
			metrics.RecordRecovery("https_upgrade")
			e.uri = "https://" + strings.TrimPrefix(e.uri, "http://")
			log.Info().Str(xlog.FieldURL, e.uri).Msg("retrying over https")
			if err := e.loadLocked(BuildItem(e.uri)); err == nil {
				return
			}
		}
	case classMalformed:
		if !e.rawTried {
			e.rawTried = true
			metrics.RecordRecovery("raw_item")
			log.Info().Msg("retrying without format hint")
			if err := e.loadLocked(rawItem(e.uri)); err == nil {
				return
			}
		}
	case classFormat:
		metrics.RecordRecovery("format_fallback")
		e.tryFallbackLocked(0)
		return
	}
	e.failLocked(userError(perr))
}

// tryFallbackLocked loads FallbackOrder[idx:] until one loads, arming a grace
// check for it. Running off the end is terminal.
func (e *Engine) tryFallbackLocked(idx int) {
	for ; idx < len(FallbackOrder); idx++ {
		f := FallbackOrder[idx]
		e.fallback = idx
		item := itemWithFormat(e.uri, f)
		e.logger.Debug().Str(xlog.FieldSessionID, e.session.ID).
			Str(xlog.FieldFormat, f.String()).Int(xlog.FieldAttempt, idx+1).
			Msg("trying format")
		if err := e.loadLocked(item); err != nil {
			e.logger.Warn().Err(err).Str(xlog.FieldFormat, f.String()).Msg("format load failed")
			continue
		}
		token, next := e.token, idx+1
		e.timer = e.clock.AfterFunc(e.grace, func() { e.graceExpired(token, next) })
		return
	}
	e.failLocked(&UserError{Category: CategoryFormat, Message: msgFormatExhausted, Diagnostic: "all fallback formats failed"})
}

func (e *Engine) graceExpired(token uint64, next int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || token != e.token || e.fallback < 0 {
		return
	}
	e.timer = nil
	if e.dec.IsPlaying() {
		e.fallback = -1
		return
	}
	e.tryFallbackLocked(next)
}

// loadLocked hands item to the decoder and moves to Preparing.
func (e *Engine) loadLocked(item Item) error {
	e.stopTimerLocked()
	e.token++
	if err := e.dec.Load(item); err != nil {
		return err
	}
	e.dec.Prepare()
	e.session.Item = item
	e.session.Attempt++
	e.emitLocked(Event{Kind: EventItem, State: StatePreparing, Item: item})
	e.setStateLocked(StatePreparing)
	return nil
}

func (e *Engine) failLocked(ue *UserError) {
	e.stopTimerLocked()
	e.fallback = -1
	metrics.RecordPlaybackError(ue.Category)
	e.logger.Error().Str(xlog.FieldEvent, "player.terminal").
		Str(xlog.FieldSessionID, e.session.ID).
		Str(xlog.FieldCategory, ue.Category).
		Str("diagnostic", ue.Diagnostic).
		Msg(ue.Message)
	e.setStateLocked(StateError)
	e.emitLocked(Event{Kind: EventError, State: StateError, Err: ue})
}

func (e *Engine) setStateLocked(s State) {
	old := e.session.State
	e.session.State = s
	if old != s {
		e.logger.Debug().Str(xlog.FieldSessionID, e.session.ID).
			Str(xlog.FieldOldState, old.String()).Str(xlog.FieldNewState, s.String()).
			Msg("state change")
	}
	e.emitLocked(Event{Kind: EventState, State: s})
}

func (e *Engine) emitLocked(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// SavePosition records the current position so it survives Release.
func (e *Engine) SavePosition() (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return e.lastPos, ErrNoSession
	}
	pos, _ := e.dec.Position()
	e.session.Position = pos
	e.lastPos = pos
	return pos, nil
}

// LastPosition is the position saved by the most recent SavePosition or Release.
func (e *Engine) LastPosition() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastPos
}

// Release ends the session: the pending timer is cancelled and the decoder
// released before the session is dropped.
func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.lastPos, _ = e.dec.Position()
	}
	e.teardownLocked()
}

func (e *Engine) teardownLocked() {
	e.stopTimerLocked()
	e.token++
	if e.session != nil {
		e.dec.Release()
		e.logger.Debug().Str(xlog.FieldSessionID, e.session.ID).Msg("session released")
	}
	e.session = nil
	e.uri = ""
	e.behindLive = 0
	e.httpsTried = false
	e.rawTried = false
	e.fallback = -1
}
