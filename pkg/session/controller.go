// Package session owns the live voice-conversation pipeline: one remote
// conversational session at a time, the capture and playback paths wired to
// it, transcript reconciliation into durable history, and reconnect
// supervision.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rosehq/roselive/pkg/audio"
	"github.com/rosehq/roselive/pkg/playback"
	"github.com/rosehq/roselive/pkg/transcript"
)

const historyAppendTimeout = 5 * time.Second

// Options configures a Controller.
type Options struct {
	// Dialer opens remote sessions. Required.
	Dialer Dialer

	// Capture is the microphone stream. Required.
	Capture CaptureSource

	// Scheduler plays assistant audio. Required.
	Scheduler *playback.Scheduler

	// History persists flushed turns. Required.
	History HistoryStore

	// Profiles is the profile extractor. Optional; invoked fire-and-forget
	// after every flush.
	Profiles ProfileUpdater

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// UserID keys history and profile persistence.
	UserID string

	// Model and VoiceID configure the remote session.
	Model   string
	VoiceID string

	// Persona overrides DefaultPersona when non-empty.
	Persona string

	// Profile supplies the facts snapshotted at each Open. Optional.
	Profile func() ProfileSnapshot

	// AppContext supplies the application context snapshotted at each Open.
	// Optional.
	AppContext func() string

	// EnableSearch exposes the external search tool to the model.
	EnableSearch bool

	// OnStatus observes coarse status transitions. Optional; called outside
	// internal locks.
	OnStatus func(Status)

	// OnTurns observes every batch of committed turns, for display. Optional.
	OnTurns func(turns []transcript.Turn)
}

// Controller owns at most one live remote session and wires the capture
// path, playback scheduler, and transcript reconciler to it.
type Controller struct {
	opts   Options
	logger *slog.Logger
	rec    *transcript.Reconciler

	muted atomic.Bool

	mu               sync.Mutex
	remote           RemoteSession
	gen              uint64
	opening          bool
	closing          bool
	status           Status
	statusErr        error
	onTransportError func(*Error)
}

// NewController creates a controller. It registers itself for the
// scheduler's drain signal to flip Responding back to Listening.
func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		opts:   opts,
		logger: logger.With("component", "session"),
		rec:    transcript.NewReconciler(),
		status: StatusIdle,
	}
	if opts.Scheduler != nil {
		opts.Scheduler.SetOnDrained(c.onDrained)
	}
	return c
}

// Open acquires the microphone, opens a remote session with a persona
// instruction built from a profile snapshot taken now, and starts the
// capture and event pumps. Opening while a session is active is rejected.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.remote != nil || c.opening {
		c.mu.Unlock()
		return NewConnectionFailed("a live session is already open", nil)
	}
	c.opening = true
	c.gen++
	myGen := c.gen
	c.statusErr = nil
	notify := c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()
	notify()

	cfg := c.buildConfig()

	if err := c.opts.Capture.Start(c.onFrame); err != nil {
		micErr := NewMicrophoneUnavailable("could not start microphone", err)
		c.failOpen(micErr)
		return micErr
	}

	remote, err := c.opts.Dialer.Dial(ctx, cfg)
	if err != nil {
		_ = c.opts.Capture.Stop()
		connErr := asError(err, KindConnectionFailed, "remote session rejected open")
		c.failOpen(connErr)
		return connErr
	}

	c.mu.Lock()
	// A Close that raced the dial bumped the generation; the session dialed
	// for the stale generation must not be installed.
	if c.gen != myGen || c.closing {
		c.opening = false
		notify = c.setStatusLocked(StatusIdle)
		c.mu.Unlock()
		notify()
		_ = remote.Close()
		_ = c.opts.Capture.Stop()
		return NewConnectionFailed("session closed while opening", nil)
	}
	c.remote = remote
	c.opening = false
	c.closing = false
	c.rec.Reset()
	notify = c.setStatusLocked(StatusListening)
	c.mu.Unlock()
	notify()

	c.logger.Info("live session open", "model", cfg.Model, "voice", cfg.VoiceID)
	go c.eventLoop(remote)
	return nil
}

// buildConfig snapshots the profile and application context into an
// immutable session config.
func (c *Controller) buildConfig() Config {
	var profile ProfileSnapshot
	if c.opts.Profile != nil {
		profile = c.opts.Profile()
	}
	appContext := ""
	if c.opts.AppContext != nil {
		appContext = c.opts.AppContext()
	}
	return Config{
		Model:               c.opts.Model,
		Instruction:         BuildInstruction(c.opts.Persona, profile, appContext),
		VoiceID:             c.opts.VoiceID,
		InputFormat:         audio.CaptureConfig(),
		OutputFormat:        audio.PlaybackConfig(),
		InputTranscription:  true,
		OutputTranscription: true,
		EnableSearch:        c.opts.EnableSearch,
	}
}

func (c *Controller) failOpen(err *Error) {
	c.mu.Lock()
	c.opening = false
	c.statusErr = err
	notify := c.setStatusLocked(StatusError)
	c.mu.Unlock()
	notify()
	c.logger.Warn("session open failed", "error", err)
}

// asError preserves an existing pipeline error and wraps anything else.
func asError(err error, kind Kind, message string) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// onFrame is the capture callback: encode and forward, in arrival order.
// Forwarding stops as soon as close begins, even if frames keep arriving.
func (c *Controller) onFrame(samples []float32) {
	c.mu.Lock()
	remote := c.remote
	closing := c.closing
	c.mu.Unlock()
	if remote == nil || closing {
		return
	}

	if err := remote.SendAudioFrame(audio.EncodeFloat32(samples)); err != nil {
		c.logger.Debug("dropping capture frame", "error", err)
	}
}

func (c *Controller) eventLoop(remote RemoteSession) {
	for ev := range remote.Events() {
		switch e := ev.(type) {
		case UserTranscriptEvent:
			if e.Final {
				c.rec.ApplyFinal(transcript.SpeakerUser, e.Text)
			} else {
				c.rec.ApplyPartial(transcript.SpeakerUser, e.Text)
			}
		case AssistantTranscriptEvent:
			if e.Final {
				c.rec.ApplyFinal(transcript.SpeakerAssistant, e.Text)
			} else {
				c.rec.ApplyPartial(transcript.SpeakerAssistant, e.Text)
			}
		case AudioChunkEvent:
			c.handleAudio(e.Data)
		case InterruptedEvent:
			// Barge-in: drop everything scheduled, immediately.
			c.opts.Scheduler.Interrupt()
		case TurnCompleteEvent:
			c.flushTurns()
		case ErrorEvent:
			c.transportError(remote, asError(e.Err, KindTransport, "live session failed"))
			return
		case ClosedEvent:
			c.transportError(remote, NewTransportError("session closed by remote", nil))
			return
		}
	}

	// Event channel closed without an explicit error or close event.
	c.transportError(remote, NewTransportError("session stream ended unexpectedly", nil))
}

// handleAudio schedules an assistant audio chunk, or consumes and drops it
// while muted. Mute is read per chunk so toggling takes effect on the next
// one; muted chunks are never buffered for catch-up playback.
func (c *Controller) handleAudio(data []byte) {
	if c.muted.Load() {
		return
	}
	c.opts.Scheduler.Enqueue(data)

	c.mu.Lock()
	var notify func()
	if c.remote != nil && c.status == StatusListening {
		notify = c.setStatusLocked(StatusResponding)
	}
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// onDrained fires when the scheduler's active set empties, by natural drain
// or interrupt.
func (c *Controller) onDrained() {
	c.mu.Lock()
	var notify func()
	if c.remote != nil && c.status == StatusResponding {
		notify = c.setStatusLocked(StatusListening)
	}
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// flushTurns commits accumulated transcripts to history and kicks off the
// profile extractor. Profile failures never affect the session.
func (c *Controller) flushTurns() {
	turns := c.rec.Flush()
	if len(turns) == 0 {
		return
	}
	c.appendHistory(turns)
	if c.opts.OnTurns != nil {
		c.opts.OnTurns(turns)
	}

	if c.opts.Profiles != nil {
		recent := append([]transcript.Turn(nil), turns...)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), historyAppendTimeout)
			defer cancel()
			if err := c.opts.Profiles.Update(ctx, c.opts.UserID, recent); err != nil {
				c.logger.Warn("profile update failed", "error", err)
			}
		}()
	}
}

func (c *Controller) appendHistory(turns []transcript.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), historyAppendTimeout)
	defer cancel()
	if err := c.opts.History.Append(ctx, c.opts.UserID, turns); err != nil {
		c.logger.Warn("history append failed", "count", len(turns), "error", err)
	}
}

// transportError routes an open-session failure to the supervisor when one
// is attached, or tears the session down terminally otherwise. Failures are
// keyed to the session that raised them: an event loop outliving its session
// must never tear down a successor installed by a later Open. Runs the
// handler on its own goroutine so it is safe to invoke from the event loop.
func (c *Controller) transportError(from RemoteSession, err *Error) {
	c.mu.Lock()
	if c.closing || c.remote != from {
		c.mu.Unlock()
		return
	}
	handler := c.onTransportError
	c.mu.Unlock()

	c.logger.Warn("transport error", "error", err)
	if handler != nil {
		go handler(err)
		return
	}
	_ = c.Close()
	c.setTerminal(err)
}

// SetOnTransportError attaches the reconnect supervisor's error handler.
func (c *Controller) SetOnTransportError(fn func(*Error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTransportError = fn
}

// Close tears the session down in a fixed order: remote session, microphone,
// scheduled playback, then the reconciler's teardown flush. Idempotent, and
// safe to call from an error callback.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.gen++
	remote := c.remote
	// Invalidate the handle before teardown so a reconnect can never race a
	// second teardown of the same session.
	c.remote = nil
	c.mu.Unlock()

	if remote != nil {
		_ = remote.Close()
	}
	_ = c.opts.Capture.Stop()
	if c.opts.Scheduler != nil {
		c.opts.Scheduler.Interrupt()
	}

	// Trailing-utterance flush: a dropped connection must not lose the last
	// thing the user said.
	if turns := c.rec.Teardown(); len(turns) > 0 {
		c.appendHistory(turns)
		if c.opts.OnTurns != nil {
			c.opts.OnTurns(turns)
		}
	}

	c.mu.Lock()
	c.closing = false
	notify := c.setStatusLocked(StatusIdle)
	c.mu.Unlock()
	notify()

	if remote != nil {
		c.logger.Info("live session closed")
	}
	return nil
}

// setTerminal records a terminal error status after Close.
func (c *Controller) setTerminal(err error) {
	c.mu.Lock()
	c.statusErr = err
	notify := c.setStatusLocked(StatusError)
	c.mu.Unlock()
	notify()
}

// setStatusLocked updates status and returns the observer notification to
// run after the lock is released.
func (c *Controller) setStatusLocked(st Status) func() {
	c.status = st
	fn := c.opts.OnStatus
	if fn == nil {
		return func() {}
	}
	return func() { fn(st) }
}

// Status returns the coarse observable status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the error behind a StatusError, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusErr
}

// SetMuted toggles assistant audio playback. Takes effect on the next chunk.
func (c *Controller) SetMuted(muted bool) {
	c.muted.Store(muted)
}

// Muted reports whether assistant audio is being dropped.
func (c *Controller) Muted() bool {
	return c.muted.Load()
}

// LiveTranscript returns the in-flight fragment for a side, for display.
func (c *Controller) LiveTranscript(speaker transcript.Speaker) string {
	return c.rec.Live(speaker)
}
