package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultMaxAttempts is the reconnect budget for consecutive transport
	// errors.
	DefaultMaxAttempts = 3

	// DefaultRetryBase is multiplied by the attempt number to produce the
	// backoff delay.
	DefaultRetryBase = 2500 * time.Millisecond
)

// SupervisorOptions configures a Supervisor. Zero values take the defaults.
type SupervisorOptions struct {
	MaxAttempts int
	RetryBase   time.Duration
	Logger      *slog.Logger

	// OnRetry observes each scheduled reconnect, for countdown display.
	// Optional.
	OnRetry func(attempt int, delay time.Duration)
}

// Supervisor reopens a controller's session after transport errors, with
// linear backoff and a bounded budget of consecutive failures. A successful
// reconnect resets the budget; exhausting it leaves the controller in a
// terminal error state that only an explicit Start clears.
type Supervisor struct {
	ctrl        *Controller
	logger      *slog.Logger
	maxAttempts int
	retryBase   time.Duration
	onRetry     func(int, time.Duration)

	// sleep waits for the delay or until stop closes. Swapped in tests.
	sleep func(d time.Duration, stop <-chan struct{}) bool

	mu       sync.Mutex
	ctx      context.Context
	attempts int
	stop     chan struct{}
	stopped  bool
}

// NewSupervisor wraps a controller and attaches itself as its transport
// error handler.
func NewSupervisor(ctrl *Controller, opts SupervisorOptions) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		ctrl:        ctrl,
		logger:      logger.With("component", "supervisor"),
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBase,
		onRetry:     opts.OnRetry,
		stopped:     true,
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.retryBase <= 0 {
		s.retryBase = DefaultRetryBase
	}
	s.sleep = func(d time.Duration, stop <-chan struct{}) bool {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return true
		case <-stop:
			return false
		}
	}
	ctrl.SetOnTransportError(s.handle)
	return s
}

// Start opens a supervised session with a fresh reconnect budget.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.attempts = 0
	s.stopped = false
	s.stop = make(chan struct{})
	s.mu.Unlock()
	return s.ctrl.Open(ctx)
}

// Stop ends supervision and closes the session. Pending retries are
// abandoned.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stop)
	s.mu.Unlock()
	return s.ctrl.Close()
}

// Attempts returns the consecutive transport failures since the last
// successful open.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// handle runs on its own goroutine for every transport error of an open
// session: close the broken session first, then either back off and reopen
// or give up terminally.
func (s *Supervisor) handle(cause *Error) {
	_ = s.ctrl.Close()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.attempts++
	attempt := s.attempts
	ctx := s.ctx
	stop := s.stop
	s.mu.Unlock()

	if attempt >= s.maxAttempts {
		s.logger.Error("reconnect budget exhausted", "attempts", attempt, "cause", cause)
		s.ctrl.setTerminal(cause)
		return
	}

	delay := time.Duration(attempt) * s.retryBase
	s.logger.Warn("session lost, reconnecting", "attempt", attempt, "delay", delay, "cause", cause)
	if s.onRetry != nil {
		s.onRetry(attempt, delay)
	}
	if !s.sleep(delay, stop) {
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.ctrl.Open(ctx); err != nil {
		// A failed reopen counts against the same consecutive budget.
		s.handle(asError(err, KindConnectionFailed, "reconnect failed"))
		return
	}

	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
	s.logger.Info("session reconnected", "attempt", attempt)
}
