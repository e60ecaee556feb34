package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rosehq/roselive/pkg/audio"
	"github.com/rosehq/roselive/pkg/playback"
	"github.com/rosehq/roselive/pkg/transcript"
)

type fakeRemote struct {
	mu     sync.Mutex
	events chan Event
	frames [][]byte
	closed bool
	// linger keeps the event channel open after Close, modelling a session
	// whose read loop tears down asynchronously and can still deliver a
	// trailing event.
	linger bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{events: make(chan Event, 16)}
}

func (r *fakeRemote) SendAudioFrame(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), pcm...))
	return nil
}

func (r *fakeRemote) Events() <-chan Event { return r.events }

func (r *fakeRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		if !r.linger {
			close(r.events)
		}
	}
	return nil
}

func (r *fakeRemote) emit(ev Event) { r.events <- ev }

func (r *fakeRemote) sentFrames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

func (r *fakeRemote) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type fakeDialer struct {
	mu          sync.Mutex
	remotes     []*fakeRemote
	errs        []error
	dials       int
	configs     []Config
	lingerClose bool
	// dialStarted/dialHold let a test pause a dial mid-flight.
	dialStarted chan struct{}
	dialHold    chan struct{}
}

func (d *fakeDialer) Dial(_ context.Context, cfg Config) (RemoteSession, error) {
	d.mu.Lock()
	i := d.dials
	d.dials++
	d.configs = append(d.configs, cfg)
	var err error
	if i < len(d.errs) {
		err = d.errs[i]
	}
	started := d.dialStarted
	hold := d.dialHold
	d.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if hold != nil {
		<-hold
	}
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	r := newFakeRemote()
	r.linger = d.lingerClose
	d.remotes = append(d.remotes, r)
	return r, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) remote(i int) *fakeRemote {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remotes[i]
}

type fakeCapture struct {
	mu       sync.Mutex
	onFrame  func([]float32)
	startErr error
	starts   int
	stops    int
}

func (c *fakeCapture) Start(onFrame func([]float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.starts++
	c.onFrame = onFrame
	return nil
}

func (c *fakeCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *fakeCapture) deliver(samples []float32) {
	c.mu.Lock()
	fn := c.onFrame
	c.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

func (c *fakeCapture) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

type recordingStore struct {
	mu    sync.Mutex
	turns []transcript.Turn
}

func (s *recordingStore) Load(context.Context, string) ([]transcript.Turn, error) {
	return nil, nil
}

func (s *recordingStore) Append(_ context.Context, _ string, turns []transcript.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turns...)
	return nil
}

func (s *recordingStore) stored() []transcript.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transcript.Turn(nil), s.turns...)
}

type nopSink struct{}

func (nopSink) Write([]byte) error { return nil }
func (nopSink) Close() error       { return nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	dialer    *fakeDialer
	capture   *fakeCapture
	store     *recordingStore
	scheduler *playback.Scheduler
	ctrl      *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dialer:  &fakeDialer{},
		capture: &fakeCapture{},
		store:   &recordingStore{},
	}
	h.scheduler = playback.NewScheduler(nopSink{}, audio.PlaybackConfig())
	h.ctrl = NewController(Options{
		Dialer:    h.dialer,
		Capture:   h.capture,
		Scheduler: h.scheduler,
		History:   h.store,
		UserID:    "user-1",
		Model:     "test-model",
		VoiceID:   "test-voice",
	})
	return h
}

func TestOpenRejectsSecondSession(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Open(context.Background()); err != nil {
		t.Fatalf("first open: %v", err)
	}
	defer h.ctrl.Close()

	if err := h.ctrl.Open(context.Background()); err == nil {
		t.Fatal("second open succeeded with a session already active")
	}
	if got := h.dialer.dialCount(); got != 1 {
		t.Errorf("dial count = %d, want 1", got)
	}
}

func TestOpenMicrophoneFailure(t *testing.T) {
	h := newHarness(t)
	h.capture.startErr = errors.New("device busy")

	err := h.ctrl.Open(context.Background())
	if !IsKind(err, KindMicrophoneUnavailable) {
		t.Fatalf("open error = %v, want microphone_unavailable", err)
	}
	if h.dialer.dialCount() != 0 {
		t.Error("dialed remote despite microphone failure")
	}
	if got := h.ctrl.Status(); got != StatusError {
		t.Errorf("status = %v, want %v", got, StatusError)
	}
}

func TestOpenDialFailure(t *testing.T) {
	h := newHarness(t)
	h.dialer.errs = []error{errors.New("unreachable")}

	err := h.ctrl.Open(context.Background())
	if !IsKind(err, KindConnectionFailed) {
		t.Fatalf("open error = %v, want connection_failed", err)
	}
	if got := h.capture.stopCount(); got != 1 {
		t.Errorf("capture stops = %d, want 1 (released after failed dial)", got)
	}
	if got := h.ctrl.Status(); got != StatusError {
		t.Errorf("status = %v, want %v", got, StatusError)
	}
}

func TestCaptureFramesEncodedAndForwarded(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.ctrl.Close()

	samples := []float32{0, 0.5, -0.5, 1}
	h.capture.deliver(samples)

	frames := h.dialer.remote(0).sentFrames()
	if len(frames) != 1 {
		t.Fatalf("forwarded %d frames, want 1", len(frames))
	}
	if want := audio.EncodeFloat32(samples); !bytes.Equal(frames[0], want) {
		t.Errorf("frame = %x, want %x", frames[0], want)
	}
}

func TestTurnCompleteFlushesUserFirst(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.ctrl.Close()

	remote := h.dialer.remote(0)
	remote.emit(AssistantTranscriptEvent{Text: "hi there", Final: true})
	remote.emit(UserTranscriptEvent{Text: "hel", Final: false})
	remote.emit(UserTranscriptEvent{Text: "hello", Final: true})
	remote.emit(TurnCompleteEvent{})

	waitFor(t, "flushed turns", func() bool { return len(h.store.stored()) == 2 })
	turns := h.store.stored()
	if turns[0].Speaker != transcript.SpeakerUser || turns[0].Text != "hello" {
		t.Errorf("turns[0] = %v %q, want user %q", turns[0].Speaker, turns[0].Text, "hello")
	}
	if turns[1].Speaker != transcript.SpeakerAssistant || turns[1].Text != "hi there" {
		t.Errorf("turns[1] = %v %q, want assistant %q", turns[1].Speaker, turns[1].Text, "hi there")
	}
}

func TestMutedAudioDropped(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.ctrl.Close()
	h.ctrl.SetMuted(true)

	remote := h.dialer.remote(0)
	remote.emit(AudioChunkEvent{Data: make([]byte, 48000)})
	// A trailing transcript event proves the audio chunk was consumed.
	remote.emit(UserTranscriptEvent{Text: "marker", Final: false})

	waitFor(t, "marker transcript", func() bool {
		return h.ctrl.LiveTranscript(transcript.SpeakerUser) == "marker"
	})
	if got := h.scheduler.Active(); got != 0 {
		t.Errorf("scheduled %d segments while muted, want 0", got)
	}
	if got := h.ctrl.Status(); got != StatusListening {
		t.Errorf("status = %v, want %v", got, StatusListening)
	}

	// Unmuting mid-stream lets the chunks that arrive afterwards play.
	h.ctrl.SetMuted(false)
	remote.emit(AudioChunkEvent{Data: make([]byte, 96000)})
	waitFor(t, "audio scheduled after unmute", func() bool {
		return h.scheduler.Active() > 0
	})
}

func TestBargeInStopsPlayback(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.ctrl.Close()

	remote := h.dialer.remote(0)
	remote.emit(AudioChunkEvent{Data: make([]byte, 96000)})
	waitFor(t, "audio scheduled", func() bool { return h.scheduler.Active() > 0 })
	waitFor(t, "responding status", func() bool { return h.ctrl.Status() == StatusResponding })

	remote.emit(InterruptedEvent{})
	waitFor(t, "playback stopped", func() bool { return h.scheduler.Active() == 0 })
	waitFor(t, "listening status", func() bool { return h.ctrl.Status() == StatusListening })
	if got := h.scheduler.Cursor(); got != 0 {
		t.Errorf("cursor = %v after interrupt, want 0", got)
	}
}

func TestCloseFlushesTrailingUserTurnOnce(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	remote := h.dialer.remote(0)
	remote.emit(UserTranscriptEvent{Text: "one last thing", Final: true})
	waitFor(t, "final committed", func() bool {
		return h.ctrl.rec.State(transcript.SpeakerUser) == transcript.SideCommitted
	})

	if err := h.ctrl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.ctrl.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	turns := h.store.stored()
	if len(turns) != 1 {
		t.Fatalf("stored %d turns, want exactly 1", len(turns))
	}
	if turns[0].Speaker != transcript.SpeakerUser || turns[0].Text != "one last thing" {
		t.Errorf("stored turn = %v %q", turns[0].Speaker, turns[0].Text)
	}
	if !remote.isClosed() {
		t.Error("remote session left open")
	}
	if got := h.capture.stopCount(); got == 0 {
		t.Error("capture never stopped")
	}
	if got := h.ctrl.Status(); got != StatusIdle {
		t.Errorf("status = %v, want %v", got, StatusIdle)
	}
}

func TestTransportErrorWithoutSupervisorIsTerminal(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	h.dialer.remote(0).emit(ErrorEvent{Err: errors.New("stream reset")})

	waitFor(t, "terminal status", func() bool { return h.ctrl.Status() == StatusError })
	if !IsKind(h.ctrl.Err(), KindTransport) {
		t.Errorf("terminal err = %v, want transport kind", h.ctrl.Err())
	}
	if got := h.capture.stopCount(); got == 0 {
		t.Error("capture never stopped after transport error")
	}
}

func TestStaleSessionEventsIgnoredAfterReopen(t *testing.T) {
	h := newHarness(t)
	h.dialer.lingerClose = true

	if err := h.ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	first := h.dialer.remote(0)
	if err := h.ctrl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.ctrl.Open(context.Background()); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer h.ctrl.Close()
	second := h.dialer.remote(1)

	// The first session's event loop is still draining; its late close
	// notification must not touch the replacement session.
	first.emit(ClosedEvent{Reason: "late"})

	time.Sleep(50 * time.Millisecond)
	if second.isClosed() {
		t.Error("replacement session was closed by a stale event")
	}
	if got := h.ctrl.Status(); got != StatusListening {
		t.Errorf("status = %v, want %v", got, StatusListening)
	}
	if err := h.ctrl.Err(); err != nil {
		t.Errorf("unexpected terminal error: %v", err)
	}
	if got := h.dialer.dialCount(); got != 2 {
		t.Errorf("dial count = %d, want 2", got)
	}
}

func TestCloseDuringOpenAbandonsDialedSession(t *testing.T) {
	h := newHarness(t)
	h.dialer.dialStarted = make(chan struct{}, 1)
	h.dialer.dialHold = make(chan struct{})

	openErr := make(chan error, 1)
	go func() { openErr <- h.ctrl.Open(context.Background()) }()
	<-h.dialer.dialStarted

	// User stops while the dial is still in flight.
	if err := h.ctrl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(h.dialer.dialHold)

	err := <-openErr
	if !IsKind(err, KindConnectionFailed) {
		t.Fatalf("open error = %v, want connection_failed", err)
	}
	if !h.dialer.remote(0).isClosed() {
		t.Error("dialed session left open after close won the race")
	}
	if got := h.ctrl.Status(); got != StatusIdle {
		t.Errorf("status = %v, want %v", got, StatusIdle)
	}

	// The controller is reusable: a fresh open installs a new session.
	h.dialer.mu.Lock()
	h.dialer.dialHold = nil
	h.dialer.mu.Unlock()
	if err := h.ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open after abandoned dial: %v", err)
	}
	defer h.ctrl.Close()
	if got := h.ctrl.Status(); got != StatusListening {
		t.Errorf("status = %v, want %v", got, StatusListening)
	}
}

func TestInstructionSnapshotAtOpen(t *testing.T) {
	h := newHarness(t)
	facts := map[string]string{"name": "Sam"}
	h.ctrl.opts.Profile = func() ProfileSnapshot { return SnapshotProfile(facts) }

	if err := h.ctrl.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.ctrl.Close()

	// Mutating the source after open must not change the session config.
	facts["name"] = "Alex"
	cfg := h.dialer.configs[0]
	if want := "- name: Sam"; !contains(cfg.Instruction, want) {
		t.Errorf("instruction missing %q:\n%s", want, cfg.Instruction)
	}
	if !cfg.InputTranscription || !cfg.OutputTranscription {
		t.Error("transcription not requested for both sides")
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && bytes.Contains([]byte(s), []byte(sub))
}
