// Package playback schedules decoded audio segments for gapless,
// non-overlapping playback on a shared output timeline.
package playback

import (
	"sync"
	"time"

	"github.com/rosehq/roselive/pkg/audio"
)

// Sink is the device behind the scheduler: it accepts raw s16le PCM.
type Sink interface {
	Write(pcm []byte) error
	Close() error
}

type segment struct {
	id       uint64
	start    time.Duration
	duration time.Duration

	startTimer Timer
	doneTimer  Timer
}

// Scheduler accepts decoded audio segments in arrival order and plays them
// back-to-back on a shared timeline. Segments enqueued while earlier ones are
// still pending start exactly where the previous segment ends; a slow
// producer just plays immediately.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	sink   Sink
	format audio.Config

	cursor time.Duration
	nextID uint64
	active map[uint64]*segment

	onDrained func()
}

// NewScheduler creates a scheduler that writes to sink in the given format,
// driven by the wall clock.
func NewScheduler(sink Sink, format audio.Config) *Scheduler {
	return newScheduler(sink, format, newRealClock())
}

func newScheduler(sink Sink, format audio.Config, clock Clock) *Scheduler {
	return &Scheduler{
		clock:  clock,
		sink:   sink,
		format: format,
		active: make(map[uint64]*segment),
	}
}

// SetOnDrained registers a callback that fires whenever the active segment
// set becomes empty, either by natural drain or by Interrupt. The controller
// uses it to flip between responding and listening status.
func (s *Scheduler) SetOnDrained(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrained = fn
}

// Enqueue schedules pcm to begin at max(timeline cursor, now) and advances
// the cursor past it. Returns the scheduled start offset on the shared
// timeline.
func (s *Scheduler) Enqueue(pcm []byte) time.Duration {
	if len(pcm) == 0 {
		s.mu.Lock()
		start := s.cursor
		s.mu.Unlock()
		return start
	}

	s.mu.Lock()

	now := s.clock.Now()
	start := s.cursor
	if now > start {
		start = now
	}
	duration := s.format.Duration(len(pcm))
	s.cursor = start + duration

	s.nextID++
	seg := &segment{
		id:       s.nextID,
		start:    start,
		duration: duration,
	}
	s.active[seg.id] = seg

	data := pcm
	seg.startTimer = s.clock.AfterFunc(start-now, func() {
		_ = s.sink.Write(data)
	})
	seg.doneTimer = s.clock.AfterFunc(start+duration-now, func() {
		s.finish(seg.id)
	})

	s.mu.Unlock()
	return start
}

func (s *Scheduler) finish(id uint64) {
	s.mu.Lock()
	_, ok := s.active[id]
	if ok {
		delete(s.active, id)
	}
	drained := ok && len(s.active) == 0
	fn := s.onDrained
	s.mu.Unlock()

	if drained && fn != nil {
		fn()
	}
}

// Interrupt stops every active segment immediately, clears the set, and
// resets the timeline cursor so the next enqueue starts fresh. Safe to call
// repeatedly and with no segments active; stopping an already-finished
// segment is a no-op.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	hadActive := len(s.active) > 0
	for id, seg := range s.active {
		if seg.startTimer != nil {
			seg.startTimer.Stop()
		}
		if seg.doneTimer != nil {
			seg.doneTimer.Stop()
		}
		delete(s.active, id)
	}
	s.cursor = 0
	fn := s.onDrained
	s.mu.Unlock()

	if hadActive && fn != nil {
		fn()
	}
}

// Active returns the number of segments scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor returns the current end of the scheduled timeline.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
