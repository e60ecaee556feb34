// Package greeting is the one-shot speech side-channel: it synthesizes and
// plays a single utterance on its own short-lived output, independent of the
// live session's scheduler, so it can run before any session exists.
package greeting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rosehq/roselive/pkg/audio"
	"github.com/rosehq/roselive/pkg/playback"
	"github.com/rosehq/roselive/pkg/session"
)

// Synthesizer is the one-shot text-to-speech collaborator. It returns s16le
// PCM at the playback format.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// SinkFactory opens a fresh short-lived output for one utterance. The
// greeter closes it when playback ends.
type SinkFactory func() (playback.Sink, error)

// Greeter speaks greetings at most once per text per lifecycle.
type Greeter struct {
	synth   Synthesizer
	newSink SinkFactory
	format  audio.Config
	voiceID string
	logger  *slog.Logger

	// wait blocks for the utterance's playback duration. Swapped in tests.
	wait func(time.Duration)

	mu     sync.Mutex
	spoken map[string]bool
}

// NewGreeter creates a greeter playing at the standard playback format.
func NewGreeter(synth Synthesizer, newSink SinkFactory, voiceID string, logger *slog.Logger) *Greeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Greeter{
		synth:   synth,
		newSink: newSink,
		format:  audio.PlaybackConfig(),
		voiceID: voiceID,
		logger:  logger.With("component", "greeting"),
		wait:    time.Sleep,
		spoken:  make(map[string]bool),
	}
}

// SpeakOnce synthesizes and plays one utterance, then signals done exactly
// once. A failure is reported through done rather than stalling the caller.
// The same text speaks at most once per lifecycle; repeats signal done
// immediately without synthesizing again.
func (g *Greeter) SpeakOnce(ctx context.Context, text string, done func(err error)) {
	g.mu.Lock()
	if g.spoken[text] {
		g.mu.Unlock()
		if done != nil {
			done(nil)
		}
		return
	}
	g.spoken[text] = true
	g.mu.Unlock()

	go g.speak(ctx, text, done)
}

func (g *Greeter) speak(ctx context.Context, text string, done func(err error)) {
	var once sync.Once
	signal := func(err error) {
		once.Do(func() {
			if done != nil {
				done(err)
			}
		})
	}

	pcm, err := g.synth.Synthesize(ctx, text, g.voiceID)
	if err != nil {
		err = session.NewSynthesisFailed("greeting synthesis failed", err)
		g.logger.Warn("greeting skipped", "error", err)
		signal(err)
		return
	}

	sink, err := g.newSink()
	if err != nil {
		err = session.NewSynthesisFailed("greeting output unavailable", err)
		g.logger.Warn("greeting skipped", "error", err)
		signal(err)
		return
	}
	defer sink.Close()

	// Write may itself block for most of the playback time on a real output
	// device, so only the remainder of the utterance is waited out.
	start := time.Now()
	if err := sink.Write(pcm); err != nil {
		g.logger.Warn("greeting playback failed", "error", err)
		signal(err)
		return
	}
	if remaining := g.format.Duration(len(pcm)) - time.Since(start); remaining > 0 {
		g.wait(remaining)
	}
	signal(nil)
}

// Reset allows all greetings to speak again, for a new lifecycle.
func (g *Greeter) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spoken = make(map[string]bool)
}
