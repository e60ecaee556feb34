package devices

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/rosehq/roselive/pkg/audio"
)

const playbackFrameSamples = 1024

// Speaker writes s16le PCM to the default output device. It implements
// playback.Sink.
type Speaker struct {
	format audio.Config

	mu     sync.Mutex
	stream *portaudio.Stream
	buffer []int16
	closed bool
}

// NewSpeaker opens the default output stream at the standard playback
// format.
func NewSpeaker() (*Speaker, error) {
	format := audio.PlaybackConfig()
	buffer := make([]int16, playbackFrameSamples*format.Channels)
	stream, err := portaudio.OpenDefaultStream(
		0, format.Channels, float64(format.SampleRate), playbackFrameSamples, buffer)
	if err != nil {
		return nil, fmt.Errorf("open speaker: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start speaker: %w", err)
	}
	return &Speaker{format: format, stream: stream, buffer: buffer}, nil
}

// Write plays one PCM buffer, blocking until the device has accepted all of
// it. Writes are serialized.
func (s *Speaker) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("speaker is closed")
	}

	samples := len(pcm) / 2
	for offset := 0; offset < samples; offset += len(s.buffer) {
		n := len(s.buffer)
		if rest := samples - offset; rest < n {
			n = rest
			// Zero-pad the tail so a short final frame plays silence, not
			// stale samples.
			for i := range s.buffer {
				s.buffer[i] = 0
			}
		}
		for i := 0; i < n; i++ {
			s.buffer[i] = int16(binary.LittleEndian.Uint16(pcm[(offset+i)*2:]))
		}
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("write speaker frame: %w", err)
		}
	}
	return nil
}

// Close stops and releases the output stream. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.stream.Stop()
	return s.stream.Close()
}
