package devices

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/rosehq/roselive/pkg/audio"
)

const captureFrameSamples = 1024

// Microphone streams capture frames from an input device. It implements
// session.CaptureSource.
type Microphone struct {
	format     audio.Config
	deviceName string

	mu       sync.Mutex
	stream   *portaudio.Stream
	buffer   []float32
	done     chan struct{}
	finished sync.WaitGroup
}

// NewMicrophone creates a microphone on the default input device at the
// standard capture format.
func NewMicrophone() *Microphone {
	return &Microphone{format: audio.CaptureConfig()}
}

// NewMicrophoneForDevice creates a microphone bound to the named input
// device. The name must match a device reported by List, as resolved by
// FindInput.
func NewMicrophoneForDevice(name string) *Microphone {
	return &Microphone{format: audio.CaptureConfig(), deviceName: name}
}

// Start opens the default input stream and delivers frames to onFrame until
// Stop. Frames arrive on a dedicated goroutine, in capture order.
func (m *Microphone) Start(onFrame func(samples []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return fmt.Errorf("microphone already started")
	}

	buffer := make([]float32, captureFrameSamples*m.format.Channels)
	var stream *portaudio.Stream
	var err error
	if m.deviceName != "" {
		stream, err = m.openNamedStream(buffer)
	} else {
		stream, err = portaudio.OpenDefaultStream(
			m.format.Channels, 0, float64(m.format.SampleRate), captureFrameSamples, buffer)
	}
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("start microphone: %w", err)
	}

	m.stream = stream
	m.buffer = buffer
	m.done = make(chan struct{})
	m.finished.Add(1)
	go m.readLoop(stream, onFrame)
	return nil
}

func (m *Microphone) openNamedStream(buffer []float32) (*portaudio.Stream, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	for _, d := range devs {
		if d.Name != m.deviceName || d.MaxInputChannels < m.format.Channels {
			continue
		}
		p := portaudio.LowLatencyParameters(d, nil)
		p.Input.Channels = m.format.Channels
		p.SampleRate = float64(m.format.SampleRate)
		p.FramesPerBuffer = captureFrameSamples
		return portaudio.OpenStream(p, buffer)
	}
	return nil, fmt.Errorf("input device %q not found", m.deviceName)
}

func (m *Microphone) readLoop(stream *portaudio.Stream, onFrame func([]float32)) {
	defer m.finished.Done()
	for {
		select {
		case <-m.done:
			return
		default:
		}
		if err := stream.Read(); err != nil {
			return
		}
		frame := make([]float32, len(m.buffer))
		copy(frame, m.buffer)
		onFrame(frame)
	}
}

// Stop closes the input stream. Idempotent.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	stream := m.stream
	done := m.done
	m.stream = nil
	m.mu.Unlock()
	if stream == nil {
		return nil
	}

	close(done)
	_ = stream.Stop()
	err := stream.Close()
	m.finished.Wait()
	return err
}
