package audio

import (
	"bytes"
	"math"
	"testing"
	"time"
)

func TestEncodeFloat32RoundTrip(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 0.25, -0.25, 0.999, -0.999, 1, -1}

	pcm := EncodeFloat32(samples)
	if len(pcm) != len(samples)*2 {
		t.Fatalf("expected %d bytes, got %d", len(samples)*2, len(pcm))
	}

	decoded := DecodePCM16(pcm, 1)
	if len(decoded) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(decoded))
	}
	if len(decoded[0]) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(decoded[0]))
	}

	for i, want := range samples {
		got := decoded[0][i]
		if math.Abs(float64(got-want)) > 1.0/32768.0 {
			t.Errorf("sample %d: expected %.6f, got %.6f", i, want, got)
		}
	}
}

func TestEncodeFloat32Clamps(t *testing.T) {
	pcm := EncodeFloat32([]float32{2.0, -2.0})

	hi := int16(pcm[0]) | int16(pcm[1])<<8
	lo := int16(pcm[2]) | int16(pcm[3])<<8

	if hi != 32767 {
		t.Errorf("expected +2.0 to clamp to 32767, got %d", hi)
	}
	if lo != -32768 {
		t.Errorf("expected -2.0 to clamp to -32768, got %d", lo)
	}
}

func TestDecodePCM16DeinterleavesChannels(t *testing.T) {
	// Two frames of stereo: L=100 R=-100, L=200 R=-200.
	pcm := make([]byte, 0, 8)
	for _, s := range []int16{100, -100, 200, -200} {
		pcm = append(pcm, byte(s), byte(s>>8))
	}

	chans := DecodePCM16(pcm, 2)
	if len(chans) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(chans))
	}
	if len(chans[0]) != 2 || len(chans[1]) != 2 {
		t.Fatalf("expected 2 frames per channel, got %d/%d", len(chans[0]), len(chans[1]))
	}
	if chans[0][0] <= 0 || chans[1][0] >= 0 {
		t.Errorf("channel order wrong: left=%f right=%f", chans[0][0], chans[1][0])
	}
}

func TestTransportRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: []byte{}},
		{name: "single byte", data: []byte{0x7f}},
		{name: "all byte values", data: allBytes()},
		{name: "pcm-ish", data: []byte{0x00, 0x80, 0xff, 0x7f, 0x01, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := EncodeTransport(tt.data)
			back, err := DecodeTransport(text)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !bytes.Equal(back, tt.data) {
				t.Errorf("round trip mismatch: %v != %v", back, tt.data)
			}
		})
	}
}

func allBytes() []byte {
	out := make([]byte, 256)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

func TestRMSEnergy(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{name: "silence", samples: []int16{0, 0, 0, 0}, expected: 0.0},
		{name: "max amplitude", samples: []int16{32767, 32767, 32767, 32767}, expected: 1.0},
		{name: "half amplitude", samples: []int16{16384, -16384, 16384, -16384}, expected: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := make([]byte, len(tt.samples)*2)
			for i, s := range tt.samples {
				pcm[i*2] = byte(s)
				pcm[i*2+1] = byte(s >> 8)
			}
			result := RMSEnergy(pcm)
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected RMS %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestPeakAmplitude(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{name: "empty", samples: nil, expected: 0.0},
		{name: "silence", samples: []int16{0, 0, 0, 0}, expected: 0.0},
		{name: "positive max", samples: []int16{0, 32767, 0}, expected: 1.0},
		{name: "negative max", samples: []int16{100, -32768, 100}, expected: 1.0},
		{name: "quiet with one spike", samples: []int16{10, -10, 16384, 10}, expected: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := make([]byte, len(tt.samples)*2)
			for i, s := range tt.samples {
				pcm[i*2] = byte(s)
				pcm[i*2+1] = byte(s >> 8)
			}
			result := PeakAmplitude(pcm)
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected peak %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestConfigMath(t *testing.T) {
	cfg := CaptureConfig()

	// 16kHz mono 16-bit = 32000 bytes/second.
	if cfg.BytesPerSecond() != 32000 {
		t.Errorf("expected 32000 bytes/sec, got %d", cfg.BytesPerSecond())
	}
	if cfg.BytesForDurationMs(1000) != 32000 {
		t.Errorf("expected 32000 bytes for 1s, got %d", cfg.BytesForDurationMs(1000))
	}
	if cfg.DurationMs(32000) != 1000 {
		t.Errorf("expected 1000ms for 32000 bytes, got %d", cfg.DurationMs(32000))
	}
	if cfg.Duration(16000) != 500*time.Millisecond {
		t.Errorf("expected 500ms duration, got %v", cfg.Duration(16000))
	}
}

func TestBufferCapsOldData(t *testing.T) {
	cfg := PlaybackConfig()
	buf := NewBuffer(cfg, 100)

	buf.Write(make([]byte, cfg.BytesForDurationMs(50)))
	if buf.DurationMs() != 50 {
		t.Errorf("expected 50ms, got %dms", buf.DurationMs())
	}

	buf.Write(make([]byte, cfg.BytesForDurationMs(100)))
	if buf.DurationMs() != 100 {
		t.Errorf("expected 100ms (capped), got %dms", buf.DurationMs())
	}

	buf.Clear()
	if buf.Len() != 0 {
		t.Errorf("expected 0 after clear, got %d", buf.Len())
	}
}
