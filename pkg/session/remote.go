package session

import (
	"context"

	"github.com/rosehq/roselive/pkg/audio"
	"github.com/rosehq/roselive/pkg/transcript"
)

// Config is the immutable configuration for one remote session open. The
// instruction is a snapshot built once at Open time; later profile or
// app-state mutation cannot retroactively change an open session.
type Config struct {
	// Model is the remote conversational model identifier.
	Model string

	// Instruction is the persona/context system instruction.
	Instruction string

	// VoiceID selects the synthetic voice for audio responses.
	VoiceID string

	// InputFormat is the capture format forwarded to the session.
	InputFormat audio.Config

	// OutputFormat is the format of audio chunks the session yields.
	OutputFormat audio.Config

	// InputTranscription and OutputTranscription request streamed
	// transcripts for the respective sides.
	InputTranscription  bool
	OutputTranscription bool

	// EnableSearch exposes the external search tool to the model.
	EnableSearch bool
}

// RemoteSession wraps one live remote conversational session. At most one is
// open per controller at a time.
type RemoteSession interface {
	// SendAudioFrame forwards one encoded capture frame, in arrival order.
	SendAudioFrame(pcm []byte) error

	// Events yields tagged messages until the session ends; the channel is
	// closed on teardown.
	Events() <-chan Event

	// Close tears the session down. Idempotent.
	Close() error
}

// Dialer opens remote sessions. Implementations live outside the core (see
// the gemini package).
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (RemoteSession, error)
}

// CaptureSource is a microphone stream delivering fixed-size float frames at
// the capture sample rate. Stop must be safe to call more than once.
type CaptureSource interface {
	Start(onFrame func(samples []float32)) error
	Stop() error
}

// HistoryStore persists completed conversation turns, keyed by user.
type HistoryStore interface {
	// Load returns the stored conversation, oldest first.
	Load(ctx context.Context, userID string) ([]transcript.Turn, error)

	// Append stores completed turns at the end of the conversation.
	Append(ctx context.Context, userID string, turns []transcript.Turn) error
}

// ProfileUpdater extracts facts from recently flushed turns and merges them
// into the user's durable profile. Invoked fire-and-forget after every flush;
// failures leave the profile unchanged and never affect the session.
type ProfileUpdater interface {
	Update(ctx context.Context, userID string, recent []transcript.Turn) error
}
