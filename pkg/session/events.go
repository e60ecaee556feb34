package session

// Event is the interface for all messages a remote session yields.
type Event interface {
	// EventType returns the event type string for logging and dispatch.
	EventType() string
}

// UserTranscriptEvent carries a transcript fragment of the user's speech.
// Partial fragments replace one another; final fragments are committed.
type UserTranscriptEvent struct {
	Text  string
	Final bool
}

func (e UserTranscriptEvent) EventType() string { return "transcript.user" }

// AssistantTranscriptEvent carries a transcript fragment of the assistant's
// spoken reply.
type AssistantTranscriptEvent struct {
	Text  string
	Final bool
}

func (e AssistantTranscriptEvent) EventType() string { return "transcript.assistant" }

// AudioChunkEvent carries one decoded chunk of assistant audio (s16le PCM).
type AudioChunkEvent struct {
	Data []byte
}

func (e AudioChunkEvent) EventType() string { return "audio.chunk" }

// TurnCompleteEvent signals that the assistant finished its reply and the
// accumulated transcripts should flush to history.
type TurnCompleteEvent struct{}

func (e TurnCompleteEvent) EventType() string { return "turn.complete" }

// InterruptedEvent signals barge-in: the user started talking over the
// assistant and all scheduled playback must stop immediately.
type InterruptedEvent struct{}

func (e InterruptedEvent) EventType() string { return "interrupted" }

// ErrorEvent carries a transport-level failure from an open session.
type ErrorEvent struct {
	Err error
}

func (e ErrorEvent) EventType() string { return "error" }

// ClosedEvent signals that the remote side closed the session.
type ClosedEvent struct {
	Reason string
}

func (e ClosedEvent) EventType() string { return "closed" }
