package transcript

import "github.com/google/uuid"

// Speaker identifies which conversation party produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one complete, committed utterance by either party. Turns form an
// ordered, append-only conversation history.
type Turn struct {
	ID      string  `json:"id"`
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	Final   bool    `json:"is_final"`
}

// NewTurn creates a committed turn with a fresh ID.
func NewTurn(speaker Speaker, text string) Turn {
	return Turn{
		ID:      uuid.NewString(),
		Speaker: speaker,
		Text:    text,
		Final:   true,
	}
}
