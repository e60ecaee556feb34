package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/rosehq/roselive/pkg/session"
	"github.com/rosehq/roselive/pkg/transcript"
)

const defaultProfileModel = "gemini-2.0-flash"

const profilePrompt = `You maintain a small profile of durable facts about a user,
learned from their conversations with a voice assistant. Given the transcript
below, return a JSON object mapping short snake_case fact keys to concise
values. Only include facts worth remembering across sessions (name, interests,
preferences, goals). Return an empty object if nothing qualifies.

Transcript:
`

// ProfileSink is where extracted facts are merged. *store.SQLiteStore
// satisfies it.
type ProfileSink interface {
	MergeProfile(ctx context.Context, userID string, facts map[string]string) error
}

// ProfileExtractor derives profile facts from flushed turns and merges them
// into the durable profile. It implements session.ProfileUpdater.
type ProfileExtractor struct {
	client *genai.Client
	model  string
	sink   ProfileSink
	logger *slog.Logger
}

// NewProfileExtractor creates an extractor. Model defaults to the flash
// model when empty.
func NewProfileExtractor(client *genai.Client, model string, sink ProfileSink, logger *slog.Logger) *ProfileExtractor {
	if model == "" {
		model = defaultProfileModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileExtractor{
		client: client,
		model:  model,
		sink:   sink,
		logger: logger.With("component", "gemini.profile"),
	}
}

// Update extracts facts from the recent turns and merges them. A failure
// leaves the stored profile unchanged.
func (e *ProfileExtractor) Update(ctx context.Context, userID string, recent []transcript.Turn) error {
	if len(recent) == 0 {
		return nil
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model,
		genai.Text(profilePrompt+renderTurns(recent)),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"})
	if err != nil {
		return session.NewProfileUpdateFailed("fact extraction failed", err)
	}

	facts, err := parseFacts(resp.Text())
	if err != nil {
		return session.NewProfileUpdateFailed("malformed fact response", err)
	}
	if len(facts) == 0 {
		return nil
	}

	if err := e.sink.MergeProfile(ctx, userID, facts); err != nil {
		return session.NewProfileUpdateFailed("merge facts", err)
	}
	e.logger.Debug("profile updated", "user", userID, "facts", len(facts))
	return nil
}

func renderTurns(turns []transcript.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Text)
	}
	return b.String()
}

// parseFacts decodes the model's JSON object, keeping only scalar string
// values and stringifying everything else it can.
func parseFacts(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, err
	}
	facts := make(map[string]string, len(decoded))
	for k, v := range decoded {
		switch val := v.(type) {
		case string:
			if val = strings.TrimSpace(val); val != "" {
				facts[k] = val
			}
		case float64, bool:
			facts[k] = fmt.Sprint(val)
		}
	}
	return facts, nil
}
