package gemini

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/rosehq/roselive/pkg/session"
)

const defaultTTSModel = "gemini-2.5-flash-preview-tts"

// Speech is the one-shot text-to-speech collaborator backed by the
// GenerateContent API. It implements greeting.Synthesizer.
type Speech struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewSpeech creates a synthesizer. Model defaults to the flash TTS model
// when empty.
func NewSpeech(client *genai.Client, model string, logger *slog.Logger) *Speech {
	if model == "" {
		model = defaultTTSModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Speech{
		client: client,
		model:  model,
		logger: logger.With("component", "gemini.tts"),
	}
}

// Synthesize renders one utterance to s16le PCM at the playback rate.
func (s *Speech) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
	}
	if voiceID != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voiceID},
			},
		}
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(text), cfg)
	if err != nil {
		return nil, session.NewSynthesisFailed("speech generation failed", err)
	}

	pcm := extractAudio(resp)
	if len(pcm) == 0 {
		return nil, session.NewSynthesisFailed("response contained no audio", nil)
	}
	s.logger.Debug("synthesized utterance", "bytes", len(pcm))
	return pcm, nil
}

// extractAudio concatenates the audio parts of a response.
func extractAudio(resp *genai.GenerateContentResponse) []byte {
	if resp == nil {
		return nil
	}
	var pcm []byte
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p == nil || p.InlineData == nil {
				continue
			}
			if !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
				continue
			}
			pcm = append(pcm, p.InlineData.Data...)
		}
	}
	return pcm
}
