package gemini

import (
	"fmt"
	"strings"

	"github.com/rosehq/roselive/pkg/audio"
	"github.com/rosehq/roselive/pkg/session"
)

// Wire frames for the BidiGenerateContent websocket protocol.

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	Tools                    []tool           `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type tool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio *inlineData `json:"audio,omitempty"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
}

type transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// newSetupMessage builds the session setup frame from an open config.
func newSetupMessage(cfg session.Config) setupMessage {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	p := setupPayload{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if cfg.VoiceID != "" {
		p.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.VoiceID},
			},
		}
	}
	if instruction := strings.TrimSpace(cfg.Instruction); instruction != "" {
		p.SystemInstruction = &content{Parts: []part{{Text: instruction}}}
	}
	if cfg.EnableSearch {
		p.Tools = []tool{{GoogleSearch: &struct{}{}}}
	}
	if cfg.InputTranscription {
		p.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		p.OutputAudioTranscription = &struct{}{}
	}
	return setupMessage{Setup: p}
}

// decodeServerContent maps one serverContent frame to session events, in a
// fixed order: interruption first, then transcripts, then audio, then turn
// completion.
func decodeServerContent(sc *serverContent) ([]session.Event, error) {
	var events []session.Event

	if sc.Interrupted {
		events = append(events, session.InterruptedEvent{})
	}
	if t := sc.InputTranscription; t != nil && (t.Text != "" || t.Finished) {
		events = append(events, session.UserTranscriptEvent{Text: t.Text, Final: t.Finished})
	}
	if t := sc.OutputTranscription; t != nil && (t.Text != "" || t.Finished) {
		events = append(events, session.AssistantTranscriptEvent{Text: t.Text, Final: t.Finished})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MimeType, "audio/pcm") {
				continue
			}
			pcm, err := audio.DecodeTransport(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("decode audio part: %w", err)
			}
			events = append(events, session.AudioChunkEvent{Data: pcm})
		}
	}
	if sc.TurnComplete {
		events = append(events, session.TurnCompleteEvent{})
	}
	return events, nil
}
