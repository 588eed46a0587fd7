package live

import (
	"strings"

	"chatcore/internal/domain"
	"chatcore/internal/session"
)

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model             string            `json:"model"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuiltVoiceConfig"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

// blob carries base64 payloads; encoding/json handles the base64 for []byte.
type blob struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	ToolCall      *struct{}      `json:"toolCall,omitempty"`
}

type serverContent struct {
	ModelTurn    *content `json:"modelTurn,omitempty"`
	TurnComplete bool     `json:"turnComplete,omitempty"`
	Interrupted  bool     `json:"interrupted,omitempty"`
}

func (m serverMessage) label() string {
	switch {
	case m.SetupComplete != nil:
		return "server.setupComplete"
	case m.ToolCall != nil:
		return "server.toolCall"
	case m.ServerContent == nil:
		return "server.unknown"
	case m.ServerContent.Interrupted:
		return "server.interrupted"
	case m.ServerContent.ModelTurn != nil:
		return "server.content"
	case m.ServerContent.TurnComplete:
		return "server.turnComplete"
	default:
		return "server.content"
	}
}

func newSetup(model string, cfg session.LiveConfig) setupMessage {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	s := setup{Model: model}
	if len(cfg.ResponseModalities) > 0 || cfg.Voice != "" {
		gc := &generationConfig{ResponseModalities: cfg.ResponseModalities}
		if cfg.Voice != "" {
			gc.SpeechConfig = &speechConfig{VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoice{VoiceName: cfg.Voice},
			}}
		}
		s.GenerationConfig = gc
	}
	if strings.TrimSpace(cfg.SystemInstruction) != "" {
		s.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	return setupMessage{Setup: s}
}

func textParts(parts []domain.Part) []part {
	out := make([]part, 0, len(parts))
	for _, p := range parts {
		out = append(out, part{Text: p.Text})
	}
	return out
}
