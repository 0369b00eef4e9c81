package config

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"

	"kaiwa/conversation"
	gemini "kaiwa/services/gemini/tts"
	"kaiwa/services/openai/tutor"
	"kaiwa/session"
)

// Settings is the top-level persona configuration loaded from
// settings.json. It bundles the welcome/title knobs, the turn-cycle
// settings and the two collaborator configs. Absent fields keep their
// defaults.
type Settings struct {
	Session      session.Config      `json:"session"`
	Conversation conversation.Config `json:"conversation"`
	Tutor        tutor.Config        `json:"tutor"`
	TTS          gemini.Config       `json:"tts"`
}

// APIKeys carries provider secrets and endpoint overrides taken from the
// environment.
type APIKeys struct {
	OpenAI        string
	OpenAIBaseURL string
	Gemini        string
	GeminiBaseURL string
}

// DefaultSettings returns Settings pre-filled with the stock
// Japanese-practice persona.
func DefaultSettings() Settings {
	return Settings{
		Session:      session.DefaultConfig(),
		Conversation: conversation.DefaultConfig(),
	}
}

// SettingsFromJSON parses a JSON blob into Settings. Fields absent from
// the blob keep their default values.
func SettingsFromJSON(data []byte) (Settings, error) {
	settings := DefaultSettings()
	if err := sonic.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), fmt.Errorf("settings: %w", err)
	}
	return settings, nil
}

// SettingsFromFile reads and parses Settings from a JSON file.
func SettingsFromFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettings(), fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsFromJSON(data)
}

// InjectAPIKeys overlays environment-provided secrets onto the collaborator
// configs. Keys always come from the environment; endpoint overrides win
// when set.
func (s *Settings) InjectAPIKeys(keys APIKeys) {
	s.Tutor.APIKey = keys.OpenAI
	s.TTS.APIKey = keys.Gemini
	if keys.OpenAIBaseURL != "" {
		s.Tutor.BaseURL = keys.OpenAIBaseURL
	}
	if keys.GeminiBaseURL != "" {
		s.TTS.BaseURL = keys.GeminiBaseURL
	}
}
