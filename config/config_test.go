package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"HTTP_PORT", "DATA_DIR", "STORE_BACKEND", "SETTINGS_PATH"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "8080" || cfg.DataDir != "./data" || cfg.StoreBackend != "file" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "9999" || cfg.StoreBackend != "sqlite" || cfg.OpenAIAPIKey != "sk-test" {
		t.Fatalf("env values not applied: %+v", cfg)
	}
}

func TestSettingsFromJSON_PartialOverride(t *testing.T) {
	blob := []byte(`{
		"session": {"welcome_text": "やあ！", "welcome_translation": "嗨！"},
		"tutor": {"model": "gpt-4o", "persona": "関西弁の友達"},
		"conversation": {"history_limit": 6}
	}`)

	settings, err := SettingsFromJSON(blob)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if settings.Session.WelcomeText != "やあ！" {
		t.Fatalf("welcome override lost: %q", settings.Session.WelcomeText)
	}
	// Untouched fields keep defaults.
	if settings.Session.DefaultTitle != DefaultSettings().Session.DefaultTitle {
		t.Fatalf("default title must survive partial override, got %q", settings.Session.DefaultTitle)
	}
	if settings.Tutor.Model != "gpt-4o" || settings.Tutor.Persona != "関西弁の友達" {
		t.Fatalf("tutor overrides lost: %+v", settings.Tutor)
	}
	if settings.Conversation.HistoryLimit != 6 {
		t.Fatalf("history limit override lost: %d", settings.Conversation.HistoryLimit)
	}
	if settings.Conversation.FallbackText != DefaultSettings().Conversation.FallbackText {
		t.Fatalf("fallback text must keep default")
	}
}

func TestSettingsFromJSON_Invalid(t *testing.T) {
	if _, err := SettingsFromJSON([]byte(`{broken`)); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestSettingsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"tts": {"voice": "Puck"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	settings, err := SettingsFromFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if settings.TTS.Voice != "Puck" {
		t.Fatalf("voice override lost: %q", settings.TTS.Voice)
	}

	if _, err := SettingsFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestInjectAPIKeys(t *testing.T) {
	settings := DefaultSettings()
	settings.Tutor.BaseURL = "https://settings-url"
	settings.InjectAPIKeys(APIKeys{
		OpenAI:        "sk-openai",
		Gemini:        "g-key",
		GeminiBaseURL: "https://env-url",
	})

	if settings.Tutor.APIKey != "sk-openai" || settings.TTS.APIKey != "g-key" {
		t.Fatalf("keys not injected: %+v", settings)
	}
	if settings.Tutor.BaseURL != "https://settings-url" {
		t.Fatalf("settings base url must stand when env has none")
	}
	if settings.TTS.BaseURL != "https://env-url" {
		t.Fatalf("env base url must win, got %q", settings.TTS.BaseURL)
	}
}
