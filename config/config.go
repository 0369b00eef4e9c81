package config

import "github.com/caarlos0/env/v10"

// Config centralizes the process environment configuration. Provider keys
// live here, never in the settings file.
type Config struct {
	HTTPPort     string `env:"HTTP_PORT" envDefault:"8080"`
	DataDir      string `env:"DATA_DIR" envDefault:"./data"`
	StoreBackend string `env:"STORE_BACKEND" envDefault:"file"` // "file" or "sqlite"
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"./data/kaiwa.db"`
	SettingsPath string `env:"SETTINGS_PATH" envDefault:"./settings.json"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiBaseURL string `env:"GEMINI_BASE_URL"`
}

// LoadConfig reads the configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
