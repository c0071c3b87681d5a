package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingCredential marks configuration failures that must stop a command.
var ErrMissingCredential = errors.New("missing required credential")

type Config struct {
	DBPath string      `koanf:"db_path"`
	Anki   AnkiConfig  `koanf:"anki"`
	LLM    LLMConfig   `koanf:"llm"`
	Index  IndexConfig `koanf:"index"`
	Media  MediaConfig `koanf:"media"`
	Log    LogConfig   `koanf:"log"`
}

type AnkiConfig struct {
	URL     string        `koanf:"url"     validate:"required,url"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

type LLMConfig struct {
	Provider  string        `koanf:"provider"   validate:"oneof=gemini openai ollama"`
	Model     string        `koanf:"model"`
	APIKey    string        `koanf:"api_key"`
	OpenAIKey string        `koanf:"openai_key"`
	OllamaURL string        `koanf:"ollama_url" validate:"omitempty,url"`
	Timeout   time.Duration `koanf:"timeout"    validate:"gt=0"`
	Retries   int           `koanf:"retries"    validate:"gte=0,lte=10"`
}

type IndexConfig struct {
	Limit    int     `koanf:"limit"     validate:"gt=0,lte=200"`
	MinScore float64 `koanf:"min_score" validate:"gte=0,lt=1"`
}

type MediaConfig struct {
	Language        string        `koanf:"language"         validate:"required"`
	TTSProvider     string        `koanf:"tts_provider"     validate:"oneof=google openai"`
	UserAgent       string        `koanf:"user_agent"       validate:"required"`
	APIUserAgent    string        `koanf:"api_user_agent"   validate:"required"`
	GoogleAPIKey    string        `koanf:"google_api_key"`
	GoogleCX        string        `koanf:"google_cx"`
	SearchTimeout   time.Duration `koanf:"search_timeout"   validate:"gt=0"`
	DownloadTimeout time.Duration `koanf:"download_timeout" validate:"gt=0"`
	MaxDownloadSize int64         `koanf:"max_download_size" validate:"gt=0"`
	Sufficient      int           `koanf:"sufficient"       validate:"gte=0"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

func Default() *Config {
	return &Config{
		DBPath: "",
		Anki: AnkiConfig{
			URL:     "http://localhost:8765",
			Timeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			Provider:  "gemini",
			OllamaURL: "http://localhost:11434",
			Timeout:   2 * time.Minute,
			Retries:   2,
		},
		Index: IndexConfig{
			Limit:    30,
			MinScore: 0.1,
		},
		Media: MediaConfig{
			Language:        "en",
			TTSProvider:     "google",
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			APIUserAgent:    "ankiforge/1.0 (flashcard generator)",
			SearchTimeout:   5 * time.Second,
			DownloadTimeout: 10 * time.Second,
			MaxDownloadSize: 10 << 20,
			Sufficient:      2,
		},
		Log: LogConfig{Level: "info"},
	}
}

// RequireLLM reports a configuration-class error when the selected provider
// has no credential.
func (c *Config) RequireLLM() error {
	switch c.LLM.Provider {
	case "gemini":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("%w: GOOGLE_API_KEY is required for the gemini provider", ErrMissingCredential)
		}
	case "openai":
		if c.LLM.OpenAIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for the openai provider", ErrMissingCredential)
		}
	}
	return nil
}

// RequireTTS reports a configuration-class error when the selected speech
// backend has no credential.
func (c *Config) RequireTTS() error {
	if c.Media.TTSProvider == "openai" && c.LLM.OpenAIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY is required for openai speech", ErrMissingCredential)
	}
	return nil
}
