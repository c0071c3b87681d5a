package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// envMappings binds environment variables to config paths.
var envMappings = []struct {
	EnvVar     string
	ConfigPath string
}{
	{"GOOGLE_API_KEY", "llm.api_key"},
	{"OPENAI_API_KEY", "llm.openai_key"},
	{"OLLAMA_HOST", "llm.ollama_url"},
	{"GOOGLE_SEARCH_CX", "media.google_cx"},
	{"GOOGLE_SEARCH_KEY", "media.google_api_key"},
	{"ANKIFORGE_DB", "db_path"},
	{"ANKIFORGE_ANKI_URL", "anki.url"},
	{"ANKIFORGE_ANKI_TIMEOUT", "anki.timeout"},
	{"ANKIFORGE_LLM_PROVIDER", "llm.provider"},
	{"ANKIFORGE_LLM_MODEL", "llm.model"},
	{"ANKIFORGE_LLM_TIMEOUT", "llm.timeout"},
	{"ANKIFORGE_LLM_RETRIES", "llm.retries"},
	{"ANKIFORGE_INDEX_LIMIT", "index.limit"},
	{"ANKIFORGE_INDEX_MIN_SCORE", "index.min_score"},
	{"ANKIFORGE_LANGUAGE", "media.language"},
	{"ANKIFORGE_TTS_PROVIDER", "media.tts_provider"},
	{"ANKIFORGE_SEARCH_TIMEOUT", "media.search_timeout"},
	{"ANKIFORGE_DOWNLOAD_TIMEOUT", "media.download_timeout"},
	{"ANKIFORGE_LOG_LEVEL", "log.level"},
	{"ANKIFORGE_LOG_JSON", "log.json"},
}

// Load reads defaults, an optional .env file, and the environment, then
// validates the result.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	return load(os.Environ())
}

func load(environ []string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	envToPath := make(map[string]string, len(envMappings))
	for _, m := range envMappings {
		envToPath[m.EnvVar] = m.ConfigPath
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:      "",
		EnvironFunc: func() []string { return environ },
		TransformFunc: func(key string, value string) (string, any) {
			configPath, ok := envToPath[key]
			if !ok || value == "" {
				return "", nil
			}
			return configPath, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
