package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can use values like "24h".
type Duration time.Duration

// MarshalYAML encodes the duration in time.Duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML parses time.Duration string form.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// GeminiConfig selects the transcription models and pricing.
type GeminiConfig struct {
	Model         string `yaml:"model"`
	FallbackModel string `yaml:"fallback_model"`
	// APIKey is only ever read from the environment, never from the file.
	APIKey               string  `yaml:"-"`
	InputCostPerMillion  float64 `yaml:"input_cost_per_million"`
	OutputCostPerMillion float64 `yaml:"output_cost_per_million"`
}

// Config contains the full server runtime configuration.
type Config struct {
	Host                string       `yaml:"host"`
	Port                int          `yaml:"port"`
	UploadDir           string       `yaml:"upload_dir"`
	FrontendDir         string       `yaml:"frontend_dir"`
	MaxFileSize         int64        `yaml:"max_file_size"`
	MaxWorkers          int          `yaml:"max_workers"`
	JobRetention        Duration     `yaml:"job_retention"`
	LogLevel            string       `yaml:"log_level"`
	CORSOrigins         []string     `yaml:"cors_origins"`
	Languages           []string     `yaml:"languages"`
	ConversationTypes   []string     `yaml:"conversation_types"`
	SupportedExtensions []string     `yaml:"supported_extensions"`
	Gemini              GeminiConfig `yaml:"gemini"`
}

// Store defines persistence operations for server configuration.
type Store interface {
	Load() (Config, error)
	Save(Config) error
}

// YAMLStore persists configuration in a single YAML file on disk.
type YAMLStore struct {
	path string
}

// NewYAMLStore creates a YAML-backed configuration store.
func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{path: path}
}

// Load reads configuration from disk or returns defaults when missing. The
// Gemini API key always comes from the environment.
func (s *YAMLStore) Load() (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return applyEnv(cfg), nil
		}
		return Config{}, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	return applyEnv(cfg), nil
}

// Save writes configuration as YAML and creates parent directories.
func (s *YAMLStore) Save(cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// applyEnv overlays environment-provided secrets.
func applyEnv(cfg Config) Config {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Gemini.APIKey = key
	}
	return cfg
}
