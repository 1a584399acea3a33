// Package config holds the run configuration: backend selection, retry
// policy and output settings. Values come from an optional YAML file with
// CLI flags layered on top by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OpenAIConfig holds remote transcription API settings. The API key is
// deliberately not part of the file; it comes from OPENAI_API_KEY.
type OpenAIConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// LocalWhisperConfig holds the offline fallback backend settings.
type LocalWhisperConfig struct {
	BinaryPath string `yaml:"binary_path"`
	ModelPath  string `yaml:"model_path"`
	Model      string `yaml:"model"`
	Threads    int    `yaml:"threads"`
}

// Config is the full run configuration.
type Config struct {
	Input           string             `yaml:"input"`    // file or directory; "" = platform default
	OutputDir       string             `yaml:"output_dir"`
	Backend         string             `yaml:"backend"`  // "openai" or "local_whisper"
	Fallback        string             `yaml:"fallback"` // optional second backend
	OpenAI          OpenAIConfig       `yaml:"openai"`
	LocalWhisper    LocalWhisperConfig `yaml:"local_whisper"`
	Extensions      []string           `yaml:"extensions"`
	Formats         []string           `yaml:"formats"`
	Language        string             `yaml:"language"`
	DelaySeconds    float64            `yaml:"delay_seconds"`
	MaxRetries      int                `yaml:"max_retries"`
	ContinueOnError bool               `yaml:"continue_on_error"`
	SkipExisting    bool               `yaml:"skip_existing"`
	WriteMetadata   bool               `yaml:"write_metadata"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "transcriptor")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultInputDir returns the platform default input location: the Apple
// Podcasts download cache on macOS, empty elsewhere (input must be given).
func DefaultInputDir() string {
	if runtime.GOOS != "darwin" {
		return ""
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home,
		"Library/Group Containers/243LU875E5.groups.com.apple.podcasts/Library/Cache")
}

// Default returns a Config with the stock values: OpenAI whisper-1 backend,
// ./transcripts output, 1s initial backoff, 5 retries, abort on error.
func Default() *Config {
	return &Config{
		OutputDir: "transcripts",
		Backend:   "openai",
		OpenAI: OpenAIConfig{
			BaseURL:        "https://api.openai.com",
			Model:          "whisper-1",
			TimeoutSeconds: 300,
		},
		Extensions:   []string{".mp3"},
		Formats:      []string{"txt"},
		DelaySeconds: 1.0,
		MaxRetries:   5,
	}
}

// Load reads and parses a YAML config file. Missing fields keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Delay returns the initial backoff as a duration.
func (c *Config) Delay() time.Duration {
	return time.Duration(c.DelaySeconds * float64(time.Second))
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	if c.DelaySeconds <= 0 {
		return fmt.Errorf("delay_seconds must be positive, got %g", c.DelaySeconds)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}

	switch c.Backend {
	case "openai", "local_whisper":
	default:
		return fmt.Errorf("unknown backend %q (want openai or local_whisper)", c.Backend)
	}
	switch c.Fallback {
	case "", "openai", "local_whisper":
	default:
		return fmt.Errorf("unknown fallback backend %q", c.Fallback)
	}
	if c.Fallback == c.Backend {
		return fmt.Errorf("fallback backend must differ from primary %q", c.Backend)
	}
	if c.Backend == "local_whisper" || c.Fallback == "local_whisper" {
		if c.LocalWhisper.BinaryPath == "" {
			return fmt.Errorf("local_whisper backend requires binary_path")
		}
	}

	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	for _, f := range c.Formats {
		switch f {
		case "txt", "srt", "vtt":
		default:
			return fmt.Errorf("unknown transcript format %q (want txt, srt or vtt)", f)
		}
	}
	return nil
}
