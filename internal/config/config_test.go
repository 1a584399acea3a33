package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Backend != "openai" {
		t.Errorf("expected openai backend, got %q", cfg.Backend)
	}
	if cfg.OpenAI.Model != "whisper-1" {
		t.Errorf("expected whisper-1 model, got %q", cfg.OpenAI.Model)
	}
	if cfg.OutputDir != "transcripts" {
		t.Errorf("expected transcripts output dir, got %q", cfg.OutputDir)
	}
	if cfg.DelaySeconds != 1.0 {
		t.Errorf("expected 1.0 delay seconds, got %g", cfg.DelaySeconds)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("expected 5 max retries, got %d", cfg.MaxRetries)
	}
	if cfg.ContinueOnError {
		t.Error("expected abort-on-error by default")
	}
	if len(cfg.Extensions) != 1 || cfg.Extensions[0] != ".mp3" {
		t.Errorf("expected [.mp3] extensions, got %v", cfg.Extensions)
	}
	if len(cfg.Formats) != 1 || cfg.Formats[0] != "txt" {
		t.Errorf("expected [txt] formats, got %v", cfg.Formats)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
input: /podcasts
output_dir: /out
delay_seconds: 0.5
max_retries: 3
continue_on_error: true
extensions: [".mp3", ".m4a"]
openai:
  model: whisper-large
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Input != "/podcasts" {
		t.Errorf("input: got %q", cfg.Input)
	}
	if cfg.OutputDir != "/out" {
		t.Errorf("output_dir: got %q", cfg.OutputDir)
	}
	if cfg.DelaySeconds != 0.5 {
		t.Errorf("delay_seconds: got %g", cfg.DelaySeconds)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("max_retries: got %d", cfg.MaxRetries)
	}
	if !cfg.ContinueOnError {
		t.Error("continue_on_error: expected true")
	}
	if len(cfg.Extensions) != 2 {
		t.Errorf("extensions: got %v", cfg.Extensions)
	}
	if cfg.OpenAI.Model != "whisper-large" {
		t.Errorf("openai.model: got %q", cfg.OpenAI.Model)
	}
	// Untouched fields keep their defaults.
	if cfg.OpenAI.BaseURL != "https://api.openai.com" {
		t.Errorf("openai.base_url should keep default, got %q", cfg.OpenAI.BaseURL)
	}
	if cfg.Backend != "openai" {
		t.Errorf("backend should keep default, got %q", cfg.Backend)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("backend: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestDelay(t *testing.T) {
	cfg := Default()
	cfg.DelaySeconds = 2.5
	if got := cfg.Delay(); got != 2500*time.Millisecond {
		t.Errorf("expected 2.5s, got %s", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"empty output dir", func(c *Config) { c.OutputDir = "" }, "output_dir"},
		{"zero delay", func(c *Config) { c.DelaySeconds = 0 }, "delay_seconds"},
		{"negative delay", func(c *Config) { c.DelaySeconds = -1 }, "delay_seconds"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "max_retries"},
		{"zero retries ok", func(c *Config) { c.MaxRetries = 0 }, ""},
		{"unknown backend", func(c *Config) { c.Backend = "azure" }, "unknown backend"},
		{"unknown fallback", func(c *Config) { c.Fallback = "azure" }, "unknown fallback"},
		{"fallback same as primary", func(c *Config) { c.Fallback = "openai" }, "must differ"},
		{
			"local whisper without binary",
			func(c *Config) { c.Backend = "local_whisper" },
			"binary_path",
		},
		{
			"local whisper with binary ok",
			func(c *Config) {
				c.Backend = "local_whisper"
				c.LocalWhisper.BinaryPath = "/usr/local/bin/whisper"
			},
			"",
		},
		{
			"local whisper fallback ok",
			func(c *Config) {
				c.Fallback = "local_whisper"
				c.LocalWhisper.BinaryPath = "/usr/local/bin/whisper"
			},
			"",
		},
		{"extension without dot", func(c *Config) { c.Extensions = []string{"mp3"} }, "dot"},
		{"unknown format", func(c *Config) { c.Formats = []string{"pdf"} }, "format"},
		{"srt format ok", func(c *Config) { c.Formats = []string{"txt", "srt", "vtt"} }, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q should mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if path != "" && !strings.HasSuffix(path, filepath.Join(".config", "transcriptor", "config.yaml")) {
		t.Errorf("unexpected config path: %q", path)
	}
}
