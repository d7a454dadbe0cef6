package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Endpoint != "http://localhost:11434" {
		t.Fatalf("expected default endpoint, got %q", cfg.LLM.Endpoint)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Fatalf("expected 16kHz mono default, got %d/%d", cfg.Audio.SampleRate, cfg.Audio.Channels)
	}
	if cfg.Whisper.DefaultModel != "small" {
		t.Fatalf("expected small whisper default, got %q", cfg.Whisper.DefaultModel)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recap.yaml")
	content := `
http:
  port: 9000
whisper:
  command: /opt/whisper/whisper-cli
  model_dir: /opt/whisper/models
  models: [base, Large-V3]
  default_model: LARGE-V3
llm:
  endpoint: http://ollama:11434/
  default_model: mistral
uploads:
  allowed_extensions: [wav, .MP3]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Fatalf("port = %d, want 9000", cfg.HTTP.Port)
	}
	if cfg.Whisper.DefaultModel != "large-v3" {
		t.Fatalf("default model = %q, want large-v3", cfg.Whisper.DefaultModel)
	}
	if cfg.LLM.Endpoint != "http://ollama:11434" {
		t.Fatalf("endpoint = %q, want trailing slash trimmed", cfg.LLM.Endpoint)
	}
	if got := cfg.Uploads.AllowedExtensions; len(got) != 2 || got[0] != ".wav" || got[1] != ".mp3" {
		t.Fatalf("unexpected extensions %v", got)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml")); err == nil {
		t.Fatal("Load() should return error for nonexistent file")
	}
}

func TestLegacyEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_SERVER_URL", "http://gpu-box:11434")
	t.Setenv("PORT", "8123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Endpoint != "http://gpu-box:11434" {
		t.Fatalf("expected OLLAMA_SERVER_URL override, got %q", cfg.LLM.Endpoint)
	}
	if cfg.HTTP.Port != 8123 {
		t.Fatalf("expected PORT override, got %d", cfg.HTTP.Port)
	}

	t.Setenv("RECAP_LLM_ENDPOINT", "http://other:11434")
	t.Setenv("RECAP_HTTP_PORT", "9999")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Endpoint != "http://other:11434" || cfg.HTTP.Port != 9999 {
		t.Fatalf("expected RECAP_* to win over legacy names, got %q %d", cfg.LLM.Endpoint, cfg.HTTP.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RECAP_WHISPER_MODELS", "tiny, base ,small")
	t.Setenv("RECAP_WHISPER_DEFAULT_MODEL", "tiny")
	t.Setenv("RECAP_WHISPER_TIMEOUT_SECONDS", "90")
	t.Setenv("RECAP_WHISPER_NO_TIMESTAMPS", "true")
	t.Setenv("RECAP_LLM_TEMPERATURE", "0.2")
	t.Setenv("RECAP_UPLOADS_MAX_BYTES", "1048576")
	t.Setenv("RECAP_EVENT_STORE_RETENTION_MODE", "ephemeral")
	t.Setenv("RECAP_BUS_ENABLED", "true")
	t.Setenv("RECAP_BUS_SERVERS", "nats://one:4222, nats://two:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Whisper.Models) != 3 || cfg.Whisper.Models[0] != "tiny" {
		t.Fatalf("unexpected whisper models %v", cfg.Whisper.Models)
	}
	if cfg.Whisper.TimeoutSeconds != 90 || !cfg.Whisper.NoTimestamps {
		t.Fatalf("expected whisper overrides")
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Fatalf("expected temperature override, got %v", cfg.LLM.Temperature)
	}
	if cfg.Uploads.MaxBytes != 1<<20 {
		t.Fatalf("expected max bytes override, got %d", cfg.Uploads.MaxBytes)
	}
	if cfg.EventStore.RetentionMode != "ephemeral" {
		t.Fatalf("expected retention mode override")
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected bus overrides, got %+v", cfg.Bus)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "sample ratio above one", mutate: func(c *Config) { c.Telemetry.TraceSampleRatio = 1.5 }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.HTTP.Port = 70000 }, wantErr: true},
		{name: "default whisper model outside set", mutate: func(c *Config) { c.Whisper.DefaultModel = "tiny" }, wantErr: true},
		{name: "empty whisper set", mutate: func(c *Config) { c.Whisper.Models = nil }, wantErr: true},
		{name: "unknown llm mode", mutate: func(c *Config) { c.LLM.Mode = "openai" }, wantErr: true},
		{name: "gemini without keys", mutate: func(c *Config) { c.LLM.Mode = "gemini" }, wantErr: true},
		{name: "exec without command", mutate: func(c *Config) { c.LLM.Mode = "exec" }, wantErr: true},
		{name: "zero sample rate", mutate: func(c *Config) { c.Audio.SampleRate = 0 }, wantErr: true},
		{name: "missing transcript path", mutate: func(c *Config) { c.Transcript.Path = "" }, wantErr: true},
		{name: "bad retention", mutate: func(c *Config) { c.EventStore.RetentionMode = "session" }, wantErr: true},
		{name: "external bus without servers", mutate: func(c *Config) {
			c.Bus.Enabled = true
			c.Bus.Embedded = false
			c.Bus.Servers = nil
		}, wantErr: true},
		{name: "watcher without dirs", mutate: func(c *Config) {
			c.Watcher.Enabled = true
			c.Watcher.Input = ""
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
