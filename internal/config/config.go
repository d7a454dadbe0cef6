package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel         string  `yaml:"log_level"`
	LogFormat        string  `yaml:"log_format"`
	OTLPEndpoint     string  `yaml:"otlp_endpoint"`
	OTLPInsecure     bool    `yaml:"otlp_insecure"`
	StdoutTraces     bool    `yaml:"stdout_traces"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
	MetricsEnabled   bool    `yaml:"metrics_enabled"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Audio       AudioConfig      `yaml:"audio"`
	Whisper     WhisperConfig    `yaml:"whisper"`
	LLM         LLMConfig        `yaml:"llm"`
	Transcript  TranscriptConfig `yaml:"transcript"`
	Uploads     UploadsConfig    `yaml:"uploads"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Bus         BusConfig        `yaml:"bus"`
	Watcher     WatcherConfig    `yaml:"watcher"`
}

// AudioConfig controls the external converter that produces the waveform
// expected by whisper-cli.
type AudioConfig struct {
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TempDir    string `yaml:"temp_dir"`
}

type WhisperConfig struct {
	Mode           string   `yaml:"mode"` // exec, mock
	Command        string   `yaml:"command"`
	ModelDir       string   `yaml:"model_dir"`
	Models         []string `yaml:"models"`
	DefaultModel   string   `yaml:"default_model"`
	Language       string   `yaml:"language"`
	Threads        int      `yaml:"threads"`
	NoTimestamps   bool     `yaml:"no_timestamps"`
	Output         string   `yaml:"output"` // stdout, file
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type LLMConfig struct {
	Mode              string   `yaml:"mode"` // ollama, exec, gemini, mock
	Endpoint          string   `yaml:"endpoint"`
	Command           string   `yaml:"command"`
	DefaultModel      string   `yaml:"default_model"`
	Models            []string `yaml:"models"`
	System            string   `yaml:"system"`
	MaxTokens         int      `yaml:"max_tokens"`
	Temperature       float64  `yaml:"temperature"`
	TimeoutSeconds    int      `yaml:"timeout_seconds"`
	CatalogTTLSeconds int      `yaml:"catalog_ttl_seconds"`
	GeminiAPIKeys     []string `yaml:"gemini_api_keys"`
}

// TranscriptConfig points at the single well-known transcript file offered
// for download. Every job overwrites it.
type TranscriptConfig struct {
	Path string `yaml:"path"`
}

type UploadsConfig struct {
	Dir               string   `yaml:"dir"`
	MaxBytes          int64    `yaml:"max_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type WatcherConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Input         string `yaml:"input"`
	Output        string `yaml:"output"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Context       string `yaml:"context"`
}

func Default() Config {
	return Config{
		RuntimeName: "recapify",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 7860,
		},
		Telemetry: TelemetryConfig{
			LogLevel:         "info",
			LogFormat:        "json",
			OTLPInsecure:     true,
			TraceSampleRatio: 1,
			MetricsEnabled:   true,
		},
		Audio: AudioConfig{
			Command:    "ffmpeg",
			SampleRate: 16000,
			Channels:   1,
		},
		Whisper: WhisperConfig{
			Mode:         "exec",
			Command:      "./whisper.cpp/build/bin/whisper-cli",
			ModelDir:     "./whisper.cpp/models",
			Models:       []string{"base", "small", "medium", "large", "large-v3"},
			DefaultModel: "small",
			Output:       "stdout",
		},
		LLM: LLMConfig{
			Mode:              "ollama",
			Endpoint:          "http://localhost:11434",
			DefaultModel:      "llama3.2",
			Models:            []string{"llama3.2"},
			TimeoutSeconds:    300,
			CatalogTTLSeconds: 300,
		},
		Transcript: TranscriptConfig{
			Path: "transcript.txt",
		},
		Uploads: UploadsConfig{
			MaxBytes:          512 << 20,
			AllowedExtensions: []string{".wav", ".mp3", ".mp4", ".m4a", ".ogg", ".flac", ".webm"},
		},
		EventStore: EventStoreConfig{
			Path:          "./data/recap-jobs.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxJobs:       1000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Watcher: WatcherConfig{
			Enabled:       false,
			Input:         "./data/inbox",
			Output:        "./data/recaps",
			MaxConcurrent: 1,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Names understood by earlier deployments; RECAP_* below take precedence.
	overrideString(&cfg.LLM.Endpoint, "OLLAMA_SERVER_URL")
	overrideInt(&cfg.HTTP.Port, "PORT")

	overrideString(&cfg.RuntimeName, "RECAP_RUNTIME_NAME")
	overrideString(&cfg.Environment, "RECAP_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "RECAP_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "RECAP_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "RECAP_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "RECAP_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "RECAP_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "RECAP_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "RECAP_TELEMETRY_STDOUT_TRACES")
	overrideFloat(&cfg.Telemetry.TraceSampleRatio, "RECAP_TELEMETRY_TRACE_SAMPLE_RATIO")
	overrideBool(&cfg.Telemetry.MetricsEnabled, "RECAP_TELEMETRY_METRICS_ENABLED")
	overrideString(&cfg.Audio.Command, "RECAP_AUDIO_COMMAND")
	overrideInt(&cfg.Audio.SampleRate, "RECAP_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "RECAP_AUDIO_CHANNELS")
	overrideString(&cfg.Audio.TempDir, "RECAP_AUDIO_TEMP_DIR")
	overrideString(&cfg.Whisper.Mode, "RECAP_WHISPER_MODE")
	overrideString(&cfg.Whisper.Command, "RECAP_WHISPER_COMMAND")
	overrideString(&cfg.Whisper.ModelDir, "RECAP_WHISPER_MODEL_DIR")
	overrideStringSlice(&cfg.Whisper.Models, "RECAP_WHISPER_MODELS")
	overrideString(&cfg.Whisper.DefaultModel, "RECAP_WHISPER_DEFAULT_MODEL")
	overrideString(&cfg.Whisper.Language, "RECAP_WHISPER_LANGUAGE")
	overrideInt(&cfg.Whisper.Threads, "RECAP_WHISPER_THREADS")
	overrideBool(&cfg.Whisper.NoTimestamps, "RECAP_WHISPER_NO_TIMESTAMPS")
	overrideString(&cfg.Whisper.Output, "RECAP_WHISPER_OUTPUT")
	overrideInt(&cfg.Whisper.TimeoutSeconds, "RECAP_WHISPER_TIMEOUT_SECONDS")
	overrideString(&cfg.LLM.Mode, "RECAP_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "RECAP_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "RECAP_LLM_COMMAND")
	overrideString(&cfg.LLM.DefaultModel, "RECAP_LLM_DEFAULT_MODEL")
	overrideStringSlice(&cfg.LLM.Models, "RECAP_LLM_MODELS")
	overrideString(&cfg.LLM.System, "RECAP_LLM_SYSTEM")
	overrideInt(&cfg.LLM.MaxTokens, "RECAP_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "RECAP_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutSeconds, "RECAP_LLM_TIMEOUT_SECONDS")
	overrideInt(&cfg.LLM.CatalogTTLSeconds, "RECAP_LLM_CATALOG_TTL_SECONDS")
	overrideStringSlice(&cfg.LLM.GeminiAPIKeys, "RECAP_LLM_GEMINI_API_KEYS")
	overrideString(&cfg.Transcript.Path, "RECAP_TRANSCRIPT_PATH")
	overrideString(&cfg.Uploads.Dir, "RECAP_UPLOADS_DIR")
	overrideInt64(&cfg.Uploads.MaxBytes, "RECAP_UPLOADS_MAX_BYTES")
	overrideStringSlice(&cfg.Uploads.AllowedExtensions, "RECAP_UPLOADS_ALLOWED_EXTENSIONS")
	overrideString(&cfg.EventStore.Path, "RECAP_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "RECAP_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "RECAP_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxJobs, "RECAP_EVENT_STORE_MAX_JOBS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "RECAP_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "RECAP_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "RECAP_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "RECAP_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "RECAP_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "RECAP_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "RECAP_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "RECAP_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "RECAP_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "RECAP_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "RECAP_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Watcher.Enabled, "RECAP_WATCHER_ENABLED")
	overrideString(&cfg.Watcher.Input, "RECAP_WATCHER_INPUT")
	overrideString(&cfg.Watcher.Output, "RECAP_WATCHER_OUTPUT")
	overrideInt(&cfg.Watcher.MaxConcurrent, "RECAP_WATCHER_MAX_CONCURRENT")
	overrideString(&cfg.Watcher.Context, "RECAP_WATCHER_CONTEXT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// normalize canonicalises values that are compared elsewhere.
func normalize(cfg *Config) {
	cfg.LLM.Endpoint = strings.TrimRight(cfg.LLM.Endpoint, "/")
	for i, m := range cfg.Whisper.Models {
		cfg.Whisper.Models[i] = strings.ToLower(strings.TrimSpace(m))
	}
	cfg.Whisper.DefaultModel = strings.ToLower(strings.TrimSpace(cfg.Whisper.DefaultModel))
	for i, ext := range cfg.Uploads.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.Uploads.AllowedExtensions[i] = ext
	}
	if cfg.LLM.DefaultModel == "" && len(cfg.LLM.Models) > 0 {
		cfg.LLM.DefaultModel = cfg.LLM.Models[0]
	}
	if cfg.Watcher.MaxConcurrent <= 0 {
		cfg.Watcher.MaxConcurrent = 1
	}
}

// Validate reports the first configuration problem found in cfg.
func Validate(cfg Config) error {
	return validate(cfg)
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Telemetry.TraceSampleRatio < 0 || cfg.Telemetry.TraceSampleRatio > 1 {
		return errors.New("telemetry.trace_sample_ratio must be between 0 and 1")
	}
	if cfg.Audio.Command == "" {
		return errors.New("audio.command must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	switch cfg.Whisper.Mode {
	case "exec", "mock":
	default:
		return errors.New("whisper.mode must be one of exec|mock")
	}
	if cfg.Whisper.Mode == "exec" && cfg.Whisper.Command == "" {
		return errors.New("whisper.command must be set when mode=exec")
	}
	if cfg.Whisper.ModelDir == "" {
		return errors.New("whisper.model_dir must not be empty")
	}
	if len(cfg.Whisper.Models) == 0 {
		return errors.New("whisper.models must not be empty")
	}
	if !contains(cfg.Whisper.Models, cfg.Whisper.DefaultModel) {
		return fmt.Errorf("whisper.default_model %q is not one of whisper.models", cfg.Whisper.DefaultModel)
	}
	switch cfg.Whisper.Output {
	case "stdout", "file":
	default:
		return errors.New("whisper.output must be one of stdout|file")
	}
	if cfg.Whisper.TimeoutSeconds < 0 {
		return errors.New("whisper.timeout_seconds must be >= 0")
	}
	switch cfg.LLM.Mode {
	case "ollama", "exec", "gemini", "mock":
	default:
		return errors.New("llm.mode must be one of ollama|exec|gemini|mock")
	}
	if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
		return errors.New("llm.endpoint must be set when mode=ollama")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.Mode == "gemini" && len(cfg.LLM.GeminiAPIKeys) == 0 {
		return errors.New("llm.gemini_api_keys must not be empty when mode=gemini")
	}
	if cfg.LLM.DefaultModel == "" {
		return errors.New("llm.default_model must not be empty")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.LLM.TimeoutSeconds < 0 {
		return errors.New("llm.timeout_seconds must be >= 0")
	}
	if cfg.Transcript.Path == "" {
		return errors.New("transcript.path must not be empty")
	}
	if cfg.Uploads.MaxBytes <= 0 {
		return errors.New("uploads.max_bytes must be positive")
	}
	if len(cfg.Uploads.AllowedExtensions) == 0 {
		return errors.New("uploads.allowed_extensions must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionMode == "persistent" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Watcher.Enabled {
		if cfg.Watcher.Input == "" || cfg.Watcher.Output == "" {
			return errors.New("watcher.input and watcher.output must be set when watcher is enabled")
		}
	}
	return nil
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
