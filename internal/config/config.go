package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/caplog/internal/recorder"
	"github.com/kalambet/caplog/internal/textproc"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Text    TextConfig
	Capture CaptureConfig
	Export  ExportConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type TextConfig struct {
	DuplicateThreshold float64
	MinConfidence      float64
	Similarity         string
}

type CaptureConfig struct {
	QueueSize int
	Interval  string
}

// IntervalDuration parses Interval; validated by Load.
func (c CaptureConfig) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	return d
}

type ExportConfig struct {
	// Dir defaults to <data dir>/exports when empty.
	Dir               string
	IncludeTimestamps bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Text: TextConfig{
			DuplicateThreshold: textproc.DefaultDuplicateThreshold,
			MinConfidence:      textproc.DefaultMinConfidence,
			Similarity:         textproc.SimilarityRatcliff,
		},
		Capture: CaptureConfig{
			QueueSize: recorder.DefaultQueueSize,
			Interval:  "1s",
		},
		Export: ExportConfig{
			IncludeTimestamps: true,
		},
	}
}

// Load reads configuration from the JSON file backend, then applies
// environment overrides (CAPLOG_*). The API token is read from
// CAPLOG_SERVER_API_TOKEN or, failing that, from the secrets file.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), defaultSecrets())
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.APIToken == "" && secrets != nil {
		if tok, err := secrets.Get(secretService, apiTokenSecret); err == nil && tok != "" {
			cfg.Server.APIToken = tok
		}
	}

	if cfg.Export.Dir == "" {
		cfg.Export.Dir = filepath.Join(cfg.Storage.DataDir, "exports")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range 1-65535", c.Server.Port)
	}
	if c.Text.DuplicateThreshold < 0 || c.Text.DuplicateThreshold > 1 {
		return fmt.Errorf("invalid config: text.duplicate_threshold %v must be within 0-1", c.Text.DuplicateThreshold)
	}
	if c.Text.MinConfidence < 0 || c.Text.MinConfidence > 100 {
		return fmt.Errorf("invalid config: text.min_confidence %v must be within 0-100", c.Text.MinConfidence)
	}
	if _, err := textproc.SimilarityByName(c.Text.Similarity); err != nil {
		return fmt.Errorf("invalid config: text.similarity: %w", err)
	}
	if c.Capture.QueueSize < 1 {
		return fmt.Errorf("invalid config: capture.queue_size must be positive, got %d", c.Capture.QueueSize)
	}
	if d, err := time.ParseDuration(c.Capture.Interval); err != nil || d < 0 {
		return fmt.Errorf("invalid config: capture.interval %q is not a non-negative duration", c.Capture.Interval)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid config: log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	return nil
}

// ProcessorOptions builds the text processor settings from the config.
func (c Config) ProcessorOptions() []textproc.Option {
	sim, _ := textproc.SimilarityByName(c.Text.Similarity)
	return []textproc.Option{
		textproc.WithDuplicateThreshold(c.Text.DuplicateThreshold),
		textproc.WithMinConfidence(c.Text.MinConfidence),
		textproc.WithSimilarity(sim),
	}
}
