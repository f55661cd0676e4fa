package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CAPLOG_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "CAPLOG_SERVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CAPLOG_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "CAPLOG_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "text.duplicate_threshold", typ: kFloat, env: "CAPLOG_TEXT_DUPLICATE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Text.DuplicateThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Text.DuplicateThreshold },
	},
	{
		key: "text.min_confidence", typ: kFloat, env: "CAPLOG_TEXT_MIN_CONFIDENCE",
		apply:   func(cfg *Config, v any) { cfg.Text.MinConfidence = v.(float64) },
		extract: func(cfg Config) any { return cfg.Text.MinConfidence },
	},
	{
		key: "text.similarity", typ: kString, env: "CAPLOG_TEXT_SIMILARITY",
		apply:   func(cfg *Config, v any) { cfg.Text.Similarity = v.(string) },
		extract: func(cfg Config) any { return cfg.Text.Similarity },
	},
	{
		key: "capture.queue_size", typ: kInt, env: "CAPLOG_CAPTURE_QUEUE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Capture.QueueSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Capture.QueueSize },
	},
	{
		key: "capture.interval", typ: kString, env: "CAPLOG_CAPTURE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Capture.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Capture.Interval },
	},
	{
		key: "export.dir", typ: kString, env: "CAPLOG_EXPORT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Export.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Export.Dir },
	},
	{
		key: "export.include_timestamps", typ: kBool, env: "CAPLOG_EXPORT_INCLUDE_TIMESTAMPS",
		apply:   func(cfg *Config, v any) { cfg.Export.IncludeTimestamps = v.(bool) },
		extract: func(cfg Config) any { return cfg.Export.IncludeTimestamps },
	},
}

// coerce converts a backend or environment value to t. Strings are parsed;
// JSON numbers arrive as float64 and must be integral for kInt.
func coerce(t keyType, v any) (any, error) {
	switch t {
	case kString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case kInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case float64:
			if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
				return nil, fmt.Errorf("%v is not an integer", n)
			}
			return int(n), nil
		case string:
			return strconv.Atoi(strings.TrimSpace(n))
		}
	case kFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(n), 64)
		}
	case kBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(b))
		}
	}
	return nil, fmt.Errorf("unexpected %T", v)
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	}
	return "string"
}

// applyBackend copies stored keys into cfg. A value of the wrong type is an
// error since the file is written by `caplog config set`.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok := b.Lookup(s.key)
		if !ok || raw == nil {
			continue
		}
		v, err := coerce(s.typ, raw)
		if err != nil {
			return fmt.Errorf("config key %s: invalid %s: %w", s.key, s.typ, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides lets CAPLOG_* variables win over the file. Unparsable
// values are reported and skipped.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := coerce(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
