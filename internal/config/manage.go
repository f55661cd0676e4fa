package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// KeyInfo is one row of `caplog config show`. Origin is "env" when the
// variable is set, "file" when the value differs from Default, else "default".
type KeyInfo struct {
	Key     string
	EnvVar  string
	Value   string
	Default string
	Origin  string
}

// ShowAll lists the non-secret keys of cfg in declaration order.
func ShowAll(cfg Config) []KeyInfo {
	def := defaults()
	if def.Export.Dir == "" {
		def.Export.Dir = filepath.Join(cfg.Storage.DataDir, "exports")
	}
	out := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		ki := KeyInfo{
			Key:     s.key,
			EnvVar:  s.env,
			Value:   fmt.Sprint(s.extract(cfg)),
			Default: fmt.Sprint(s.extract(def)),
			Origin:  "default",
		}
		switch {
		case os.Getenv(s.env) != "":
			ki.Origin = "env"
		case ki.Value != ki.Default:
			ki.Origin = "file"
		}
		out = append(out, ki)
	}
	return out
}

// SetKey writes a config key to the config file.
func SetKey(key, value string) error {
	return setKey(newFileBackend(configFilePath()), key, value)
}

// UnsetKey removes a key from the config file so its default applies again.
func UnsetKey(key string) error {
	return unsetKey(newFileBackend(configFilePath()), key)
}

func lookupSpec(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return s, fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

// setKey stores value with its native JSON type so the file stays readable.
func setKey(b ConfigBackend, key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	v, err := coerce(s.typ, value)
	if err != nil {
		return fmt.Errorf("invalid %s value for %s: %w", s.typ, key, err)
	}
	return b.Set(key, v)
}

func unsetKey(b ConfigBackend, key string) error {
	if _, err := lookupSpec(key); err != nil {
		return err
	}
	return b.Delete(key)
}

// ValidKeys names the keys `caplog config set` accepts.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		if _, err := lookupSpec(s.key); err == nil {
			keys = append(keys, s.key)
		}
	}
	return keys
}
