package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// xdgDir resolves an XDG base directory, falling back to fallback under the
// home directory.
func xdgDir(env string, fallback ...string) (string, bool) {
	if dir := os.Getenv(env); dir != "" {
		return dir, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(append([]string{home}, fallback...)...), true
}

func defaultDataDir() string {
	dir, ok := xdgDir("XDG_DATA_HOME", ".local", "share")
	if !ok {
		return "caplog-data"
	}
	return filepath.Join(dir, "caplog")
}

// ConfigFilePath is where `caplog config set` writes.
func ConfigFilePath() string {
	return configFilePath()
}

func configFilePath() string {
	dir, ok := xdgDir("XDG_CONFIG_HOME", ".config")
	if !ok {
		dir = "."
	}
	return filepath.Join(dir, "caplog", "config.json")
}

// fileBackend keeps keys as a flat JSON object, e.g.
// {"server.port": 4100, "export.include_timestamps": false}.
type fileBackend struct {
	path   string
	values map[string]any
}

// newFileBackend reads path if it exists. An unreadable or malformed file
// is reported and treated as empty so that defaults still apply.
func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, values: map[string]any{}}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", path, err)
	default:
		if err := json.Unmarshal(data, &b.values); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", path, err)
			b.values = map[string]any{}
		}
	}
	return b
}

func (b *fileBackend) Lookup(key string) (any, bool) {
	v, ok := b.values[key]
	return v, ok
}

func (b *fileBackend) Set(key string, val any) error {
	b.values[key] = val
	return b.flush()
}

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.flush()
}

func (b *fileBackend) flush() error {
	data, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := writeFileAtomic(b.path, append(data, '\n')); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// writeFileAtomic replaces path with an owner-only file through a temp file
// in the same directory, so readers never see a partial write.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
