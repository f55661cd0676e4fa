package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	secretService  = "caplog"
	apiTokenSecret = "api_token"
)

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// secretsFile keeps secrets outside the config file, readable only by the
// owner, in $XDG_DATA_HOME/caplog/secrets.json.
type secretsFile struct {
	path string
}

func defaultSecrets() secretsFile {
	return secretsFile{path: secretsFilePath()}
}

func secretsFilePath() string {
	dir, ok := xdgDir("XDG_DATA_HOME", ".local", "share")
	if !ok {
		dir = "."
	}
	return filepath.Join(dir, "caplog", "secrets.json")
}

func secretKey(service, account string) string {
	return service + "/" + account
}

// read returns the stored secrets, keyed "service/account".
func (f secretsFile) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	secrets := map[string]string{}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	return secrets, nil
}

func (f secretsFile) Get(service, account string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", fmt.Errorf("secrets not available: %w", err)
	}
	val, ok := secrets[secretKey(service, account)]
	if !ok {
		return "", fmt.Errorf("no secret %s for %s", account, service)
	}
	return val, nil
}

// Set adds or replaces one secret. An unreadable file is started over.
func (f secretsFile) Set(service, account, value string) error {
	secrets, err := f.read()
	if err != nil {
		secrets = map[string]string{}
	}
	secrets[secretKey(service, account)] = value

	data, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(f.path, append(data, '\n')); err != nil {
		return fmt.Errorf("writing secrets: %w", err)
	}
	return nil
}

// SaveAPIToken persists the server token so local clients can find it.
func SaveAPIToken(token string) error {
	return defaultSecrets().Set(secretService, apiTokenSecret, token)
}
