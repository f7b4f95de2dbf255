package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TokenCache persists the access token between runs.
type TokenCache interface {
	Load() (string, error)
	Save(token string) error
	Purge() error
}

// FileCache keeps the token in a YAML file readable only by the owner.
type FileCache struct {
	Path string
}

type tokenFile struct {
	AccessToken string `yaml:"access_token"`
}

// Load returns the empty token when the file does not exist.
func (f FileCache) Load() (string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token cache: %w", err)
	}

	var tf tokenFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return "", fmt.Errorf("parse token cache %s: %w", f.Path, err)
	}
	return tf.AccessToken, nil
}

func (f FileCache) Save(token string) error {
	data, err := yaml.Marshal(tokenFile{AccessToken: token})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create token cache dir: %w", err)
	}
	if err := os.WriteFile(f.Path, data, 0o600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	return nil
}

func (f FileCache) Purge() error {
	err := os.Remove(f.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("purge token cache: %w", err)
	}
	return nil
}
