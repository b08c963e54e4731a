package icloud

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	configDirName  = "frostpix"
	trustTokenFile = "trust-token"
)

// TrustTokenCache persists the long-lived trust token so later runs can
// skip the MFA prompt. The token is plain text at a well-known path.
type TrustTokenCache struct {
	path string
}

// DefaultTrustTokenCache returns a cache at the default location:
// ~/.config/frostpix/trust-token
func DefaultTrustTokenCache() (*TrustTokenCache, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("getting user config dir: %w", err)
	}

	path := filepath.Join(configDir, configDirName, trustTokenFile)
	return &TrustTokenCache{path: path}, nil
}

// NewTrustTokenCache creates a cache with a custom path.
func NewTrustTokenCache(path string) *TrustTokenCache {
	return &TrustTokenCache{path: path}
}

// Path returns the file path where the token is stored.
func (c *TrustTokenCache) Path() string {
	return c.path
}

// Load reads the persisted token. Returns ("", nil) if no token has been
// saved yet.
func (c *TrustTokenCache) Load() (string, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading trust token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save persists the token, creating the parent directory if needed. The
// file is replaced atomically: the token is written to a temporary file
// first, so a crash mid-write never leaves a truncated token behind.
func (c *TrustTokenCache) Save(token string) error {
	if token == "" {
		return errors.New("cannot save empty trust token")
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, trustTokenFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(token); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing trust token: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("setting token file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp token file: %w", err)
	}

	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing trust token file: %w", err)
	}
	return nil
}

// Delete removes the persisted token. Returns nil if no token exists.
func (c *TrustTokenCache) Delete() error {
	err := os.Remove(c.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing trust token file: %w", err)
	}
	return nil
}
