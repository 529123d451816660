package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const AppName = "mailproc"

func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home dir: %w", err)
	}

	return filepath.Join(home, ".config", AppName), nil
}

// KeyringDir is where the keyring "file" backend stores encrypted entries.
func KeyringDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "keyring"), nil
}

func EnsureKeyringDir() (string, error) {
	dir, err := KeyringDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("ensure keyring dir: %w", err)
	}

	return dir, nil
}

// LedgerPath resolves the journal database location, creating its parent
// directory.
func LedgerPath(cfg LedgerConfig) (string, error) {
	path := cfg.Path
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(dir, "ledger.db")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("ensure ledger dir: %w", err)
	}

	return path, nil
}
