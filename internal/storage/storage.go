package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "p2p-chat"

// ConfigDir retorna o diretório de configuração seguindo XDG_CONFIG_HOME ou ~/.config
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", appName)
	}
	return ""
}

// DataDir retorna o diretório de dados seguindo XDG_DATA_HOME ou ~/.local/share
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share", appName)
	}
	return ""
}

// DataFile resolves name inside DataDir, creating the directory if needed.
// An explicit path is returned unchanged.
func DataFile(explicit, name string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	dir := DataDir()
	if dir == "" {
		return "", fmt.Errorf("no data directory: set XDG_DATA_HOME or HOME")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return filepath.Join(dir, name), nil
}
