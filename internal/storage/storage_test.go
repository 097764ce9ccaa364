package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigDirUsesXDG(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	if dir, want := ConfigDir(), filepath.Join(tmp, "p2p-chat"); dir != want {
		t.Errorf("ConfigDir = %q; want %q", dir, want)
	}
}

// TestConfigDirUsesHome verifies ConfigDir falls back to HOME if XDG not set.
func TestConfigDirUsesHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", tmp)
	if dir, want := ConfigDir(), filepath.Join(tmp, ".config", "p2p-chat"); dir != want {
		t.Errorf("ConfigDir = %q; want %q", dir, want)
	}
}

func TestDataDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)
	if dir, want := DataDir(), filepath.Join(tmp, "p2p-chat"); dir != want {
		t.Errorf("DataDir = %q; want %q", dir, want)
	}

	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", tmp)
	if dir, want := DataDir(), filepath.Join(tmp, ".local", "share", "p2p-chat"); dir != want {
		t.Errorf("DataDir sem XDG = %q; want %q", dir, want)
	}
}

func TestDataFileCreatesDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)
	path, err := DataFile("", "channels.db")
	if err != nil {
		t.Fatalf("DataFile: %v", err)
	}
	if want := filepath.Join(tmp, "p2p-chat", "channels.db"); path != want {
		t.Errorf("DataFile = %q; want %q", path, want)
	}
	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		t.Errorf("data dir not created: %v", err)
	}
}

func TestDataFileExplicit(t *testing.T) {
	path, err := DataFile("/var/lib/chat.db", "channels.db")
	if err != nil || path != "/var/lib/chat.db" {
		t.Errorf("DataFile = %q, %v; want explicit path", path, err)
	}
}

func TestDataFileWithoutHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "")
	if _, err := DataFile("", "channels.db"); err == nil {
		t.Error("expected error without a data directory")
	}
}
