package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleToml = `
  [tracker]
  listenAddr = ":7000"
  ttlSeconds = 120

  [channels]
  backend = "sqlite"
  sqlitePath = "/tmp/channels.db"

  [peer]
  host = "10.0.0.5"
  port = 9100
  trackerURL = "http://10.0.0.1:7000"
  heartbeatSeconds = 5

  [network]
  bootstrapPeers = ["peer1:1000", "peer2:1000"]
  enableMDNS = true

  [log]
  level = "debug"
  format = "json"
`

// TestLoadFromFile ensures Load reads values from a TOML file.
func TestLoadFromFile(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.toml")
	if err := os.WriteFile(cfgPath, []byte(sampleToml), 0644); err != nil {
		t.Fatalf("failed to write sample config: %v", err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Tracker.ListenAddr != ":7000" || cfg.Tracker.TTL() != 120*time.Second {
		t.Errorf("unexpected tracker config: %+v", cfg.Tracker)
	}
	if cfg.Channels.Backend != "sqlite" || cfg.Channels.SQLitePath != "/tmp/channels.db" {
		t.Errorf("unexpected channels config: %+v", cfg.Channels)
	}
	if cfg.Peer.Host != "10.0.0.5" || cfg.Peer.Port != 9100 {
		t.Errorf("unexpected peer address: %s:%d", cfg.Peer.Host, cfg.Peer.Port)
	}
	if cfg.Peer.Heartbeat() != 5*time.Second {
		t.Errorf("unexpected heartbeat: %v", cfg.Peer.Heartbeat())
	}
	// unset keys keep their defaults
	if cfg.Peer.InboxSize != 1000 {
		t.Errorf("unexpected inbox size: %d", cfg.Peer.InboxSize)
	}
	if len(cfg.Network.BootstrapPeers) != 2 || cfg.Network.BootstrapPeers[0] != "peer1:1000" {
		t.Errorf("unexpected bootstrap peers: %v", cfg.Network.BootstrapPeers)
	}
	if !cfg.Network.EnableMDNS || cfg.Network.EnableUPnP {
		t.Errorf("unexpected discovery flags: %+v", cfg.Network)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
}

// TestLoadDefaults ensures Load returns default values when file missing.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("/path/does/not/exist/config.toml")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	def := NewDefaultConfig()
	if cfg.Channels.Backend != def.Channels.Backend {
		t.Errorf("defaults not applied for backend: %s", cfg.Channels.Backend)
	}
	if cfg.Tracker.TTLSeconds != def.Tracker.TTLSeconds {
		t.Errorf("defaults not applied for TTL: %d", cfg.Tracker.TTLSeconds)
	}
	if cfg.Peer.SendTimeout() != 3*time.Second {
		t.Errorf("defaults not applied for send timeout: %v", cfg.Peer.SendTimeout())
	}
}

// TestLoadRejectsUnknownBackend ensures Validate runs after decoding.
func TestLoadRejectsUnknownBackend(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgPath, []byte("[channels]\nbackend = \"cassandra\"\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestDefaultConfigPathFollowsXDG(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("DefaultConfigPath: %v", err)
	}
	if want := filepath.Join(tmp, "p2p-chat", "config.toml"); path != want {
		t.Errorf("DefaultConfigPath = %q; want %q", path, want)
	}
}

// TestLoadProxyHosts ensures the proxy host table is read and validated.
func TestLoadProxyHosts(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	body := `
[proxy]
listenAddr = ":9000"
default = []

[proxy.hosts]
"app1.local" = ["192.168.56.103:9001", "192.168.56.104:9001"]
`
	if err := os.WriteFile(cfgPath, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := cfg.Proxy.Hosts["app1.local"]; len(got) != 2 || got[1] != "192.168.56.104:9001" {
		t.Errorf("proxy.hosts not loaded: %v", got)
	}
	if len(cfg.Proxy.Default) != 0 {
		t.Errorf("proxy.default should be empty: %v", cfg.Proxy.Default)
	}
	if cfg.Proxy.Timeout() != 5*time.Second {
		t.Errorf("proxy timeout = %v", cfg.Proxy.Timeout())
	}
}

func TestValidateRejectsBadProxyBackend(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Proxy.Hosts["broken.local"] = []string{"no-port"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for backend without port")
	}

	cfg = NewDefaultConfig()
	cfg.Proxy.Hosts["empty.local"] = nil
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for host without backends")
	}
}
