package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/peder1981/p2p-chat/internal/storage"
)

// Config holds the application configuration loaded from TOML.
type Config struct {
	Tracker  TrackerConfig  `toml:"tracker"`
	Channels ChannelsConfig `toml:"channels"`
	Peer     PeerConfig     `toml:"peer"`
	Network  NetworkConfig  `toml:"network"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// TrackerConfig holds settings for the tracker (peer registry) service.
type TrackerConfig struct {
	ListenAddr string `toml:"listenAddr"`
	// TTLSeconds is how long a registration survives without a heartbeat.
	TTLSeconds int `toml:"ttlSeconds"`
}

// ChannelsConfig holds settings for the channel service and its store.
type ChannelsConfig struct {
	ListenAddr string `toml:"listenAddr"`
	// Backend is one of "memory", "sqlite" or "redis".
	Backend string `toml:"backend"`
	// SQLitePath is the database file; empty means <data dir>/channels.db.
	SQLitePath string `toml:"sqlitePath"`
	RedisAddr  string `toml:"redisAddr"`
	RedisDB    int    `toml:"redisDB"`
	RedisKey   string `toml:"redisKeyPrefix"`
}

// PeerConfig holds settings for a peer node.
type PeerConfig struct {
	// Host is the address advertised to other peers and used as identity.
	Host string `toml:"host"`
	// Port is the TCP port for peer packets; 0 picks a free port.
	Port       int    `toml:"port"`
	HTTPAddr   string `toml:"httpAddr"`
	TrackerURL string `toml:"trackerURL"`
	// HeartbeatSeconds is the tracker re-registration interval.
	HeartbeatSeconds int `toml:"heartbeatSeconds"`
	InboxSize        int `toml:"inboxSize"`
	SendTimeoutMs    int `toml:"sendTimeoutMs"`
	SendRetries      int `toml:"sendRetries"`
	FanoutLimit      int `toml:"fanoutLimit"`
}

// NetworkConfig holds LAN discovery settings.
type NetworkConfig struct {
	BootstrapPeers []string `toml:"bootstrapPeers"`
	EnableMDNS     bool     `toml:"enableMDNS"`
	EnableUPnP     bool     `toml:"enableUPnP"`
}

// ProxyConfig holds the virtual-host reverse proxy that puts the services
// behind one origin for the browser client.
type ProxyConfig struct {
	ListenAddr string `toml:"listenAddr"`
	// Hosts maps a Host header, with or without port, to backend
	// host:port addresses used in rotation.
	Hosts map[string][]string `toml:"hosts"`
	// Default serves hosts missing from Hosts; empty answers 404.
	Default   []string `toml:"default"`
	TimeoutMs int      `toml:"timeoutMs"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// NewDefaultConfig returns a Config populated with default values.
func NewDefaultConfig() Config {
	return Config{
		Tracker: TrackerConfig{
			ListenAddr: ":8000",
			TTLSeconds: 60,
		},
		Channels: ChannelsConfig{
			ListenAddr: ":8001",
			Backend:    "memory",
			RedisAddr:  "localhost:6379",
			RedisKey:   "p2p-chat",
		},
		Peer: PeerConfig{
			Host:             "127.0.0.1",
			Port:             9999,
			HTTPAddr:         ":8080",
			TrackerURL:       "http://127.0.0.1:8000",
			HeartbeatSeconds: 20,
			InboxSize:        1000,
			SendTimeoutMs:    3000,
			SendRetries:      3,
			FanoutLimit:      16,
		},
		Network: NetworkConfig{
			BootstrapPeers: []string{},
		},
		Proxy: ProxyConfig{
			ListenAddr: ":8090",
			Hosts: map[string][]string{
				"tracker.local":  {"127.0.0.1:8000"},
				"channels.local": {"127.0.0.1:8001"},
				"peer.local":     {"127.0.0.1:8080"},
			},
			Default:   []string{"127.0.0.1:8080"},
			TimeoutMs: 5000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "plain",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "p2pchat",
		},
	}
}

// DefaultConfigPath returns the XDG default path for the config file.
func DefaultConfigPath() (string, error) {
	if dir := storage.ConfigDir(); dir != "" {
		return filepath.Join(dir, "config.toml"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "p2p-chat", "config.toml"), nil
}

// Load reads the configuration from the given path (TOML).
// If path is empty, it uses the XDG default. Missing file returns defaults.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}
	if info, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	} else if info.IsDir() {
		return &cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	switch c.Channels.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("channels.backend: unknown backend %q", c.Channels.Backend)
	}
	if c.Peer.Port < 0 || c.Peer.Port > 65535 {
		return fmt.Errorf("peer.port: %d out of range", c.Peer.Port)
	}
	if c.Tracker.TTLSeconds <= 0 {
		return fmt.Errorf("tracker.ttlSeconds must be positive")
	}
	for host, backends := range c.Proxy.Hosts {
		if len(backends) == 0 {
			return fmt.Errorf("proxy.hosts.%s: no backends", host)
		}
		if err := checkBackends("proxy.hosts."+host, backends); err != nil {
			return err
		}
	}
	return checkBackends("proxy.default", c.Proxy.Default)
}

func checkBackends(field string, backends []string) error {
	for _, b := range backends {
		if _, port, err := net.SplitHostPort(b); err != nil || port == "" {
			return fmt.Errorf("%s: %q is not host:port", field, b)
		}
	}
	return nil
}

// Timeout returns the per-request backend timeout.
func (p ProxyConfig) Timeout() time.Duration {
	if p.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// TTL returns the tracker registration lifetime.
func (t TrackerConfig) TTL() time.Duration {
	return time.Duration(t.TTLSeconds) * time.Second
}

// Heartbeat returns the interval between tracker registrations.
func (p PeerConfig) Heartbeat() time.Duration {
	if p.HeartbeatSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(p.HeartbeatSeconds) * time.Second
}

// SendTimeout returns the per-packet dial and write timeout.
func (p PeerConfig) SendTimeout() time.Duration {
	if p.SendTimeoutMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(p.SendTimeoutMs) * time.Millisecond
}
