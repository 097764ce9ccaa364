package main

import (
	"github.com/spf13/cobra"

	"github.com/peder1981/p2p-chat/internal/config"
)

func newTrackerCmd(f *rootFlags) *cobra.Command {
	var (
		listen string
		ttl    int
	)
	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Run the tracker (peer registry) service",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := f.load(func(c *config.Config) {
				if cmd.Flags().Changed("listen") {
					c.Tracker.ListenAddr = listen
				}
				if cmd.Flags().Changed("ttl") {
					c.Tracker.TTLSeconds = ttl
				}
			})
			if err != nil {
				return err
			}
			if err := startTracker(cmd.Context(), e); err != nil {
				return err
			}
			return e.wait()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides tracker.listenAddr)")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "registration lifetime in seconds (overrides tracker.ttlSeconds)")
	return cmd
}

func newChannelsCmd(f *rootFlags) *cobra.Command {
	var listen, backend, sqlitePath, redisAddr string
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Run the channel server",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := f.load(func(c *config.Config) {
				flags := cmd.Flags()
				if flags.Changed("listen") {
					c.Channels.ListenAddr = listen
				}
				if flags.Changed("backend") {
					c.Channels.Backend = backend
				}
				if flags.Changed("sqlite-path") {
					c.Channels.SQLitePath = sqlitePath
				}
				if flags.Changed("redis-addr") {
					c.Channels.RedisAddr = redisAddr
				}
			})
			if err != nil {
				return err
			}
			if err := startChannels(cmd.Context(), e); err != nil {
				return err
			}
			return e.wait()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides channels.listenAddr)")
	cmd.Flags().StringVar(&backend, "backend", "", "store backend: memory, sqlite or redis")
	cmd.Flags().StringVar(&sqlitePath, "sqlite-path", "", "SQLite database file")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address")
	return cmd
}

func newProxyCmd(f *rootFlags) *cobra.Command {
	var (
		listen   string
		backends []string
	)
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the virtual-host reverse proxy in front of the services",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := f.load(func(c *config.Config) {
				if cmd.Flags().Changed("listen") {
					c.Proxy.ListenAddr = listen
				}
				if cmd.Flags().Changed("default") {
					c.Proxy.Default = backends
				}
			})
			if err != nil {
				return err
			}
			if err := startProxy(cmd.Context(), e); err != nil {
				return err
			}
			return e.wait()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides proxy.listenAddr)")
	cmd.Flags().StringSliceVar(&backends, "default", nil, "host:port backends for unlisted hosts (overrides proxy.default)")
	return cmd
}

// peerFlags override the [peer] and [network] config sections.
type peerFlags struct {
	host       string
	port       int
	httpAddr   string
	trackerURL string
	bootstrap  []string
	mdns       bool
	upnp       bool
}

func (p *peerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.host, "host", "", "advertised IP address (overrides peer.host)")
	cmd.Flags().IntVar(&p.port, "port", 0, "packet port; 0 picks a free port (overrides peer.port)")
	cmd.Flags().StringVar(&p.httpAddr, "http", "", "control API listen address (overrides peer.httpAddr)")
	cmd.Flags().StringVar(&p.trackerURL, "tracker", "", "tracker base URL; empty disables the tracker")
	cmd.Flags().StringSliceVar(&p.bootstrap, "bootstrap", nil, "extra host:port peers to list")
	cmd.Flags().BoolVar(&p.mdns, "mdns", false, "enable mDNS discovery")
	cmd.Flags().BoolVar(&p.upnp, "upnp", false, "enable UPnP port mapping")
}

func (p *peerFlags) apply(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		c.Peer.Host = p.host
	}
	if flags.Changed("port") {
		c.Peer.Port = p.port
	}
	if flags.Changed("http") {
		c.Peer.HTTPAddr = p.httpAddr
	}
	if flags.Changed("tracker") {
		c.Peer.TrackerURL = p.trackerURL
	}
	if flags.Changed("bootstrap") {
		c.Network.BootstrapPeers = append(c.Network.BootstrapPeers, p.bootstrap...)
	}
	if flags.Changed("mdns") {
		c.Network.EnableMDNS = p.mdns
	}
	if flags.Changed("upnp") {
		c.Network.EnableUPnP = p.upnp
	}
}

func newPeerCmd(f *rootFlags) *cobra.Command {
	pf := &peerFlags{}
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Run a peer node and its control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := f.load(func(c *config.Config) { pf.apply(cmd, c) })
			if err != nil {
				return err
			}
			if err := startPeer(cmd.Context(), e); err != nil {
				return err
			}
			return e.wait()
		},
	}
	pf.register(cmd)
	return cmd
}

// newAllCmd runs the three services and the proxy in one process, sharing
// the logger and metrics.
func newAllCmd(f *rootFlags) *cobra.Command {
	pf := &peerFlags{}
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Run tracker, channel server, one peer and the proxy in a single process",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := f.load(func(c *config.Config) { pf.apply(cmd, c) })
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			for _, start := range []func(*env) error{
				func(e *env) error { return startTracker(ctx, e) },
				func(e *env) error { return startChannels(ctx, e) },
				func(e *env) error { return startPeer(ctx, e) },
				func(e *env) error { return startProxy(ctx, e) },
			} {
				if err := start(e); err != nil {
					e.shutdownNow()
					return err
				}
			}
			return e.wait()
		},
	}
	pf.register(cmd)
	return cmd
}
