package main

import (
	"context"
	"net"
	"strconv"

	"github.com/peder1981/p2p-chat/internal/api"
	"github.com/peder1981/p2p-chat/internal/channel"
	"github.com/peder1981/p2p-chat/internal/discovery"
	"github.com/peder1981/p2p-chat/internal/node"
	"github.com/peder1981/p2p-chat/internal/portmanager"
	"github.com/peder1981/p2p-chat/internal/registry"
	"github.com/peder1981/p2p-chat/internal/transport"
)

// startTracker serves the peer registry and expires stale registrations.
func startTracker(ctx context.Context, e *env) error {
	reg := registry.New(e.cfg.Tracker.TTL(),
		registry.WithLogger(e.logger.With("module", "registry")),
		registry.WithMetrics(e.metrics),
	)
	ctx, cancel := context.WithCancel(ctx)
	if err := e.serveHTTP("tracker", e.cfg.Tracker.ListenAddr, api.NewTrackerApp(reg, e.apiOptions()),
		func(context.Context) error {
			cancel()
			return nil
		},
	); err != nil {
		cancel()
		return err
	}
	go reg.Run(ctx)
	return nil
}

// startChannels opens the configured store and serves the channel API.
func startChannels(ctx context.Context, e *env) error {
	store, closeStore, err := channel.Open(ctx, e.cfg.Channels)
	if err != nil {
		return err
	}
	e.logger.Info("channel store ready", "backend", e.cfg.Channels.Backend)

	s := channel.NewInstrumented(store, e.logger, e.metrics)
	if err := e.serveHTTP("channels", e.cfg.Channels.ListenAddr, api.NewChannelApp(s, e.apiOptions()),
		func(context.Context) error { return closeStore() },
	); err != nil {
		_ = closeStore()
		return err
	}
	return nil
}

// startProxy puts the services behind one origin, routed by Host header.
func startProxy(_ context.Context, e *env) error {
	pc := e.cfg.Proxy
	e.logger.Info("proxy routes", "hosts", len(pc.Hosts), "default", pc.Default)
	return e.serveHTTP("proxy", pc.ListenAddr, api.NewProxyApp(pc, e.apiOptions()))
}

// startPeer binds the packet listener, builds the node and serves its
// control API. Discovery failures only disable LAN discovery.
func startPeer(ctx context.Context, e *env) error {
	pc := e.cfg.Peer
	listener, port, release, err := listenPackets(packetPorts, pc.Port)
	if err != nil {
		return err
	}
	logger := e.logger.With("module", "peer")
	logger.Info("packet listener ready", "addr", listener.Addr().String())

	opts := []node.Option{node.WithLogger(e.logger), node.WithMetrics(e.metrics)}
	if pc.TrackerURL != "" {
		opts = append(opts, node.WithTracker(registry.NewClient(pc.TrackerURL, pc.SendTimeout())))
	}
	sender := &transport.TCPSender{Timeout: pc.SendTimeout(), Retries: uint64(pc.SendRetries)}
	n, err := node.New(pc, port, sender, opts...)
	if err != nil {
		_ = listener.Close()
		release()
		return err
	}

	bootstrap, bad := discovery.ParseBootstrap(e.cfg.Network.BootstrapPeers)
	for _, err := range bad {
		logger.Error("ignoring bootstrap peer", "err", err)
	}
	for _, p := range bootstrap {
		n.AddPeer(p)
	}

	disc := discovery.New(n.Self(), discovery.Options{
		MDNS:   e.cfg.Network.EnableMDNS,
		UPnP:   e.cfg.Network.EnableUPnP,
		Logger: e.logger,
		OnPeer: n.AddPeer,
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)

	if err := e.serveHTTP("peer", pc.HTTPAddr, api.NewPeerApp(n, e.apiOptions()),
		func(ctx context.Context) error {
			n.DisconnectAll(ctx)
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			disc.Stop()
			defer release()
			return listener.Close()
		},
	); err != nil {
		cancel()
		_ = listener.Close()
		release()
		return err
	}

	if err := disc.Start(runCtx); err != nil {
		logger.Error("LAN discovery disabled", "err", err)
	}
	go func() { done <- n.Run(runCtx, listener.Packets) }()
	logger.Info("peer started", "id", n.Self().ID)
	return nil
}

// packetPorts hands out packet ports to peers started by this process.
var packetPorts = portmanager.New()

// listenPackets listens on port, or on the first free port pm hands out
// when port is zero. release returns a picked port to pm once the listener
// is closed.
func listenPackets(pm *portmanager.PortManager, port int) (l *transport.Listener, bound int, release func(), err error) {
	if port != 0 {
		l, err = transport.Listen(net.JoinHostPort("", strconv.Itoa(port)))
		return l, port, func() {}, err
	}
	bound, err = pm.Bind("", func(addr string) error {
		var err error
		l, err = transport.Listen(addr)
		return err
	})
	if err != nil {
		return nil, 0, nil, err
	}
	return l, bound, func() { pm.ReleasePort(bound) }, nil
}
