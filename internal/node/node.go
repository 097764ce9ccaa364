// Package node assembles a peer node: identity, tracker client, handshake
// state, inbox and relay, plus the loop that dispatches inbound packets.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/peder1981/p2p-chat/internal/config"
	"github.com/peder1981/p2p-chat/internal/connreq"
	"github.com/peder1981/p2p-chat/internal/errs"
	"github.com/peder1981/p2p-chat/internal/inbox"
	"github.com/peder1981/p2p-chat/internal/logging"
	"github.com/peder1981/p2p-chat/internal/metrics"
	"github.com/peder1981/p2p-chat/internal/registry"
	"github.com/peder1981/p2p-chat/internal/relay"
	"github.com/peder1981/p2p-chat/internal/transport"
)

// Tracker is the remote peer registry.
type Tracker interface {
	Register(ctx context.Context, p registry.Peer) error
	Remove(ctx context.Context, p registry.Peer) error
	List(ctx context.Context) ([]registry.Peer, error)
}

// Node is one chat participant.
type Node struct {
	self      registry.Peer
	tracker   Tracker
	local     *registry.Registry
	conns     *connreq.Manager
	inbox     *inbox.Inbox
	relay     *relay.Relay
	heartbeat time.Duration
	timeout   time.Duration

	logger  logging.Logger
	metrics *metrics.Metrics
}

// Option configures a Node.
type Option func(*Node)

// WithTracker sets the tracker used for discovery and heartbeats.
func WithTracker(t Tracker) Option {
	return func(n *Node) { n.tracker = t }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithMetrics sets the metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

// New builds a node listening at cfg.Host:port and sending through sender.
func New(cfg config.PeerConfig, port int, sender transport.Sender, opts ...Option) (*Node, error) {
	self, err := registry.NewPeer(cfg.Host, port)
	if err != nil {
		return nil, err
	}
	n := &Node{
		self:      self,
		heartbeat: cfg.Heartbeat(),
		timeout:   cfg.SendTimeout(),
		logger:    logging.NewNopLogger(),
		metrics:   metrics.NopMetrics(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("node", self.ID)
	n.local = registry.New(0, registry.WithLogger(n.logger.With("module", "local-peers")))
	n.conns = connreq.NewManager(self.ID, n.logger, n.metrics)
	n.inbox = inbox.New(cfg.InboxSize)
	n.relay = relay.New(self.ID, n.conns, sender, n.inbox,
		relay.WithFanout(cfg.FanoutLimit),
		relay.WithTimeout(n.timeout),
		relay.WithLogger(n.logger),
		relay.WithMetrics(n.metrics),
	)
	return n, nil
}

// Self returns the node's own peer record.
func (n *Node) Self() registry.Peer {
	return n.self
}

// AddPeer makes p visible in Peers without going through the tracker.
// Used for bootstrap peers and LAN discovery.
func (n *Node) AddPeer(p registry.Peer) {
	if p.ID == n.self.ID {
		return
	}
	n.local.Register(p)
}

// Peers lists known peers with their status relative to this node.
// Tracker failure is reported as ErrUnavailable.
func (n *Node) Peers(ctx context.Context) ([]registry.Peer, error) {
	seen := make(map[string]bool)
	var out []registry.Peer
	add := func(p registry.Peer) {
		if p.ID == n.self.ID || seen[p.ID] {
			return
		}
		seen[p.ID] = true
		p.Status = n.conns.Status(p.ID)
		out = append(out, p)
	}

	if n.tracker != nil {
		remote, err := n.tracker.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range remote {
			add(p)
		}
	}
	for _, p := range n.local.List(n.self.ID) {
		add(p)
	}
	return out, nil
}

// Pending lists inbound connect requests.
func (n *Node) Pending() []connreq.Pending {
	return n.conns.ListPending()
}

// Connected lists connected peers.
func (n *Node) Connected() []connreq.Peer {
	return n.conns.Connected()
}

// Messages returns the inbox.
func (n *Node) Messages() []inbox.Message {
	return n.inbox.List()
}

// Connect sends a connect request to ip:port.
func (n *Node) Connect(ctx context.Context, ip string, port int) error {
	target, err := registry.NewPeer(ip, port)
	if err != nil {
		return err
	}
	created, err := n.conns.RequestConnect(target)
	if err != nil {
		return err
	}
	n.local.Register(target)

	err = n.relay.Notify(ctx, toConnPeer(target), n.packet(transport.ActionConnectRequest))
	if err != nil {
		// a repeat may fail after the first request got through; keep that one
		if created {
			_ = n.conns.Denied(target.ID)
		}
		return err
	}
	return nil
}

// Accept accepts the request identified by key (requester id or request id)
// and notifies the requester. If the requester cannot be reached the
// connection is dropped again and ErrUnavailable returned.
func (n *Node) Accept(ctx context.Context, key string) error {
	req, err := n.conns.Accept(key)
	if err != nil {
		return err
	}
	p := connreq.Peer{ID: req.From, Host: req.Host, Port: req.Port}
	if err := n.relay.Notify(ctx, p, n.packet(transport.ActionConnectAccept)); err != nil {
		_, _ = n.conns.Disconnect(req.From)
		return err
	}
	return nil
}

// Deny refuses the request identified by key. Telling the requester is
// best effort.
func (n *Node) Deny(ctx context.Context, key string) error {
	req, err := n.conns.Deny(key)
	if err != nil {
		return err
	}
	p := connreq.Peer{ID: req.From, Host: req.Host, Port: req.Port}
	if err := n.relay.Notify(ctx, p, n.packet(transport.ActionConnectDeny)); err != nil {
		n.logger.Info("could not notify denied peer", "peer", req.From, "err", err)
	}
	return nil
}

// Disconnect drops the connection with id and tells the other side.
func (n *Node) Disconnect(ctx context.Context, id string) error {
	p, err := n.conns.Disconnect(id)
	if err != nil {
		return err
	}
	if err := n.relay.Notify(ctx, p, n.packet(transport.ActionDisconnect)); err != nil {
		n.logger.Info("could not notify disconnected peer", "peer", id, "err", err)
	}
	return nil
}

// Send delivers a direct message to the connected peer to.
func (n *Node) Send(ctx context.Context, to, body string) (inbox.Message, error) {
	return n.relay.Send(ctx, to, body)
}

// Broadcast sends body to every connected peer.
func (n *Node) Broadcast(ctx context.Context, body string) (int, error) {
	return n.relay.Broadcast(ctx, body)
}

// Handle processes one inbound packet.
func (n *Node) Handle(ctx context.Context, pkt transport.Packet) {
	n.metrics.PacketsReceived.With("action", pkt.Action).Add(1)
	if err := n.handle(ctx, pkt); err != nil {
		n.logger.Debug("packet rejected", "action", pkt.Action, "from", pkt.From, "err", err)
	}
}

func (n *Node) handle(ctx context.Context, pkt transport.Packet) error {
	switch pkt.Action {
	case transport.ActionConnectRequest:
		from, err := n.sender(pkt)
		if err != nil {
			return err
		}
		n.local.Register(from)
		outcome, err := n.conns.Receive(from)
		if err != nil {
			return err
		}
		if outcome == connreq.Connected {
			go n.notifyAccept(ctx, from)
		}
		return nil

	case transport.ActionConnectAccept:
		from, err := n.sender(pkt)
		if err != nil {
			return err
		}
		return n.conns.Accepted(from)

	case transport.ActionConnectDeny:
		return n.conns.Denied(pkt.From)

	case transport.ActionDisconnect:
		_, err := n.conns.Disconnect(pkt.From)
		return err

	case transport.ActionMessage, transport.ActionBroadcast:
		_, err := n.relay.Deliver(pkt)
		return err

	default:
		return fmt.Errorf("unknown action %q: %w", pkt.Action, errs.ErrInvalid)
	}
}

// notifyAccept tells from that a simultaneous open connected us. It runs
// outside the dispatch loop so a slow peer does not hold up other packets.
func (n *Node) notifyAccept(ctx context.Context, from registry.Peer) {
	if err := n.relay.Notify(ctx, toConnPeer(from), n.packet(transport.ActionConnectAccept)); err != nil {
		n.logger.Info("could not confirm simultaneous connect", "peer", from.ID, "err", err)
	}
}

// sender reads the advertised address of a handshake packet; it must
// match the claimed id.
func (n *Node) sender(pkt transport.Packet) (registry.Peer, error) {
	p, err := registry.NewPeer(pkt.Host, pkt.Port)
	if err != nil {
		return registry.Peer{}, err
	}
	if p.ID != pkt.From {
		return registry.Peer{}, fmt.Errorf("packet from %s advertises %s: %w", pkt.From, p.ID, errs.ErrInvalid)
	}
	return p, nil
}

func (n *Node) packet(action string) transport.Packet {
	return transport.Packet{
		Action:    action,
		From:      n.self.ID,
		Host:      n.self.IP,
		Port:      n.self.Port,
		Timestamp: time.Now().UTC(),
	}
}

// Run registers with the tracker, keeps the registration alive and
// dispatches packets until ctx is done. The registration is withdrawn
// on the way out.
func (n *Node) Run(ctx context.Context, packets <-chan transport.Packet) error {
	n.register(ctx)

	var tick <-chan time.Time
	if n.tracker != nil && n.heartbeat > 0 {
		ticker := time.NewTicker(n.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			n.withdraw()
			return nil
		case <-tick:
			n.register(ctx)
		case pkt := <-packets:
			n.Handle(ctx, pkt)
		}
	}
}

func (n *Node) register(ctx context.Context) {
	if n.tracker == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.tracker.Register(rctx, n.self); err != nil {
		n.logger.Error("tracker registration failed", "err", err)
	}
}

func (n *Node) withdraw() {
	if n.tracker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.tracker.Remove(ctx, n.self); err != nil && !errors.Is(err, context.Canceled) {
		n.logger.Error("tracker removal failed", "err", err)
	}
}

// DisconnectAll tells every connected peer goodbye.
func (n *Node) DisconnectAll(ctx context.Context) {
	for _, p := range n.conns.Connected() {
		if err := n.Disconnect(ctx, p.ID); err != nil {
			n.logger.Debug("disconnect on shutdown", "peer", p.ID, "err", err)
		}
	}
}

func toConnPeer(p registry.Peer) connreq.Peer {
	return connreq.Peer{ID: p.ID, Host: p.IP, Port: p.Port}
}
