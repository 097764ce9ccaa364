// Package relay ships direct messages and broadcasts between connected
// peers and records them in the node's inbox.
package relay

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/peder1981/p2p-chat/internal/connreq"
	"github.com/peder1981/p2p-chat/internal/errs"
	"github.com/peder1981/p2p-chat/internal/inbox"
	"github.com/peder1981/p2p-chat/internal/logging"
	"github.com/peder1981/p2p-chat/internal/metrics"
	"github.com/peder1981/p2p-chat/internal/transport"
)

// MaxBodyLen bounds direct and broadcast message bodies, in characters.
const MaxBodyLen = 4096

// Peers is the connected-peer view the relay needs.
type Peers interface {
	IsConnected(id string) bool
	Lookup(id string) (connreq.Peer, bool)
	Connected() []connreq.Peer
}

// Relay delivers messages for the node identified by self.
type Relay struct {
	self    string
	peers   Peers
	sender  transport.Sender
	inbox   *inbox.Inbox
	fanout  int
	timeout time.Duration

	logger  logging.Logger
	metrics *metrics.Metrics
}

// Option configures a Relay.
type Option func(*Relay)

// WithFanout bounds the number of concurrent broadcast sends.
func WithFanout(n int) Option {
	return func(r *Relay) { r.fanout = n }
}

// WithTimeout bounds each packet send, retries included.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithMetrics sets the metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// New returns a relay writing into in and shipping packets through sender.
func New(self string, peers Peers, sender transport.Sender, in *inbox.Inbox, opts ...Option) *Relay {
	r := &Relay{
		self:    self,
		peers:   peers,
		sender:  sender,
		inbox:   in,
		fanout:  16,
		timeout: 3 * time.Second,
		logger:  logging.NewNopLogger(),
		metrics: metrics.NopMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("module", "relay")
	return r
}

// Send delivers body to the connected peer to and keeps the sender's copy.
func (r *Relay) Send(ctx context.Context, to, body string) (inbox.Message, error) {
	if err := checkBody(body); err != nil {
		return inbox.Message{}, err
	}
	p, ok := r.peers.Lookup(to)
	if !ok {
		return inbox.Message{}, fmt.Errorf("send to %s: %w", to, errs.ErrNotConnected)
	}

	msg := inbox.NewDirect(r.self, to, body)
	pkt := transport.Packet{
		Action:    transport.ActionMessage,
		ID:        msg.ID,
		From:      r.self,
		Message:   body,
		Timestamp: msg.Timestamp,
	}
	if err := r.ship(ctx, p, pkt); err != nil {
		return inbox.Message{}, err
	}
	r.inbox.Append(msg)
	r.metrics.DirectMessages.Add(1)
	r.logger.Debug("message sent", "to", to, "id", msg.ID)
	return msg, nil
}

// Broadcast sends body to a snapshot of the connected peers and appends
// one copy to the local inbox. Unreachable peers are skipped; delivered
// counts the remote peers that received it.
func (r *Relay) Broadcast(ctx context.Context, body string) (int, error) {
	if err := checkBody(body); err != nil {
		return 0, err
	}
	peers := r.peers.Connected()

	msg := inbox.NewBroadcast(r.self, body)
	r.inbox.Append(msg)
	r.metrics.Broadcasts.Add(1)

	pkt := transport.Packet{
		Action:    transport.ActionBroadcast,
		ID:        msg.ID,
		From:      r.self,
		Message:   body,
		Timestamp: msg.Timestamp,
	}

	var delivered int64
	g, gctx := errgroup.WithContext(ctx)
	if r.fanout > 0 {
		g.SetLimit(r.fanout)
	}
	for _, p := range peers {
		p := p
		g.Go(func() error {
			if err := r.ship(gctx, p, pkt); err != nil {
				r.logger.Info("broadcast skipped peer", "peer", p.ID, "err", err)
				return nil
			}
			atomic.AddInt64(&delivered, 1)
			r.metrics.FanoutDeliveries.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("broadcast", "id", msg.ID, "peers", len(peers), "delivered", delivered)
	return int(delivered), nil
}

// Deliver records an inbound message or broadcast packet. Packets from
// peers that are not connected are dropped with ErrNotConnected.
func (r *Relay) Deliver(pkt transport.Packet) (inbox.Message, error) {
	if !r.peers.IsConnected(pkt.From) {
		return inbox.Message{}, fmt.Errorf("%s from %s: %w", pkt.Action, pkt.From, errs.ErrNotConnected)
	}

	var msg inbox.Message
	switch pkt.Action {
	case transport.ActionMessage:
		msg = inbox.NewDirect(pkt.From, r.self, pkt.Message)
	case transport.ActionBroadcast:
		msg = inbox.NewBroadcast(pkt.From, pkt.Message)
	default:
		return inbox.Message{}, fmt.Errorf("unexpected action %q: %w", pkt.Action, errs.ErrInvalid)
	}
	if pkt.ID != "" {
		msg.ID = pkt.ID
	}
	if !pkt.Timestamp.IsZero() {
		msg.Timestamp = pkt.Timestamp
	}
	r.inbox.Append(msg)
	r.logger.Debug("message received", "from", pkt.From, "type", msg.Type, "id", msg.ID)
	return msg, nil
}

// Notify sends a control packet to p with the relay's timeout and retries.
func (r *Relay) Notify(ctx context.Context, p connreq.Peer, pkt transport.Packet) error {
	return r.ship(ctx, p, pkt)
}

func (r *Relay) ship(ctx context.Context, p connreq.Peer, pkt transport.Packet) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	addr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	if err := r.sender.Send(ctx, addr, pkt); err != nil {
		r.metrics.SendFailures.Add(1)
		return err
	}
	return nil
}

func checkBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("message is empty: %w", errs.ErrInvalid)
	}
	if utf8.RuneCountInString(body) > MaxBodyLen {
		return fmt.Errorf("message longer than %d characters: %w", MaxBodyLen, errs.ErrInvalid)
	}
	return nil
}
