// Package connreq implements the connect handshake between peers:
// none -> pending -> {accepted, denied}, accepted -> connected,
// connected -> disconnected -> none.
//
// The manager's map lock and a request's own lock are never held at the
// same time; the request lock alone decides which of accept/deny wins.
// Only pending requests stay in the incoming map.
package connreq

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peder1981/p2p-chat/internal/errs"
	"github.com/peder1981/p2p-chat/internal/logging"
	"github.com/peder1981/p2p-chat/internal/metrics"
	"github.com/peder1981/p2p-chat/internal/registry"
)

// State of a connect request.
type State int

const (
	StatePending State = iota
	StateAccepted
	StateDenied
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAccepted:
		return "accepted"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Request is an inbound connect attempt. Only state changes after creation.
type Request struct {
	ID        string
	From      string
	Host      string
	Port      int
	CreatedAt time.Time

	seq   uint64
	mu    sync.Mutex
	state State
}

// State returns the current state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// resolve moves a pending request to s. Only the first caller succeeds.
func (r *Request) resolve(s State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePending {
		return fmt.Errorf("request from %s already %s: %w", r.From, r.state, errs.ErrConflict)
	}
	r.state = s
	return nil
}

// Pending is a read-only view of a pending request.
type Pending struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	CreatedAt time.Time `json:"created_at"`
}

// Peer is a connected counterpart.
type Peer struct {
	ID    string    `json:"id"`
	Host  string    `json:"host"`
	Port  int       `json:"port"`
	Since time.Time `json:"since"`
}

// Outcome tells the caller of Receive what happened to an inbound request.
type Outcome int

const (
	// Queued: a new pending request is waiting for accept/deny.
	Queued Outcome = iota
	// Duplicate: an identical request is already pending.
	Duplicate
	// Connected: we had asked the same peer, so both sides are now connected.
	Connected
)

// Manager holds one node's view of pending, resolved and connected peers.
type Manager struct {
	self string

	mu           sync.RWMutex
	seq          uint64
	incoming     map[string]*Request
	resolved     map[string]resolution
	outgoing     map[string]time.Time
	connected    map[string]*Peer
	disconnected map[string]time.Time

	now     func() time.Time
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewManager returns a manager for the node identified by self.
func NewManager(self string, logger logging.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.NopMetrics()
	}
	return &Manager{
		self:         self,
		incoming:     make(map[string]*Request),
		resolved:     make(map[string]resolution),
		outgoing:     make(map[string]time.Time),
		connected:    make(map[string]*Peer),
		disconnected: make(map[string]time.Time),
		now:          time.Now,
		logger:       logger.With("module", "connreq"),
		metrics:      m,
	}
}

// RequestConnect records an outgoing request to target and reports whether
// this call created it. Repeating it while the request is pending is a no-op.
func (m *Manager) RequestConnect(target registry.Peer) (bool, error) {
	if target.ID == m.self {
		return false, fmt.Errorf("connect to self: %w", errs.ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.connected[target.ID]; ok {
		return false, fmt.Errorf("already connected to %s: %w", target.ID, errs.ErrConflict)
	}
	if _, ok := m.outgoing[target.ID]; ok {
		return false, nil
	}
	m.outgoing[target.ID] = m.now()
	delete(m.disconnected, target.ID)
	m.logger.Info("connect request sent", "peer", target.ID)
	return true, nil
}

// Receive records an inbound connect request from peer.
func (m *Manager) Receive(from registry.Peer) (Outcome, error) {
	if from.ID == m.self {
		return Queued, fmt.Errorf("request from self: %w", errs.ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.connected[from.ID]; ok {
		return Queued, fmt.Errorf("already connected to %s: %w", from.ID, errs.ErrConflict)
	}
	if _, ok := m.outgoing[from.ID]; ok {
		delete(m.outgoing, from.ID)
		m.connectLocked(from.ID, from.IP, from.Port)
		m.logger.Info("simultaneous connect", "peer", from.ID)
		return Connected, nil
	}
	if m.incoming[from.ID] != nil {
		return Duplicate, nil
	}

	m.seq++
	req := &Request{
		ID:        uuid.NewString(),
		From:      from.ID,
		Host:      from.IP,
		Port:      from.Port,
		CreatedAt: m.now(),
		seq:       m.seq,
	}
	m.incoming[from.ID] = req
	delete(m.resolved, from.ID)
	delete(m.disconnected, from.ID)
	m.metrics.PendingRequests.Set(float64(len(m.incoming)))
	m.logger.Info("incoming connect request", "peer", from.ID, "request", req.ID)
	return Queued, nil
}

// ListPending returns the unresolved inbound requests, oldest first.
func (m *Manager) ListPending() []Pending {
	m.mu.RLock()
	reqs := make([]*Request, 0, len(m.incoming))
	for _, req := range m.incoming {
		reqs = append(reqs, req)
	}
	m.mu.RUnlock()

	sort.Slice(reqs, func(i, j int) bool { return reqs[i].seq < reqs[j].seq })
	out := make([]Pending, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, Pending{ID: req.ID, From: req.From, Host: req.Host, Port: req.Port, CreatedAt: req.CreatedAt})
	}
	return out
}

// Accept connects the requester identified by key (requester id or request id).
func (m *Manager) Accept(key string) (Pending, error) {
	req, err := m.lookup(key)
	if err != nil {
		m.countResolution(err)
		return Pending{}, err
	}
	if err := req.resolve(StateAccepted); err != nil {
		m.countResolution(err)
		return Pending{}, err
	}

	m.mu.Lock()
	m.consumeLocked(req, StateAccepted)
	delete(m.outgoing, req.From)
	m.connectLocked(req.From, req.Host, req.Port)
	m.mu.Unlock()

	m.metrics.Resolutions.With("outcome", "accepted").Add(1)
	m.logger.Info("connect request accepted", "peer", req.From, "request", req.ID)
	return Pending{ID: req.ID, From: req.From, Host: req.Host, Port: req.Port, CreatedAt: req.CreatedAt}, nil
}

// Deny drops the request identified by key; the pair returns to none.
func (m *Manager) Deny(key string) (Pending, error) {
	req, err := m.lookup(key)
	if err != nil {
		m.countResolution(err)
		return Pending{}, err
	}
	if err := req.resolve(StateDenied); err != nil {
		m.countResolution(err)
		return Pending{}, err
	}

	m.mu.Lock()
	m.consumeLocked(req, StateDenied)
	m.mu.Unlock()

	m.metrics.Resolutions.With("outcome", "denied").Add(1)
	m.logger.Info("connect request denied", "peer", req.From, "request", req.ID)
	return Pending{ID: req.ID, From: req.From, Host: req.Host, Port: req.Port, CreatedAt: req.CreatedAt}, nil
}

// Accepted handles the remote's accept of our outgoing request.
// A repeated accept for an existing connection is ignored.
func (m *Manager) Accepted(from registry.Peer) error {
	m.mu.Lock()
	if _, ok := m.outgoing[from.ID]; !ok {
		_, connected := m.connected[from.ID]
		m.mu.Unlock()
		if connected {
			return nil
		}
		return fmt.Errorf("no outgoing request to %s: %w", from.ID, errs.ErrNotFound)
	}
	delete(m.outgoing, from.ID)
	req := m.incoming[from.ID]
	m.mu.Unlock()

	// their request to us is settled by the same accept
	consumed := req != nil && req.resolve(StateAccepted) == nil

	m.mu.Lock()
	if consumed {
		m.consumeLocked(req, StateAccepted)
	}
	m.connectLocked(from.ID, from.IP, from.Port)
	m.mu.Unlock()

	m.logger.Info("connect request accepted by peer", "peer", from.ID)
	return nil
}

// Denied handles the remote's refusal of our outgoing request.
func (m *Manager) Denied(from string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outgoing[from]; !ok {
		return fmt.Errorf("no outgoing request to %s: %w", from, errs.ErrNotFound)
	}
	delete(m.outgoing, from)
	m.logger.Info("connect request denied by peer", "peer", from)
	return nil
}

// Disconnect removes id from the connected set.
func (m *Manager) Disconnect(id string) (Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.connected[id]
	if !ok {
		return Peer{}, fmt.Errorf("peer %s: %w", id, errs.ErrNotFound)
	}
	delete(m.connected, id)
	m.disconnected[id] = m.now()
	m.metrics.ConnectedPeers.Set(float64(len(m.connected)))
	m.logger.Info("peer disconnected", "peer", id)
	return *p, nil
}

// Connected returns a stable snapshot of connected peers, oldest first.
func (m *Manager) Connected() []Peer {
	m.mu.RLock()
	peers := make([]Peer, 0, len(m.connected))
	for _, p := range m.connected {
		peers = append(peers, *p)
	}
	m.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool {
		if peers[i].Since.Equal(peers[j].Since) {
			return peers[i].ID < peers[j].ID
		}
		return peers[i].Since.Before(peers[j].Since)
	})
	return peers
}

// IsConnected reports whether id is in the connected set.
func (m *Manager) IsConnected(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.connected[id]
	return ok
}

// Lookup returns the connected peer with the given id.
func (m *Manager) Lookup(id string) (Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.connected[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Status reports the local relationship with id.
func (m *Manager) Status(id string) registry.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.connected[id] != nil:
		return registry.StatusConnected
	case m.incoming[id] != nil:
		return registry.StatusPendingIncoming
	case !m.outgoing[id].IsZero():
		return registry.StatusPendingOutgoing
	case !m.disconnected[id].IsZero():
		return registry.StatusDisconnected
	default:
		return registry.StatusKnown
	}
}

// lookup finds a request by requester id or request id. An already
// resolved request reports ErrConflict.
func (m *Manager) lookup(key string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if req, ok := m.incoming[key]; ok {
		return req, nil
	}
	for _, req := range m.incoming {
		if req.ID == key {
			return req, nil
		}
	}
	for from, r := range m.resolved {
		if from == key || r.id == key {
			return nil, fmt.Errorf("request from %s already %s: %w", from, r.state, errs.ErrConflict)
		}
	}
	return nil, fmt.Errorf("no pending request %q: %w", key, errs.ErrNotFound)
}

// resolution remembers how a consumed request ended.
type resolution struct {
	id    string
	state State
}

func (m *Manager) consumeLocked(req *Request, state State) {
	if cur, ok := m.incoming[req.From]; ok && cur == req {
		delete(m.incoming, req.From)
	}
	m.resolved[req.From] = resolution{id: req.ID, state: state}
	m.metrics.PendingRequests.Set(float64(len(m.incoming)))
}

func (m *Manager) connectLocked(id, host string, port int) {
	m.connected[id] = &Peer{ID: id, Host: host, Port: port, Since: m.now()}
	delete(m.disconnected, id)
	m.metrics.ConnectedPeers.Set(float64(len(m.connected)))
}

func (m *Manager) countResolution(err error) {
	m.metrics.Resolutions.With("outcome", errs.Kind(err)).Add(1)
}
