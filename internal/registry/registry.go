package registry

import (
	"context"
	"sync"
	"time"

	"github.com/peder1981/p2p-chat/internal/logging"
	"github.com/peder1981/p2p-chat/internal/metrics"
)

// Registry is the tracker's view of online peers.
type Registry struct {
	mu    sync.RWMutex
	order []string
	peers map[string]*Peer
	info  map[string]map[string]interface{}

	ttl     time.Duration
	now     func() time.Time
	logger  logging.Logger
	metrics *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates an empty registry. A ttl of zero disables expiry.
func New(ttl time.Duration, opts ...Option) *Registry {
	r := &Registry{
		peers:   make(map[string]*Peer),
		info:    make(map[string]map[string]interface{}),
		ttl:     ttl,
		now:     time.Now,
		logger:  logging.NewNopLogger(),
		metrics: metrics.NopMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register upserts p by ID and refreshes its last-seen time.
// It reports whether the peer was new.
func (r *Registry) Register(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.peers[p.ID]; ok {
		existing.LastSeen = r.now()
		return false
	}
	p.Status = ""
	p.LastSeen = r.now()
	r.peers[p.ID] = &p
	r.order = append(r.order, p.ID)
	r.metrics.RegisteredPeers.Set(float64(len(r.peers)))
	r.logger.Info("peer registered", "peer", p.ID)
	return true
}

// Remove drops a peer. It reports whether the peer was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.removeLocked(id) {
		return false
	}
	r.logger.Info("peer removed", "peer", id)
	return true
}

func (r *Registry) removeLocked(id string) bool {
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.metrics.RegisteredPeers.Set(float64(len(r.peers)))
	return true
}

// List returns registered peers in registration order, leaving out exclude.
func (r *Registry) List(exclude string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]Peer, 0, len(r.order))
	for _, id := range r.order {
		if id == exclude {
			continue
		}
		peers = append(peers, *r.peers[id])
	}
	return peers
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Expire removes peers not refreshed within the TTL and returns their IDs.
func (r *Registry) Expire() []string {
	if r.ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	var expired []string
	for _, id := range append([]string(nil), r.order...) {
		if r.peers[id].LastSeen.Before(cutoff) {
			r.removeLocked(id)
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		r.metrics.ExpiredPeers.Add(float64(len(expired)))
		r.logger.Info("expired peers", "peers", expired)
	}
	return expired
}

// Run expires stale registrations until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Expire()
		}
	}
}

// SubmitInfo stores free-form info published by a peer under key.
func (r *Registry) SubmitInfo(key string, info map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info[key] = info
}

// Info returns the info stored under key, or an empty map.
func (r *Registry) Info(key string) map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.info[key]; ok {
		return info
	}
	return map[string]interface{}{}
}

// AllInfo returns a copy of every stored info entry.
func (r *Registry) AllInfo() map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string]interface{}, len(r.info))
	for k, v := range r.info {
		out[k] = v
	}
	return out
}
