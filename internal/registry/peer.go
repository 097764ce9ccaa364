// Package registry tracks the peers advertised to the network: the tracker
// side store and the HTTP client peer nodes use to reach it.
package registry

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/peder1981/p2p-chat/internal/errs"
)

// Status is a peer's relationship with the local node.
type Status string

const (
	StatusKnown           Status = "known"
	StatusPendingOutgoing Status = "pending-outgoing"
	StatusPendingIncoming Status = "pending-incoming"
	StatusConnected       Status = "connected"
	StatusDisconnected    Status = "disconnected"
)

// Peer is a network participant identified by its address.
type Peer struct {
	ID       string    `json:"id"`
	IP       string    `json:"ip"`
	Port     int       `json:"port"`
	Status   Status    `json:"status,omitempty"`
	LastSeen time.Time `json:"-"`
}

// PeerID returns the canonical host:port identity.
func PeerID(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}

// NewPeer validates the address and fills in the ID.
func NewPeer(ip string, port int) (Peer, error) {
	if ip == "" {
		return Peer{}, fmt.Errorf("peer ip is empty: %w", errs.ErrInvalid)
	}
	if port <= 0 || port > 65535 {
		return Peer{}, fmt.Errorf("peer port %d: %w", port, errs.ErrInvalid)
	}
	return Peer{ID: PeerID(ip, port), IP: ip, Port: port}, nil
}

// ParseID splits a host:port identity.
func ParseID(id string) (Peer, error) {
	host, portStr, err := net.SplitHostPort(id)
	if err != nil {
		return Peer{}, fmt.Errorf("peer id %q: %w", id, errs.ErrInvalid)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Peer{}, fmt.Errorf("peer id %q: %w", id, errs.ErrInvalid)
	}
	return NewPeer(host, port)
}
