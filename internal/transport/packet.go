// Package transport carries packets between peer nodes.
package transport

import (
	"context"
	"time"
)

// Packet actions exchanged between peer nodes.
const (
	ActionConnectRequest = "connect-request"
	ActionConnectAccept  = "connect-accept"
	ActionConnectDeny    = "connect-deny"
	ActionDisconnect     = "disconnect"
	ActionMessage        = "message"
	ActionBroadcast      = "broadcast"
)

// Packet is one newline-terminated JSON document sent from one node to another.
type Packet struct {
	Action    string    `json:"action"`
	ID        string    `json:"id,omitempty"`
	From      string    `json:"from"`
	Host      string    `json:"host,omitempty"`
	Port      int       `json:"port,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Remote is the socket address the packet arrived from.
	Remote string `json:"-"`
}

// Sender delivers a packet to the node listening on addr (host:port).
type Sender interface {
	Send(ctx context.Context, addr string, pkt Packet) error
}
