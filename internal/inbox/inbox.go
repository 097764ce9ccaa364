// Package inbox is a node's retrievable message log.
package inbox

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message types.
const (
	TypeNormal    = "normal"
	TypeBroadcast = "broadcast"
)

// Message is an entry in the log. It is never modified after Append.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Body      string    `json:"message"`
	Type      string    `json:"type"`
	Origin    string    `json:"origin,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewDirect builds a normal point-to-point message.
func NewDirect(from, to, body string) Message {
	return Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Body:      body,
		Type:      TypeNormal,
		Timestamp: time.Now().UTC(),
	}
}

// NewBroadcast builds a broadcast message originated by origin.
func NewBroadcast(origin, body string) Message {
	return Message{
		ID:        uuid.NewString(),
		From:      origin,
		Body:      body,
		Type:      TypeBroadcast,
		Origin:    origin,
		Timestamp: time.Now().UTC(),
	}
}

// Inbox keeps messages in append order, dropping the oldest beyond capacity.
type Inbox struct {
	mu       sync.RWMutex
	messages []Message
	capacity int
}

// New returns an empty inbox. capacity <= 0 means unbounded.
func New(capacity int) *Inbox {
	return &Inbox{capacity: capacity}
}

// Append adds msg at the end of the log.
func (in *Inbox) Append(msg Message) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.messages = append(in.messages, msg)
	if in.capacity > 0 && len(in.messages) > in.capacity {
		drop := len(in.messages) - in.capacity
		in.messages = append([]Message(nil), in.messages[drop:]...)
	}
}

// List returns a snapshot of the log.
func (in *Inbox) List() []Message {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]Message, len(in.messages))
	copy(out, in.messages)
	return out
}

// Len returns the number of stored messages.
func (in *Inbox) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.messages)
}
