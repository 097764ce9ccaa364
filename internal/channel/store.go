// Package channel stores named chat channels and their append-only history.
package channel

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/peder1981/p2p-chat/internal/errs"
)

const (
	// MaxNameLen is the longest accepted channel name, in characters.
	MaxNameLen = 100
	// MaxBodyLen is the longest accepted message body, in characters.
	MaxBodyLen = 4096
)

// Info describes a channel.
type Info struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one entry of a channel's history.
type Message struct {
	Sender    string    `json:"sender"`
	Body      string    `json:"msg"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is implemented by every channel backend.
//
// Create reports created=false when the same name already exists and
// ErrConflict when a different spelling with the same identity does.
// Post and History return ErrNotFound for unknown channels.
type Store interface {
	Create(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) (map[string]Info, error)
	Post(ctx context.Context, name, sender, body string) (Message, error)
	History(ctx context.Context, name string) ([]Message, error)
}

// normalizeName trims name and returns it with its identity key.
func normalizeName(name string) (display, key string, err error) {
	display = strings.TrimSpace(name)
	if display == "" {
		return "", "", fmt.Errorf("channel name is empty: %w", errs.ErrInvalid)
	}
	if utf8.RuneCountInString(display) > MaxNameLen {
		return "", "", fmt.Errorf("channel name longer than %d characters: %w", MaxNameLen, errs.ErrInvalid)
	}
	return display, strings.ToLower(display), nil
}

func newMessage(sender, body string) (Message, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return Message{}, fmt.Errorf("sender is empty: %w", errs.ErrInvalid)
	}
	if strings.TrimSpace(body) == "" {
		return Message{}, fmt.Errorf("message is empty: %w", errs.ErrInvalid)
	}
	if utf8.RuneCountInString(body) > MaxBodyLen {
		return Message{}, fmt.Errorf("message longer than %d characters: %w", MaxBodyLen, errs.ErrInvalid)
	}
	return Message{Sender: sender, Body: body, Timestamp: nowUTC()}, nil
}

func existing(stored, requested string) (bool, error) {
	if stored != requested {
		return false, fmt.Errorf("channel %q collides with existing %q: %w", requested, stored, errs.ErrConflict)
	}
	return false, nil
}

func notFound(name string) error {
	return fmt.Errorf("channel %q: %w", name, errs.ErrNotFound)
}

func nowUTC() time.Time { return time.Now().UTC() }
