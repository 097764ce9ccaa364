package channel

import (
	"context"
	"sync"
)

type memChannel struct {
	info Info

	mu       sync.RWMutex
	messages []Message
}

// MemoryStore keeps channels in process memory. Appends to one channel
// take that channel's lock only.
type MemoryStore struct {
	mu       sync.RWMutex
	channels map[string]*memChannel
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{channels: make(map[string]*memChannel)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, name string) (bool, error) {
	display, key, err := normalizeName(name)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[key]; ok {
		return existing(ch.info.Name, display)
	}
	s.channels[key] = &memChannel{info: Info{Name: display, CreatedAt: nowUTC()}}
	return true, nil
}

// List implements Store.
func (s *MemoryStore) List(context.Context) (map[string]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Info, len(s.channels))
	for _, ch := range s.channels {
		out[ch.info.Name] = ch.info
	}
	return out, nil
}

// Post implements Store.
func (s *MemoryStore) Post(_ context.Context, name, sender, body string) (Message, error) {
	ch, err := s.lookup(name)
	if err != nil {
		return Message{}, err
	}
	msg, err := newMessage(sender, body)
	if err != nil {
		return Message{}, err
	}
	ch.mu.Lock()
	ch.messages = append(ch.messages, msg)
	ch.mu.Unlock()
	return msg, nil
}

// History implements Store.
func (s *MemoryStore) History(_ context.Context, name string) ([]Message, error) {
	ch, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	out := make([]Message, len(ch.messages))
	copy(out, ch.messages)
	return out, nil
}

func (s *MemoryStore) lookup(name string) (*memChannel, error) {
	display, key, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	ch, ok := s.channels[key]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(display)
	}
	return ch, nil
}
