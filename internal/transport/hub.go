package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/peder1981/p2p-chat/internal/errs"
)

// Hub is an in-process network: nodes attach a handler under their address
// and packets sent to that address are handed to it synchronously.
type Hub struct {
	mu       sync.RWMutex
	handlers map[string]func(Packet)
}

// NewHub returns an empty in-process network.
func NewHub() *Hub {
	return &Hub{handlers: make(map[string]func(Packet))}
}

// Attach routes packets for addr to handle.
func (h *Hub) Attach(addr string, handle func(Packet)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[addr] = handle
}

// Detach makes addr unreachable.
func (h *Hub) Detach(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, addr)
}

// Send implements Sender.
func (h *Hub) Send(ctx context.Context, addr string, pkt Packet) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send %s to %s: %v: %w", pkt.Action, addr, err, errs.ErrUnavailable)
	}
	h.mu.RLock()
	handle, ok := h.handlers[addr]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send %s to %s: no route: %w", pkt.Action, addr, errs.ErrUnavailable)
	}
	if pkt.Timestamp.IsZero() {
		pkt.Timestamp = time.Now().UTC()
	}
	pkt.Remote = pkt.From
	handle(pkt)
	return nil
}
