package api

import (
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"

	"github.com/peder1981/p2p-chat/internal/config"
	"github.com/peder1981/p2p-chat/internal/errs"
	"github.com/peder1981/p2p-chat/internal/logging"
)

// upstream is the backend set of one virtual host.
type upstream struct {
	servers []string
	next    uint64
}

// pick rotates over the servers.
func (u *upstream) pick() string {
	n := atomic.AddUint64(&u.next, 1) - 1
	return u.servers[n%uint64(len(u.servers))]
}

type proxyHandlers struct {
	routes   map[string]*upstream
	fallback *upstream
	timeout  time.Duration
	logger   logging.Logger
}

// NewProxyApp forwards every request to a backend chosen by its Host
// header. /health and /metrics answer for the proxy itself.
func NewProxyApp(cfg config.ProxyConfig, opts Options) *fiber.App {
	app := newApp("proxy", opts)
	h := &proxyHandlers{
		routes:  make(map[string]*upstream, len(cfg.Hosts)),
		timeout: cfg.Timeout(),
		logger:  opts.logger().With("module", "proxy"),
	}
	for host, servers := range cfg.Hosts {
		if len(servers) > 0 {
			h.routes[strings.ToLower(host)] = &upstream{servers: servers}
		}
	}
	if len(cfg.Default) > 0 {
		h.fallback = &upstream{servers: cfg.Default}
	}
	app.Use(h.forward)
	return app
}

// route matches host exactly first, then without its port.
func (h *proxyHandlers) route(host string) *upstream {
	host = strings.ToLower(host)
	if u, ok := h.routes[host]; ok {
		return u
	}
	if name, _, err := net.SplitHostPort(host); err == nil {
		if u, ok := h.routes[name]; ok {
			return u
		}
	}
	return h.fallback
}

func (h *proxyHandlers) forward(c *fiber.Ctx) error {
	host := c.Hostname()
	u := h.route(host)
	if u == nil {
		return writeError(c, fmt.Errorf("no backend for host %q: %w", host, errs.ErrNotFound))
	}
	backend := u.pick()
	if err := proxy.DoTimeout(c, "http://"+backend+c.OriginalURL(), h.timeout); err != nil {
		h.logger.Error("backend request failed", "host", host, "backend", backend, "err", err)
		return writeError(c, fmt.Errorf("backend %s: %v: %w", backend, err, errs.ErrUnavailable))
	}
	return nil
}
