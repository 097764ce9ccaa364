package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/peder1981/p2p-chat/internal/errs"
)

// Client talks to a remote tracker over HTTP.
type Client struct {
	baseURL string
	timeout time.Duration
}

// NewClient returns a tracker client rooted at baseURL (e.g. http://127.0.0.1:8000).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), timeout: timeout}
}

type addressBody struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Register announces p to the tracker.
func (c *Client) Register(ctx context.Context, p Peer) error {
	a := fiber.Post(c.baseURL + "/add-list").JSON(addressBody{IP: p.IP, Port: p.Port})
	return c.do(ctx, "register", a, nil)
}

// Remove withdraws p from the tracker.
func (c *Client) Remove(ctx context.Context, p Peer) error {
	a := fiber.Post(c.baseURL + "/remove-list").JSON(addressBody{IP: p.IP, Port: p.Port})
	return c.do(ctx, "remove", a, nil)
}

// List fetches the tracker's peer list.
func (c *Client) List(ctx context.Context) ([]Peer, error) {
	var peers []Peer
	if err := c.do(ctx, "list", fiber.Get(c.baseURL+"/get-list"), &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

func (c *Client) do(ctx context.Context, op string, a *fiber.Agent, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("tracker %s: %w", op, errs.ErrUnavailable)
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	a.Timeout(timeout)

	var (
		code    int
		body    []byte
		errList []error
	)
	if out != nil {
		code, body, errList = a.Struct(out)
	} else {
		code, body, errList = a.Bytes()
	}
	if len(errList) > 0 {
		return fmt.Errorf("tracker %s: %v: %w", op, errList[0], errs.ErrUnavailable)
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("tracker %s: status %d: %s: %w", op, code, body, errs.ErrUnavailable)
	}
	return nil
}
