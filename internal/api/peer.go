package api

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/peder1981/p2p-chat/internal/connreq"
	"github.com/peder1981/p2p-chat/internal/errs"
	"github.com/peder1981/p2p-chat/internal/inbox"
	"github.com/peder1981/p2p-chat/internal/node"
	"github.com/peder1981/p2p-chat/internal/registry"
)

// PeerRequest addresses a peer by id or by ip and port.
type PeerRequest struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	Message string `json:"message"`
}

// target resolves the peer id named by the request.
func (r PeerRequest) target() (string, error) {
	switch {
	case r.ID != "":
		return r.ID, nil
	case r.From != "":
		return r.From, nil
	}
	p, err := registry.NewPeer(r.IP, r.Port)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

// WhoamiResponse is returned by /whoami.
type WhoamiResponse struct {
	ID   string `json:"id"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// ConnectedResponse is returned by /get-connected.
type ConnectedResponse struct {
	Status string         `json:"status"`
	Peers  []connreq.Peer `json:"peers"`
}

// SendResponse is returned by /send-peer.
type SendResponse struct {
	Status  string        `json:"status"`
	Message inbox.Message `json:"message"`
}

// BroadcastResponse is returned by /broadcast-peer.
type BroadcastResponse struct {
	Status    string `json:"status"`
	Delivered int    `json:"delivered"`
}

type peerHandlers struct {
	node *node.Node
}

// NewPeerApp serves the local node to its browser client.
func NewPeerApp(n *node.Node, opts Options) *fiber.App {
	app := newApp("peer", opts)
	h := &peerHandlers{node: n}
	app.Get("/whoami", h.whoami)
	app.Get("/get-list", h.list)
	app.Get("/get-pending", h.pending)
	app.Get("/get-connected", h.connected)
	app.Get("/get-messages", h.messages)
	app.Post("/connect-peer", h.connect)
	app.Post("/accept-request", h.accept)
	app.Post("/deny-request", h.deny)
	app.Post("/disconnect-peer", h.disconnect)
	app.Post("/send-peer", h.send)
	app.Post("/broadcast-peer", h.broadcast)
	return app
}

func (h *peerHandlers) whoami(c *fiber.Ctx) error {
	self := h.node.Self()
	return c.JSON(WhoamiResponse{ID: self.ID, IP: self.IP, Port: self.Port})
}

// list handles GET /get-list; a tracker outage is reported as tracker-offline.
func (h *peerHandlers) list(c *fiber.Ctx) error {
	peers, err := h.node.Peers(c.UserContext())
	if err != nil {
		if errors.Is(err, errs.ErrUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Status: "error", Error: "tracker-offline", Message: err.Error()})
		}
		return writeError(c, err)
	}
	if peers == nil {
		peers = []registry.Peer{}
	}
	return c.JSON(peers)
}

func (h *peerHandlers) pending(c *fiber.Ctx) error {
	return c.JSON(h.node.Pending())
}

func (h *peerHandlers) connected(c *fiber.Ctx) error {
	return c.JSON(ConnectedResponse{Status: "ok", Peers: h.node.Connected()})
}

func (h *peerHandlers) messages(c *fiber.Ctx) error {
	return c.JSON(h.node.Messages())
}

func (h *peerHandlers) connect(c *fiber.Ctx) error {
	var req PeerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.node.Connect(c.UserContext(), req.IP, req.Port); err != nil {
		return writeError(c, err)
	}
	return c.JSON(StatusResponse{Status: "sent"})
}

func (h *peerHandlers) accept(c *fiber.Ctx) error {
	var req PeerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	key, err := requestKey(req)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.node.Accept(c.UserContext(), key); err != nil {
		return writeError(c, err)
	}
	return c.JSON(StatusResponse{Status: "accepted"})
}

func (h *peerHandlers) deny(c *fiber.Ctx) error {
	var req PeerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	key, err := requestKey(req)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.node.Deny(c.UserContext(), key); err != nil {
		return writeError(c, err)
	}
	return c.JSON(StatusResponse{Status: "denied"})
}

func (h *peerHandlers) disconnect(c *fiber.Ctx) error {
	var req PeerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	id, err := req.target()
	if err != nil {
		return writeError(c, err)
	}
	if err := h.node.Disconnect(c.UserContext(), id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(StatusResponse{Status: "disconnected"})
}

func (h *peerHandlers) send(c *fiber.Ctx) error {
	var req PeerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	to, err := req.target()
	if err != nil {
		return writeError(c, err)
	}
	msg, err := h.node.Send(c.UserContext(), to, req.Message)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(SendResponse{Status: "sent", Message: msg})
}

func (h *peerHandlers) broadcast(c *fiber.Ctx) error {
	var req PeerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	n, err := h.node.Broadcast(c.UserContext(), req.Message)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(BroadcastResponse{Status: "broadcasted", Delivered: n})
}

// requestKey picks the requester id (or request id) out of an accept/deny
// body. The client posts back the pending request object.
func requestKey(req PeerRequest) (string, error) {
	if req.From != "" {
		return req.From, nil
	}
	if req.ID != "" {
		return req.ID, nil
	}
	if req.IP != "" {
		return registry.PeerID(req.IP, req.Port), nil
	}
	return "", fmt.Errorf("request sender is required: %w", errs.ErrInvalid)
}
