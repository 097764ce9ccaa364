package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/peder1981/p2p-chat/internal/registry"
)

// AddressRequest names a peer by its address.
type AddressRequest struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// RegisterResponse is returned by /add-list.
type RegisterResponse struct {
	Status string          `json:"status"`
	Peers  []registry.Peer `json:"peers"`
}

type trackerHandlers struct {
	reg *registry.Registry
}

// NewTrackerApp serves the peer registry.
func NewTrackerApp(reg *registry.Registry, opts Options) *fiber.App {
	app := newApp("tracker", opts)
	h := &trackerHandlers{reg: reg}
	app.Post("/add-list", h.add)
	app.Get("/get-list", h.list)
	app.Post("/remove-list", h.remove)
	app.Post("/submit-info", h.submitInfo)
	app.Get("/get-info", h.getInfo)
	return app
}

// add handles POST /add-list. Registering again refreshes the entry.
func (h *trackerHandlers) add(c *fiber.Ctx) error {
	var req AddressRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	p, err := registry.NewPeer(req.IP, req.Port)
	if err != nil {
		return writeError(c, err)
	}
	status := "exists"
	if h.reg.Register(p) {
		status = "ok"
	}
	return c.JSON(RegisterResponse{Status: status, Peers: h.reg.List(p.ID)})
}

// list handles GET /get-list.
func (h *trackerHandlers) list(c *fiber.Ctx) error {
	return c.JSON(h.reg.List(""))
}

// remove handles POST /remove-list.
func (h *trackerHandlers) remove(c *fiber.Ctx) error {
	var req AddressRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	p, err := registry.NewPeer(req.IP, req.Port)
	if err != nil {
		return writeError(c, err)
	}
	if !h.reg.Remove(p.ID) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Status: "error", Error: "not-found", Message: "peer " + p.ID + " is not registered"})
	}
	return c.JSON(StatusResponse{Status: "ok"})
}

// submitInfo handles POST /submit-info. The body must carry a "name".
func (h *trackerHandlers) submitInfo(c *fiber.Ctx) error {
	var info map[string]interface{}
	if err := c.BodyParser(&info); err != nil {
		return badRequest(c, "invalid request body")
	}
	name, _ := info["name"].(string)
	if name == "" {
		return badRequest(c, "name is required")
	}
	h.reg.SubmitInfo(name, info)
	return c.JSON(StatusResponse{Status: "ok"})
}

// getInfo handles GET /get-info[?name=...].
func (h *trackerHandlers) getInfo(c *fiber.Ctx) error {
	if name := c.Query("name"); name != "" {
		return c.JSON(h.reg.Info(name))
	}
	return c.JSON(h.reg.AllInfo())
}
