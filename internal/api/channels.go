package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/peder1981/p2p-chat/internal/channel"
)

// ChannelRequest is the body of channel commands.
type ChannelRequest struct {
	Name   string `json:"name"`
	Sender string `json:"sender"`
	Msg    string `json:"msg"`
}

// ChannelListResponse is returned by /channels.
type ChannelListResponse struct {
	Status   string                  `json:"status"`
	Channels map[string]channel.Info `json:"channels"`
}

// PostResponse is returned by /post-channel.
type PostResponse struct {
	Status  string          `json:"status"`
	Message channel.Message `json:"message"`
}

// HistoryResponse is returned by /channel-history.
type HistoryResponse struct {
	Status   string            `json:"status"`
	Messages []channel.Message `json:"messages"`
}

type channelHandlers struct {
	store channel.Store
}

// NewChannelApp serves the channel store.
func NewChannelApp(store channel.Store, opts Options) *fiber.App {
	app := newApp("channels", opts)
	h := &channelHandlers{store: store}
	app.Get("/channels", h.list)
	app.Post("/create-channel", h.create)
	app.Post("/post-channel", h.post)
	app.Post("/channel-history", h.history)
	app.Get("/channel-history", h.history)
	return app
}

func (h *channelHandlers) list(c *fiber.Ctx) error {
	all, err := h.store.List(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(ChannelListResponse{Status: "ok", Channels: all})
}

func (h *channelHandlers) create(c *fiber.Ctx) error {
	var req ChannelRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	created, err := h.store.Create(c.UserContext(), req.Name)
	if err != nil {
		return writeError(c, err)
	}
	if !created {
		return c.JSON(StatusResponse{Status: "exists"})
	}
	return c.Status(fiber.StatusCreated).JSON(StatusResponse{Status: "created"})
}

func (h *channelHandlers) post(c *fiber.Ctx) error {
	var req ChannelRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	msg, err := h.store.Post(c.UserContext(), req.Name, req.Sender, req.Msg)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(PostResponse{Status: "ok", Message: msg})
}

// history accepts the name in a JSON body or as ?name=.
func (h *channelHandlers) history(c *fiber.Ctx) error {
	name := c.Query("name")
	if name == "" && c.Method() == fiber.MethodPost {
		var req ChannelRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		name = req.Name
	}
	msgs, err := h.store.History(c.UserContext(), name)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(HistoryResponse{Status: "ok", Messages: msgs})
}
