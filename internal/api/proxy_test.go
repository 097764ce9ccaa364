package api

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/peder1981/p2p-chat/internal/channel"
	"github.com/peder1981/p2p-chat/internal/config"
	"github.com/peder1981/p2p-chat/internal/registry"
)

// serve runs app on a loopback listener and returns its address.
func serve(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	t.Cleanup(func() { _ = app.Shutdown() })
	return ln.Addr().String()
}

func named(name string) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/who", func(c *fiber.Ctx) error { return c.SendString(name) })
	return app
}

func viaProxy(t *testing.T, app *fiber.App, host, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Host = host
	resp, err := app.Test(req, 3000)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestProxyRoutesByHost(t *testing.T) {
	tracker := serve(t, NewTrackerApp(registry.New(0), Options{}))
	channels := serve(t, NewChannelApp(channel.NewMemoryStore(), Options{}))

	app := NewProxyApp(config.ProxyConfig{
		Hosts: map[string][]string{
			"tracker.local":  {tracker},
			"channels.local": {channels},
		},
	}, Options{})

	code, body := viaProxy(t, app, "tracker.local", "/get-list")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `[]`, body)

	// the port in the Host header is ignored when only the name is listed
	code, body = viaProxy(t, app, "Channels.local:8090", "/channels")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, `"status":"ok"`)

	code, body = viaProxy(t, app, "other.local", "/channels")
	require.Equal(t, http.StatusNotFound, code)
	require.Contains(t, body, "not-found")
}

func TestProxyRotatesBackends(t *testing.T) {
	one := serve(t, named("one"))
	two := serve(t, named("two"))
	app := NewProxyApp(config.ProxyConfig{
		Hosts: map[string][]string{"app.local": {one, two}},
	}, Options{})

	var got []string
	for i := 0; i < 4; i++ {
		code, body := viaProxy(t, app, "app.local", "/who")
		require.Equal(t, http.StatusOK, code)
		got = append(got, body)
	}
	require.Equal(t, []string{"one", "two", "one", "two"}, got)
}

func TestProxyDefaultAndUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := ln.Addr().String()
	require.NoError(t, ln.Close())

	fallback := serve(t, named("fallback"))
	app := NewProxyApp(config.ProxyConfig{
		Hosts:     map[string][]string{"dead.local": {dead}},
		Default:   []string{fallback},
		TimeoutMs: 500,
	}, Options{})

	code, body := viaProxy(t, app, "anything.example", "/who")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "fallback", body)

	code, body = viaProxy(t, app, "dead.local", "/who")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Contains(t, body, "unavailable")
}
