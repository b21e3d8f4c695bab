package main

import (
	"bytes"
	"image/png"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// indexPage is the debug UI: the latest frame plus the five logical
// buttons, so the dashboard can be driven without physical keys.
const indexPage = `<!DOCTYPE html>
<html>
<head>
<title>epdash</title>
<style>
body { font-family: sans-serif; background: #e8e8e8; text-align: center; }
img { border: 1px solid #888; background: #fff; max-width: 95%; }
button { font-size: 1.1em; margin: 4px; padding: 6px 16px; }
</style>
</head>
<body>
<h1>epdash</h1>
<img id="frame" src="/frame">
<div>
<button onclick="press('prev')">&laquo; prev</button>
<button onclick="press('back')">back</button>
<button onclick="press('action')">action</button>
<button onclick="press('refresh')">refresh</button>
<button onclick="press('next')">next &raquo;</button>
</div>
<script>
function press(b) {
  fetch('/button', {method: 'POST', headers: {'Content-Type': 'application/json'}, body: JSON.stringify({button: b})})
    .then(() => setTimeout(reload, 1500));
}
function reload() { document.getElementById('frame').src = '/frame?' + Date.now(); }
setInterval(reload, 10000);
</script>
</body>
</html>
`

// httpServer exposes the running dashboard over HTTP: the last rendered
// frame as PNG, a status snapshot, and injected button presses.
type httpServer struct {
	renderer *Renderer
	manager  *Manager
	buttons  *Buttons
}

func (s *httpServer) serveIndex(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.SendString(indexPage)
}

func (s *httpServer) serveFrame(c *fiber.Ctx) error {
	frame := s.renderer.LastFrame()
	if frame == nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("No frame rendered yet")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Failed to encode frame")
	}

	c.Set("Content-Type", "image/png")
	c.Set("Content-Length", strconv.Itoa(buf.Len()))
	return c.Send(buf.Bytes())
}

func (s *httpServer) serveStatus(c *fiber.Ctx) error {
	return c.JSON(s.manager.Status())
}

func (s *httpServer) postButton(c *fiber.Ctx) error {
	var req struct {
		Button string `json:"button"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid JSON")
	}
	switch req.Button {
	case ButtonNext, ButtonPrev, ButtonBack, ButtonRefresh, ButtonAction:
	default:
		return c.Status(fiber.StatusBadRequest).SendString("Unknown button")
	}
	s.buttons.Inject(ButtonEvent{Button: req.Button})
	return c.SendString("Button queued")
}

// newHTTPApp wires the routes. Split from startHTTPServer so tests can
// exercise the handlers without binding a socket.
func newHTTPApp(renderer *Renderer, manager *Manager, buttons *Buttons) *fiber.App {
	s := &httpServer{renderer: renderer, manager: manager, buttons: buttons}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	// Routes
	app.Get("/", s.serveIndex)
	app.Get("/frame", s.serveFrame)
	app.Get("/status", s.serveStatus)
	app.Post("/button", s.postButton)

	return app
}

// startHTTPServer runs the debug server in the background. It is an
// auxiliary surface: a bind failure is logged, not fatal.
func startHTTPServer(addr string, renderer *Renderer, manager *Manager, buttons *Buttons) {
	app := newHTTPApp(renderer, manager, buttons)
	go func() {
		log.Printf("http: listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			log.Printf("http: server stopped: %v", err)
		}
	}()
}
