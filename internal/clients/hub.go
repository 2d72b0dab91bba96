// Package clients tracks connected application windows. Each window holds a
// server-sent event stream; the hub posts messages to it, asks it to take
// focus, and broadcasts status announcements.
package clients

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/nitesh/story_service/internal/worker"
)

// Event names sent on a client stream.
const (
	EventMessage  = "message"
	EventFocus    = "focus"
	EventAnnounce = "announce"
	EventSync     = "sync"
)

var ErrClientGone = errors.New("client disconnected")

// Event is one server-sent event.
type Event struct {
	Name string
	Data any
}

// Announcement levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Announcement is the payload of an announce event.
type Announcement struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Client is one registered window.
type Client struct {
	id     string
	url    string
	events chan Event

	mu     sync.Mutex
	closed bool
}

func (c *Client) ID() string           { return c.id }
func (c *Client) URL() string          { return c.url }
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) PostMessage(msg any) error {
	return c.send(Event{Name: EventMessage, Data: msg})
}

func (c *Client) Focus() error {
	return c.send(Event{Name: EventFocus, Data: map[string]string{"id": c.id}})
}

// send never blocks; a client that cannot keep up loses the event.
func (c *Client) send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientGone
	}
	select {
	case c.events <- ev:
		return nil
	default:
		return fmt.Errorf("client %s: event buffer full", c.id)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

// Hub implements worker.Clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	order   []string
	opener  func(ctx context.Context, url string) error
	logger  func(format string, v ...any)
}

func NewHub() *Hub {
	return &Hub{
		clients: map[string]*Client{},
		opener:  openBrowser,
		logger:  log.Printf,
	}
}

// SetOpener replaces how new windows are opened.
func (h *Hub) SetOpener(fn func(ctx context.Context, url string) error) {
	if fn != nil {
		h.opener = fn
	}
}

func (h *Hub) SetLogger(l func(format string, v ...any)) {
	if l != nil {
		h.logger = l
	}
}

// Register adds a window currently showing url.
func (h *Hub) Register(url string) *Client {
	c := &Client{id: uuid.NewString(), url: url, events: make(chan Event, 16)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.order = append(h.order, c.id)
	h.mu.Unlock()
	return c
}

func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		for i, v := range h.order {
			if v == id {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MatchAll returns open windows in registration order.
func (h *Hub) MatchAll(ctx context.Context) []worker.WindowClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]worker.WindowClient, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.clients[id])
	}
	return out
}

func (h *Hub) OpenWindow(ctx context.Context, url string) error {
	return h.opener(ctx, url)
}

// Broadcast sends an event to every window and returns how many received it.
func (h *Hub) Broadcast(name string, data any) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.order))
	for _, id := range h.order {
		targets = append(targets, h.clients[id])
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if err := c.send(Event{Name: name, Data: data}); err != nil {
			h.logger("broadcast %s to %s: %v", name, c.id, err)
			continue
		}
		n++
	}
	return n
}

// Announce shows a status message in every window.
func (h *Hub) Announce(level, message string) {
	h.logger("announce [%s]: %s", level, message)
	h.Broadcast(EventAnnounce, Announcement{Level: level, Message: message})
}

func openBrowser(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	go cmd.Wait()
	return nil
}
