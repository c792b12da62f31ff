// Package sse streams sync status events to HTTP clients as server-sent events.
package sse

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/notify"
)

// Hub fans events out to every connected client
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan message
	stopped    chan struct{}
	stopOnce   sync.Once
}

type message struct {
	eventType model.EventType
	payload   []byte
}

// NewHub creates a Hub. Nothing is delivered until Serve runs.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		logger:     logger.With(slog.String("component", "sse")),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 256),
		stopped:    make(chan struct{}),
	}
}

// Ensure Hub implements notify.Sink
var _ notify.Sink = (*Hub)(nil)

// String names the hub for the supervisor
func (h *Hub) String() string { return "sse-hub" }

// Serve runs the hub's event loop until ctx ends, then disconnects every
// client. A stopped hub cannot be served again.
func (h *Hub) Serve(ctx context.Context) error {
	h.logger.Info("sse hub started")
	defer h.stopOnce.Do(func() { close(h.stopped) })
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("sse client registered",
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", clientCount))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				clientCount := len(h.clients)
				h.mu.Unlock()
				h.logger.Info("sse client unregistered",
					slog.String("remote_addr", client.remoteAddr),
					slog.Duration("connection_duration", time.Since(client.connectedAt)),
					slog.Int("total_clients", clientCount))
			} else {
				h.mu.Unlock()
			}

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-ctx.Done():
			h.mu.Lock()
			clientCount := len(h.clients)
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("sse hub stopped", slog.Int("disconnected_clients", clientCount))
			return ctx.Err()
		}
	}
}

func (h *Hub) deliver(msg message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	dropped := 0
	for client := range h.clients {
		if !client.wants(msg.eventType) {
			continue
		}
		select {
		case client.send <- msg.payload:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("sse messages dropped - client buffers full",
			slog.String("event", string(msg.eventType)),
			slog.Int("dropped", dropped))
	}
}

// Register adds a client, giving up when ctx ends or the hub has stopped
func (h *Hub) Register(ctx context.Context, client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-ctx.Done():
		return false
	case <-h.stopped:
		return false
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

// Notify broadcasts event as JSON under its type as the SSE event name
func (h *Hub) Notify(event model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to marshal event", slog.Any("error", err))
		return
	}
	msg := message{eventType: event.Type, payload: formatSSEMessage(string(event.Type), string(data))}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("sse broadcast dropped - hub buffer full")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// formatSSEMessage formats an SSE message with event name and data.
// Each line of data gets its own "data: " prefix.
func formatSSEMessage(eventName, data string) []byte {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(eventName)
	b.WriteString("\n")
	for _, line := range splitLines(data) {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return []byte(b.String())
}

// splitLines splits on LF, dropping CRs and a trailing empty line
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
