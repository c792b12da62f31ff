package sse

import (
	"net/http"
	"strings"
	"time"

	"github.com/mcoot/sideline/internal/model"
)

const (
	// Time between keepalive comments
	pingPeriod = 30 * time.Second

	// Buffer size for outgoing messages
	sendBufferSize = 256

	// Reconnect delay advertised to clients, in milliseconds
	retryMillis = "3000"
)

// Client is one connected event stream
type Client struct {
	remoteAddr  string
	types       map[model.EventType]bool
	send        chan []byte
	connectedAt time.Time
}

// NewClient creates a client. An empty types list subscribes to everything.
func NewClient(remoteAddr string, types ...model.EventType) *Client {
	c := &Client{
		remoteAddr:  remoteAddr,
		send:        make(chan []byte, sendBufferSize),
		connectedAt: time.Now(),
	}
	if len(types) > 0 {
		c.types = make(map[model.EventType]bool, len(types))
		for _, t := range types {
			c.types[t] = true
		}
	}
	return c
}

func (c *Client) wants(t model.EventType) bool {
	return c.types == nil || c.types[t]
}

// ParseTypes reads a comma-separated "types" filter
func ParseTypes(raw string) []model.EventType {
	var out []model.EventType
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, model.EventType(part))
		}
	}
	return out
}

// ServeSSE streams hub events to w until the request ends or the hub stops
func ServeSSE(w http.ResponseWriter, r *http.Request, hub *Hub) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	client := NewClient(r.RemoteAddr, ParseTypes(r.URL.Query().Get("types"))...)
	if !hub.Register(ctx, client) {
		return
	}
	defer hub.Unregister(client)

	_, _ = w.Write([]byte("retry: " + retryMillis + "\n\n"))
	_, _ = w.Write([]byte("event: connected\ndata: {\"status\":\"connected\"}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-ctx.Done():
			return
		}
	}
}
