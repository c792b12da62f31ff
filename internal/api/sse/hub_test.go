package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/testutil"
)

func TestFormatSSEMessage(t *testing.T) {
	tests := []struct {
		name      string
		eventName string
		data      string
		expected  string
	}{
		{"single line data", "synced", `{"type":"synced"}`, "event: synced\ndata: {\"type\":\"synced\"}\n\n"},
		{"multi-line data", "queued", "a\nb", "event: queued\ndata: a\ndata: b\n\n"},
		{"empty data", "ping", "", "event: ping\ndata: \n\n"},
		{"carriage returns", "test", "line1\r\nline2\r\n", "event: test\ndata: line1\ndata: line2\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(formatSSEMessage(tt.eventName, tt.data)))
		})
	}
}

func TestParseTypes(t *testing.T) {
	assert.Nil(t, ParseTypes(""))
	assert.Equal(t,
		[]model.EventType{model.EventQueued, model.EventSynced},
		ParseTypes(" queued, ,synced"))
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(testutil.NopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub, cancel
}

func receive(t *testing.T, c *Client) string {
	t.Helper()
	select {
	case msg := <-c.send:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("client did not receive message")
		return ""
	}
}

func TestHub_NotifyBroadcastsToAllClients(t *testing.T) {
	hub, _ := startHub(t)

	first := NewClient("a")
	second := NewClient("b")
	require.True(t, hub.Register(context.Background(), first))
	require.True(t, hub.Register(context.Background(), second))
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Notify(model.Event{Type: model.EventSynced, QueueDepth: 0})

	for _, c := range []*Client{first, second} {
		msg := receive(t, c)
		assert.True(t, strings.HasPrefix(msg, "event: synced\ndata: {"), msg)
		assert.Contains(t, msg, `"type":"synced"`)
	}
}

func TestHub_FilterByType(t *testing.T) {
	hub, _ := startHub(t)

	degradedOnly := NewClient("a", model.EventDegraded)
	require.True(t, hub.Register(context.Background(), degradedOnly))

	hub.Notify(model.Event{Type: model.EventQueued})
	hub.Notify(model.Event{Type: model.EventDegraded, Message: "remote down"})

	msg := receive(t, degradedOnly)
	assert.Contains(t, msg, "event: degraded")
	assert.Contains(t, msg, "remote down")
}

func TestHub_Unregister(t *testing.T) {
	hub, _ := startHub(t)

	client := NewClient("a")
	require.True(t, hub.Register(context.Background(), client))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Unregister(client)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	_, open := <-client.send
	assert.False(t, open)
}

func TestHub_StopDisconnectsClients(t *testing.T) {
	hub, cancel := startHub(t)

	client := NewClient("a")
	require.True(t, hub.Register(context.Background(), client))
	cancel()

	select {
	case _, open := <-client.send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("client channel not closed")
	}

	assert.False(t, hub.Register(context.Background(), NewClient("late")))
	hub.Unregister(client)
}

func TestServeSSE_StreamsEvents(t *testing.T) {
	hub, _ := startHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx)
	rr := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		ServeSSE(rr, req, hub)
		close(done)
	}()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	hub.Notify(model.Event{Type: model.EventQueued, EntityID: "p1", QueueDepth: 1})
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 && len(hub.broadcast) == 0 }, time.Second, 5*time.Millisecond)

	// give the stream a moment to write the event before hanging up
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rr.Header().Get("Cache-Control"))
	body := rr.Body.String()
	assert.Contains(t, body, "retry: 3000")
	assert.Contains(t, body, "event: connected")
	assert.Contains(t, body, "event: queued")
	assert.Contains(t, body, `"entity_id":"p1"`)
}
