package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, strings.Replace(url, "http://", "ws://", 1), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func waitForAttached(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ConnectionCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d attached clients, got %d", n, h.ConnectionCount())
}

func TestHubBroadcastReachesClient(t *testing.T) {
	h := testHub()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	c := dial(t, srv.URL)
	defer c.Close(websocket.StatusNormalClosure, "")
	waitForAttached(t, h, 1)

	h.BroadcastEvent(context.Background(), EventAgentMessage, map[string]any{"content": "hello"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != EventAgentMessage {
		t.Fatalf("expected %s, got %s", EventAgentMessage, msg.Type)
	}
	if !strings.Contains(string(msg.Payload), "hello") {
		t.Fatalf("payload lost in transit: %s", msg.Payload)
	}
}

func TestHubDetachesClosedClient(t *testing.T) {
	h := testHub()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	c := dial(t, srv.URL)
	waitForAttached(t, h, 1)

	_ = c.Close(websocket.StatusNormalClosure, "")
	waitForAttached(t, h, 0)
}

func TestHubBroadcastWithoutClients(t *testing.T) {
	h := testHub()
	// Must not block or panic with nobody attached.
	h.Broadcast(context.Background(), Message{Type: EventRunStatus, Payload: json.RawMessage(`{}`)})
	if h.ConnectionCount() != 0 {
		t.Fatalf("expected no connections, got %d", h.ConnectionCount())
	}
}
