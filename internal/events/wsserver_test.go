package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHandlerStreamsPublishedEvents(t *testing.T) {
	bus := New()
	srv := httptest.NewServer(Handler(bus, nil))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine a moment to register its subscription
	// before we publish, since Subscribe happens after the handshake.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if bus.SubscriberCount() == 0 {
		t.Fatal("handler never subscribed to the bus")
	}

	bus.Publish(Event{Source: SourceAgent, Kind: KindThinking, Data: map[string]any{"turn": float64(1)}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Kind != KindThinking {
		t.Errorf("Kind = %q, want %q", got.Kind, KindThinking)
	}
}
