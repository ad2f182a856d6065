package bridge_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/sentrycore/internal/bridge"
)

func TestSubscriberReceivesBacklogThenLiveEvents(t *testing.T) {
	b := bridge.New(8)
	b.Publish(bridge.Event{Type: "chat.user", Payload: map[string]any{"text": "hello"}})

	srv := httptest.NewServer(b)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first bridge.Event
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read backlog event: %v", err)
	}
	if first.Type != "chat.user" {
		t.Fatalf("first event type = %q, want chat.user", first.Type)
	}

	b.Publish(bridge.Event{Type: "voice.progress", SessionID: "s1", Payload: map[string]any{"stage": "listening"}})

	var second bridge.Event
	if err := wsjson.Read(ctx, conn, &second); err != nil {
		t.Fatalf("read live event: %v", err)
	}
	if second.Type != "voice.progress" || second.SessionID != "s1" {
		t.Fatalf("unexpected live event: %+v", second)
	}
}

func TestBacklogIsBoundedToConfiguredSize(t *testing.T) {
	b := bridge.New(2)
	b.Publish(bridge.Event{Type: "a"})
	b.Publish(bridge.Event{Type: "b"})
	b.Publish(bridge.Event{Type: "c"})

	srv := httptest.NewServer(b)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var evts []bridge.Event
	for i := 0; i < 2; i++ {
		var evt bridge.Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			t.Fatalf("read backlog event %d: %v", i, err)
		}
		evts = append(evts, evt)
	}
	if evts[0].Type != "b" || evts[1].Type != "c" {
		t.Fatalf("expected backlog to keep only the last 2 events, got %+v", evts)
	}
}
