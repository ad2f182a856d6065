// Package bridge implements the event-driven channel from the core to the
// GUI shell (spec §9 "event-driven UI bridges"): the core never blocks on a
// UI thread, and a shell that subscribes late still receives a bounded
// backlog instead of missing everything that happened before it connected.
package bridge

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	defaultBacklogSize    = 64
	defaultSubscriberQueue = 32
	writeTimeout          = 5 * time.Second
)

// Event is one message pushed to subscribed shells. Type is a dotted
// namespace ("voice.progress", "chat.user", "chat.agent",
// "settings.changed"); Payload is whatever shape that type implies.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

// Bridge fans Events out to every currently-subscribed websocket
// connection, keeping a bounded backlog so a connection made after an
// event fired still observes it.
type Bridge struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	backlog     []Event
	backlogSize int
}

type subscriber struct {
	queue chan Event
}

// New constructs a Bridge with the given backlog size; <=0 uses a sane
// default.
func New(backlogSize int) *Bridge {
	if backlogSize <= 0 {
		backlogSize = defaultBacklogSize
	}
	return &Bridge{
		subscribers: make(map[*subscriber]struct{}),
		backlogSize: backlogSize,
	}
}

// Publish fans evt out to every subscriber without blocking the caller. A
// subscriber whose queue is full has the event dropped for it; Publish
// itself never blocks on a slow reader.
func (b *Bridge) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.Lock()
	b.backlog = append(b.backlog, evt)
	if len(b.backlog) > b.backlogSize {
		b.backlog = b.backlog[len(b.backlog)-b.backlogSize:]
	}
	subs := make([]*subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.queue <- evt:
		default:
			slog.Warn("bridge: subscriber queue full, dropping event", "type", evt.Type)
		}
	}
}

// subscribe registers a new subscriber and returns it along with the
// backlog it should drain before live events.
func (b *Bridge) subscribe() (*subscriber, []Event) {
	s := &subscriber{queue: make(chan Event, defaultSubscriberQueue)}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[s] = struct{}{}
	backlog := make([]Event, len(b.backlog))
	copy(backlog, b.backlog)
	return s, backlog
}

func (b *Bridge) unsubscribe(s *subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
}

// ServeHTTP upgrades a loopback HTTP request to a websocket and streams
// Events to it: the backlog first, then live Publish calls, until the
// client disconnects or the request context ends.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(w, "bridge: refusing non-loopback subscriber", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		slog.Warn("bridge: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	sub, backlog := b.subscribe()
	defer b.unsubscribe(sub)

	ctx := r.Context()
	for _, evt := range backlog {
		if err := writeEvent(ctx, conn, evt); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case evt := <-sub.queue:
			if err := writeEvent(ctx, conn, evt); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt Event) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, evt)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return host == "localhost"
}
