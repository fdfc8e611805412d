package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"hedgeline/core/events"
)

const (
	wsWriteTimeout = 10 * time.Second
	hubBuffer      = 64
)

type subscriber struct {
	prefix string
	ch     chan []byte
}

// Hub fans ledger events out to websocket clients. Slow clients drop
// events rather than stall the ledger.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	flat := events.Flatten(evt)
	if h == nil || flat == nil {
		return
	}
	data, err := json.Marshal(flat)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.prefix != "" && !strings.HasPrefix(flat.Type, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- data:
		default:
		}
	}
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) subscribe(prefix string) (*subscriber, func()) {
	sub := &subscriber{prefix: prefix, ch: make(chan []byte, hubBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub, func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
// The optional type query parameter filters by event type prefix.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, prefix); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, prefix string) error {
	sub, cancel := h.subscribe(prefix)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-sub.ch:
			if err := writeEvent(ctx, conn, data); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
