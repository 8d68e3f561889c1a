package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"autocompounder/core/events"
)

const (
	wsWriteTimeout      = 10 * time.Second
	defaultStreamBuffer = 64
)

// StreamMessage is the JSON frame pushed to stream subscribers.
type StreamMessage struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	At         time.Time         `json:"at"`
}

// Hub fans vault events out to websocket subscribers. It implements
// events.Emitter. Slow subscribers drop frames instead of blocking the vault.
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan StreamMessage]struct{}
	buffer      int
	clock       func() time.Time
	logger      *slog.Logger
}

var _ events.Emitter = (*Hub)(nil)

// NewHub constructs a hub whose subscribers buffer up to buffer frames.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[chan StreamMessage]struct{}),
		buffer:      buffer,
		clock:       time.Now,
		logger:      logger,
	}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	msg := StreamMessage{Type: payload.Type, Attributes: payload.Attributes, At: h.clock().UTC()}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			h.logger.Warn("vaultd: stream subscriber lagging, dropping event", "type", msg.Type)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// to release it.
func (h *Hub) Subscribe() (<-chan StreamMessage, func()) {
	ch := make(chan StreamMessage, h.buffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stream == nil {
		writeJSONError(w, http.StatusNotImplemented, "event stream not configured")
		return
	}
	filter := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	// Reads are never expected; CloseRead surfaces client disconnects.
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, s.cfg.Stream, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, hub *Hub, filter string) error {
	updates, cancel := hub.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-updates:
			if !ok {
				return nil
			}
			if filter != "" && msg.Type != filter {
				continue
			}
			if err := writeStreamMessage(ctx, conn, msg); err != nil {
				return err
			}
		}
	}
}

func writeStreamMessage(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
