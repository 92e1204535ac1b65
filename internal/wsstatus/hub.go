// Package wsstatus pushes façade signal events to live dashboards over
// WebSocket: each subscriber attaches to one device and receives its
// connectionChanged, commandError, slowCommand and debug events as JSON
// frames.
package wsstatus

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one pushed signal event.
type Frame struct {
	Type      string `json:"type"`
	DeviceID  string `json:"device_id"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

type subscriber struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
}

func (s *subscriber) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Hub tracks the live subscribers per device and fans signal frames out
// to them.
type Hub struct {
	logger       *log.Logger
	pingInterval time.Duration

	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
	closed      bool
}

// NewHub creates an empty Hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		logger:       logger,
		pingInterval: 30 * time.Second,
		subscribers:  make(map[string]map[*subscriber]struct{}),
	}
}

// Attach registers a new WebSocket connection for deviceID and services
// it until the peer disconnects or the hub closes. It blocks; callers
// run it from the HTTP handler goroutine.
func (h *Hub) Attach(deviceID string, conn *websocket.Conn) {
	sub := &subscriber{conn: conn, done: make(chan struct{})}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	if h.subscribers[deviceID] == nil {
		h.subscribers[deviceID] = make(map[*subscriber]struct{})
	}
	h.subscribers[deviceID][sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Printf("WSSTATUS: subscriber attached for device %s", deviceID)

	go h.pingLoop(sub)
	h.readLoop(sub)

	h.detach(deviceID, sub)
}

func (h *Hub) detach(deviceID string, sub *subscriber) {
	h.mu.Lock()
	if subs, ok := h.subscribers[deviceID]; ok {
		if _, present := subs[sub]; present {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.subscribers, deviceID)
			}
		}
	}
	h.mu.Unlock()

	select {
	case <-sub.done:
	default:
		close(sub.done)
	}
	sub.conn.Close()
	h.logger.Printf("WSSTATUS: subscriber detached for device %s", deviceID)
}

func (h *Hub) pingLoop(sub *subscriber) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := sub.writeJSON(map[string]string{"type": "ping"}); err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}

// readLoop drains inbound messages so pong/control frames are processed
// and a peer disconnect is noticed promptly. Inbound payloads are
// otherwise ignored; the stream is push-only.
func (h *Hub) readLoop(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast pushes a frame to every subscriber of frame.DeviceID. A
// failed write detaches that subscriber; the rest are unaffected.
func (h *Hub) Broadcast(frame Frame) {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers[frame.DeviceID]))
	for sub := range h.subscribers[frame.DeviceID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.writeJSON(frame); err != nil {
			h.detach(frame.DeviceID, sub)
		}
	}
}

// SubscriberCount reports the live subscribers for deviceID.
func (h *Hub) SubscriberCount(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[deviceID])
}

// Close drops every subscriber and rejects future attaches.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := h.subscribers
	h.subscribers = make(map[string]map[*subscriber]struct{})
	h.mu.Unlock()

	for _, subs := range all {
		for sub := range subs {
			select {
			case <-sub.done:
			default:
				close(sub.done)
			}
			sub.conn.Close()
		}
	}
}
