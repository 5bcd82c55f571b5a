package web

import "sync"

// queueSize bounds the messages waiting for one slow subscriber.
const queueSize = 64

// Writer is one subscriber connection.
type Writer interface {
	Write(message []byte) error
	Close() error
}

// subscriber owns the send queue of one writer.  A pump goroutine
// drains it, so Broadcast never waits on the network.
type subscriber struct {
	w     Writer
	queue chan []byte
}

// Hub fans messages out to every registered writer.  Writers that fail
// or fall a full queue behind are closed and dropped.
type Hub struct {
	mu   sync.RWMutex
	subs map[Writer]*subscriber
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[Writer]*subscriber)}
}

// Register adds w and starts its pump.  Registering the same writer
// twice is a no-op.
func (h *Hub) Register(w Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[w]; ok {
		return
	}
	s := &subscriber{w: w, queue: make(chan []byte, queueSize)}
	h.subs[w] = s
	go h.pump(s)
}

// Unregister removes w.  Messages already queued are still written.
func (h *Hub) Unregister(w Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(w)
}

func (h *Hub) removeLocked(w Writer) bool {
	s, ok := h.subs[w]
	if !ok {
		return false
	}
	delete(h.subs, w)
	close(s.queue)
	return true
}

// Len returns the number of registered writers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast queues message for every writer without blocking.
func (h *Hub) Broadcast(message []byte) {
	var lagging []Writer

	h.mu.RLock()
	for w, s := range h.subs {
		select {
		case s.queue <- message:
		default:
			lagging = append(lagging, w)
		}
	}
	h.mu.RUnlock()

	for _, w := range lagging {
		h.drop(w)
	}
}

func (h *Hub) pump(s *subscriber) {
	for msg := range s.queue {
		if err := s.w.Write(msg); err != nil {
			h.drop(s.w)
			// Discard what was queued before the removal.
			for range s.queue {
			}
			return
		}
	}
}

// drop closes and removes w once, whoever notices the failure first.
func (h *Hub) drop(w Writer) {
	h.mu.Lock()
	removed := h.removeLocked(w)
	h.mu.Unlock()
	if removed {
		_ = w.Close()
	}
}
