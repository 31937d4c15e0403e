package hub

import (
	"sync"

	"footprint/internal/metrics"

	"go.uber.org/zap"
)

// Subscriber receives broadcast messages. Send must not block; returning false
// tells the hub the subscriber is gone.
type Subscriber interface {
	ID() string
	Send(msg []byte) bool
	Close()
}

// Hub fans messages out to every registered subscriber.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	logger      *zap.Logger
}

func New(logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]Subscriber),
		logger:      logger.Named("hub"),
	}
}

func (h *Hub) Register(s Subscriber) {
	h.mu.Lock()
	h.subscribers[s.ID()] = s
	n := len(h.subscribers)
	h.mu.Unlock()

	metrics.Subscribers.Set(float64(n))
	h.logger.Info("subscriber registered", zap.String("id", s.ID()), zap.Int("subscribers", n))
}

// Unregister removes and closes the subscriber. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	s, ok := h.subscribers[id]
	delete(h.subscribers, id)
	n := len(h.subscribers)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.Close()
	metrics.Subscribers.Set(float64(n))
	h.logger.Info("subscriber unregistered", zap.String("id", id), zap.Int("subscribers", n))
}

// Publish delivers msg to every subscriber without blocking. Subscribers that
// fail to accept it are dropped.
func (h *Hub) Publish(msg []byte) {
	var failed []string

	h.mu.RLock()
	for id, s := range h.subscribers {
		if !s.Send(msg) {
			failed = append(failed, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range failed {
		metrics.SubscribersEvicted.Inc()
		h.logger.Warn("send failed, dropping subscriber", zap.String("id", id))
		h.Unregister(id)
	}
}

// SendTo delivers msg to a single subscriber.
func (h *Hub) SendTo(id string, msg []byte) bool {
	h.mu.RLock()
	s, ok := h.subscribers[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if !s.Send(msg) {
		h.Unregister(id)
		return false
	}
	return true
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// CloseAll unregisters every subscriber.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.subscribers))
	for id := range h.subscribers {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.Unregister(id)
	}
}
