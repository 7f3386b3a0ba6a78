package notify

import (
	"sync"
	"time"

	"Mansoor88-6/escort-alerts/internal/models"

	"go.uber.org/zap"
)

// Kind of presentation notification
type Kind string

const (
	KindEmitted           Kind = "emitted"
	KindNotice            Kind = "notice"
	KindReceived          Kind = "received"
	KindHighlight         Kind = "highlight"
	KindFlushed           Kind = "flushed"
	KindAlarmArmed        Kind = "alarm_armed"
	KindAlarmSilenced     Kind = "alarm_silenced"
	KindAlarmAcknowledged Kind = "panic_acknowledged"
	KindVoiceUnavailable  Kind = "voice_unavailable"
	KindCheckinOpen       Kind = "checkin_open"
	KindCheckinText       Kind = "checkin_text"
	KindCheckinClosed     Kind = "checkin_closed"
)

// Notification is what the core tells presentation adapters (tray, SSE page, log)
type Notification struct {
	Kind    Kind               `json:"kind"`
	Status  string             `json:"status,omitempty"`
	Message string             `json:"message,omitempty"`
	Event   *models.AlarmEvent `json:"event,omitempty"`
	Data    map[string]any     `json:"data,omitempty"`
	At      time.Time          `json:"at"`
}

// Hub fans notifications out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the notification.
type Hub struct {
	subscribers map[int]chan Notification
	nextID      int
	logger      *zap.Logger
	mu          sync.Mutex
	closed      bool
}

// NewHub creates a new hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[int]chan Notification),
		logger:      logger,
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Notification, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(sub)
			}
		})
	}
}

// Publish delivers n to every subscriber
func (h *Hub) Publish(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- n:
		default:
			h.logger.Warn("Subscriber too slow, notification dropped",
				zap.Int("subscriber", id),
				zap.String("kind", string(n.Kind)),
			)
		}
	}
}

// Close closes every subscriber channel
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
	h.logger.Info("Notification hub closed")
}

// SubscriberCount returns the number of live subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
