// Package events fans bridge activity out to live subscribers (SSE clients,
// the terminal view) and keeps a short replay buffer for late joiners.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/tether/internal/bridge"
)

// Event types published by the hub.
const (
	TypeRequestCompleted = "request.completed"
	TypeHealthChanged    = "health.changed"
)

// DefaultCapacity is the replay buffer size used when NewHub gets <= 0.
const DefaultCapacity = 100

const subscriberBuffer = 64

// Event is one published message. Data is the JSON-encoded payload.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub with a ring buffer for replay.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

// NewHub returns a hub that replays up to capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// RequestCompleted publishes a request outcome.
func (h *Hub) RequestCompleted(o bridge.Outcome) {
	h.Publish(TypeRequestCompleted, o)
}

// HealthChanged publishes a health transition.
func (h *Hub) HealthChanged(health bridge.Health) {
	h.Publish(TypeHealthChanged, health)
}

// Publish records an event and delivers it to every subscriber that has
// room. Slow subscribers miss events rather than block the bridge.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// IDs are assigned under the lock so the ring stays ordered.
	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.push(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Subscribe returns a channel of new events and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Since returns buffered events with ID > lastID, oldest first. lastID 0
// returns the whole buffer.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) push(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
