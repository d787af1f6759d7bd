package events

import (
	"context"
	"sync"
)

const subscriberBuffer = 8

// Hub delivers events in-process to subscribers of a single order number.
// Slow subscribers miss events instead of blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel of events for orderNumber and a cancel func
// that must be called once the subscriber is done.
func (h *Hub) Subscribe(orderNumber string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[orderNumber]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[orderNumber] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[orderNumber]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, orderNumber)
				}
			}
			close(ch)
		})
	}
}

func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.OrderNumber] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribers(orderNumber string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[orderNumber])
}
