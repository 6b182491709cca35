package notify

import (
	"context"
	"sync"
)

// Subscription receives notifications from a Hub.
type Subscription interface {
	C() <-chan Notification
	Close() error
}

// Hub fans notifications out to in-process subscribers. A subscriber whose
// buffer is full misses the notification; the sender never blocks.
type Hub struct {
	mu   sync.RWMutex
	subs map[*hubSub]struct{}
}

type hubSub struct {
	hub       *Hub
	ch        chan Notification
	closeOnce sync.Once
}

func (s *hubSub) C() <-chan Notification { return s.ch }

func (s *hubSub) Close() error {
	s.closeOnce.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.ch)
	})
	return nil
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*hubSub]struct{})}
}

// Subscribe returns a subscription with the given channel buffer.
func (h *Hub) Subscribe(buffer int) Subscription {
	s := &hubSub{hub: h, ch: make(chan Notification, buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Notify implements Notifier.
func (h *Hub) Notify(_ context.Context, n Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.ch <- n:
		default: /* drop if slow */
		}
	}
	return nil
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
