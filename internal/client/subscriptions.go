package client

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Subscription is one active SUBSCRIBE registration.
type Subscription struct {
	ID          int
	Destination string
	Ack         string
	CreatedAt   time.Time

	handler MessageHandler
}

type subscriptions struct {
	mu    sync.RWMutex
	items map[string]Subscription
}

func newSubscriptions() *subscriptions {
	return &subscriptions{items: make(map[string]Subscription)}
}

func (s *subscriptions) add(sub Subscription) {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[strconv.Itoa(sub.ID)] = sub
}

func (s *subscriptions) remove(id int) bool {
	key := strconv.Itoa(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	delete(s.items, key)
	return ok
}

// handler returns the handler registered for a subscription header value.
func (s *subscriptions) handler(subscription string) MessageHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[subscription].handler
}

func (s *subscriptions) list() []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscription, 0, len(s.items))
	for _, sub := range s.items {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *subscriptions) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.items)
}
