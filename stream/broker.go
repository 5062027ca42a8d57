// Package stream pushes committed board events to connected clients over
// server-sent events. A connection starts with a full board snapshot, then
// receives each event in commit order.
package stream

import "sync"

// Broker fans board events out to connected clients. Each subscriber owns a
// buffered channel; a client that cannot keep up loses events instead of
// blocking the others, and recovers by reconnecting for a fresh snapshot.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan []byte]struct{})}
}

func (b *Broker) Subscribe(boardID string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	m := b.subs[boardID]
	if m == nil {
		m = make(map[chan []byte]struct{})
		b.subs[boardID] = m
	}
	m[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(boardID string, ch chan []byte) {
	b.mu.Lock()
	if m := b.subs[boardID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, boardID)
		}
	}
	b.mu.Unlock()
}

func (b *Broker) Broadcast(boardID string, data []byte) {
	b.mu.Lock()
	for ch := range b.subs[boardID] {
		select {
		case ch <- data:
		default:
		}
	}
	b.mu.Unlock()
}
