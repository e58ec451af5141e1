package store

import "sync"

// Broadcaster implements Subscriber for backends that notify listeners in
// process. The zero value is ready to use.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers []chan string
}

// Subscribe implements Subscriber.
func (b *Broadcaster) Subscribe() <-chan string {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe implements Subscriber.
func (b *Broadcaster) Unsubscribe(ch <-chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.subscribers {
		if c == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Notify sends missionID to every subscriber.
func (b *Broadcaster) Notify(missionID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- missionID:
		default:
			// Drop if subscriber is not consuming fast enough.
		}
	}
}
