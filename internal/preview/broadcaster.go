package preview

import (
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/logger"
)

// Broadcaster fans values out to subscribers. Slow subscribers miss values
// instead of blocking the sender.
type Broadcaster[T any] struct {
	name    string
	log     *logger.Logger
	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	closed  bool
}

// NewBroadcaster creates a broadcaster; name is used in log lines
func NewBroadcaster[T any](name string, log *logger.Logger) *Broadcaster[T] {
	if log == nil {
		log = logger.Default()
	}
	return &Broadcaster[T]{
		name:    name,
		log:     log,
		clients: make(map[int]chan T),
	}
}

// Subscribe adds a new client and returns a channel for receiving values.
// The channel is closed on Unsubscribe or Close.
func (b *Broadcaster[T]) Subscribe() (int, <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan T, 2) // Buffer 2 values to avoid blocking
	if b.closed {
		close(ch)
		return id, ch
	}
	b.clients[id] = ch

	b.log.Debug(b.name, "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client
func (b *Broadcaster[T]) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		b.log.Debug(b.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// Clients returns the number of subscribers
func (b *Broadcaster[T]) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast sends v to every subscriber with room in its buffer
func (b *Broadcaster[T]) Broadcast(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.clients {
		select {
		case ch <- v:
		default:
			// Client too slow, skip this value for this client
		}
	}
}

// Close disconnects all subscribers
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}
