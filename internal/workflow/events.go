package workflow

import (
	"sync"
	"time"

	"github.com/garnizeh/fieldops/pkg/models"
)

const EventStatusChanged = "work_order.status_changed"

// Event describes a committed status change.
type Event struct {
	Type        string        `json:"type"`
	WorkOrderID string        `json:"work_order_id"`
	From        models.Status `json:"from"`
	To          models.Status `json:"to"`
	At          time.Time     `json:"at"`
}

// Broker fans events out to subscribers. Slow subscribers miss events
// rather than block publishers.
type Broker struct {
	mu      sync.RWMutex
	clients map[chan Event]struct{}
	closed  bool
}

func NewBroker() *Broker {
	return &Broker{clients: make(map[chan Event]struct{})}
}

// Subscribe returns a buffered channel that receives every published event
// until Unsubscribe or Close.
func (b *Broker) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 16)
	if b.closed {
		close(ch)
		return ch
	}
	b.clients[ch] = struct{}{}
	return ch
}

func (b *Broker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

func (b *Broker) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes every subscriber channel. It is idempotent.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		close(ch)
	}
	b.clients = map[chan Event]struct{}{}
}
