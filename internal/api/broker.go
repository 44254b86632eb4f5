package api

import (
	"sync"
)

// StreamEvent is one live event pushed to SSE and websocket subscribers:
// location.updated, geofence.entry, geofence.exit.
type StreamEvent struct {
	Type string
	Data map[string]any
}

// EventBroker fans live events out to subscribers. Topics are manager ids;
// every event for a rep is published to each of the rep's managers.
type EventBroker interface {
	Subscribe(managerID string) chan StreamEvent
	Unsubscribe(managerID string, ch chan StreamEvent)
	Publish(managerID string, evt StreamEvent)
}

// Broker is the single-process EventBroker.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan StreamEvent]struct{} // managerID -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan StreamEvent]struct{}{}}
}

func (b *Broker) Subscribe(managerID string) chan StreamEvent {
	ch := make(chan StreamEvent, 8)
	b.mu.Lock()
	if b.subs[managerID] == nil {
		b.subs[managerID] = map[chan StreamEvent]struct{}{}
	}
	b.subs[managerID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(managerID string, ch chan StreamEvent) {
	b.mu.Lock()
	if m := b.subs[managerID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, managerID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

// Publish never blocks; a slow subscriber drops events instead of stalling
// the ingest path.
func (b *Broker) Publish(managerID string, evt StreamEvent) {
	b.mu.Lock()
	for ch := range b.subs[managerID] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
