package events

import (
	"sync"
)

const (
	TopicDeliveries = "deliveries"
	TopicManifests  = "manifests"

	TypeStopLinked         = "stop.linked"
	TypeStopReviewRequired = "stop.review_required"
	TypeManifestProcessed  = "manifest.processed"
	TypeInvoiceProcessed   = "invoice.processed"
)

type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Broker fans pipeline events out to stream subscribers. Publish never
// blocks: slow subscribers drop events.
type Broker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(topic string, evt Event)
}

// Memory is the single-process Broker.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // topic -> set of channels
}

func NewMemory() *Memory {
	return &Memory{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Memory) Subscribe(topic string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Memory) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

func (b *Memory) Publish(topic string, evt Event) {
	b.mu.Lock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}

// Nop discards events; used when no stream consumers are wired.
type Nop struct{}

func (Nop) Subscribe(string) chan Event     { return make(chan Event) }
func (Nop) Unsubscribe(string, chan Event) {}
func (Nop) Publish(string, Event)          {}
