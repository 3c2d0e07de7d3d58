package events

import (
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe(TopicDeliveries)

	evt := Event{Type: TypeStopLinked, Data: map[string]any{"stop_id": "s1"}}
	b.Publish(TopicDeliveries, evt)
	b.Publish(TopicManifests, Event{Type: TypeManifestProcessed})

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["stop_id"] != "s1" {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-ch:
		t.Fatalf("received event from another topic: %+v", got)
	default:
	}

	b.Unsubscribe(TopicDeliveries, ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// second unsubscribe is a no-op
	b.Unsubscribe(TopicDeliveries, ch)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe(TopicManifests)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(TopicManifests, Event{Type: TypeManifestProcessed})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffer should be full, got %d/%d", len(ch), cap(ch))
	}
}
