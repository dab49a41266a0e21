package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(Event{Kind: MessageAppended, Payload: int64(42)})

	select {
	case evt := <-ch:
		if evt.Kind != MessageAppended {
			t.Errorf("got kind %q, want %q", evt.Kind, MessageAppended)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Timestamp was not filled in")
		}
		if evt.Payload.(int64) != 42 {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("queue.", 10)
	defer unsub()

	b.Publish(Event{Kind: MessageUpdated})
	b.Publish(Event{Kind: QueueExhausted})

	select {
	case evt := <-ch:
		if evt.Kind != QueueExhausted {
			t.Errorf("got kind %q, want %q", evt.Kind, QueueExhausted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyPrefixMatchesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Publish(Event{Kind: NetworkChanged})
	b.Publish(Event{Kind: StoreError})
	if len(ch) != 2 {
		t.Errorf("buffered %d events, want 2", len(ch))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	unsub()
	unsub()

	b.Publish(Event{Kind: MessageRemoved})

	if _, ok := <-ch; ok {
		t.Error("received an event after unsubscribe")
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 1)
	defer unsub()

	b.Publish(Event{Kind: MessageAppended})
	b.Publish(Event{Kind: MessageUpdated})

	evt := <-ch
	if evt.Kind != MessageAppended {
		t.Errorf("got %q, want %q", evt.Kind, MessageAppended)
	}
	if d := b.Dropped(); d != 1 {
		t.Errorf("Dropped() = %d, want 1", d)
	}
}

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	b.Publish(Event{Kind: StoreError})
}
