package events

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(4, nil)
	defer sub.Close()

	b.Publish(Event{Kind: KindLine, Key: "dev1", Line: "hello"})

	select {
	case ev := <-sub.C():
		if ev.Line != "hello" || ev.Key != "dev1" {
			t.Errorf("event = %+v, want line hello for dev1", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestBus_Filter(t *testing.T) {
	b := NewBus()
	exits := b.Subscribe(4, func(ev Event) bool { return ev.Kind == KindExit })
	defer exits.Close()

	b.Publish(Event{Kind: KindLine, Key: "r1"})
	b.Publish(Event{Kind: KindExit, Key: "r1", Status: "completed"})

	ev := <-exits.C()
	if ev.Kind != KindExit {
		t.Fatalf("Kind = %q, want %q", ev.Kind, KindExit)
	}
	select {
	case extra := <-exits.C():
		t.Errorf("unexpected extra event %+v", extra)
	default:
	}
}

func TestBus_FullQueueDrops(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(2, nil)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Kind: KindLine})
	}

	if got := sub.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
	if got := len(sub.C()); got != 2 {
		t.Errorf("queued = %d, want 2", got)
	}
}

func TestBus_CloseSubscription(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(1, nil)
	sub.Close()
	sub.Close() // idempotent

	if b.Len() != 0 {
		t.Errorf("Len() = %d after Close, want 0", b.Len())
	}
	if _, ok := <-sub.C(); ok {
		t.Error("channel still open after Close")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Kind: KindLine})
}

func TestBus_Close(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(1, nil)
	b.Close()

	if _, ok := <-sub.C(); ok {
		t.Error("subscription channel open after Bus.Close")
	}
	sub.Close() // must not double-close

	late := b.Subscribe(1, nil)
	if _, ok := <-late.C(); ok {
		t.Error("subscription on closed bus should be closed")
	}
}

func TestTaggedAndMulti(t *testing.T) {
	var got []Event
	collect := PublisherFunc(func(ev Event) { got = append(got, ev) })

	p := Tagged("logcat", Multi(collect, nil, collect))
	p.Publish(Event{Kind: KindLine, Key: "dev1"})
	p.Publish(Event{Kind: KindLine, Key: "dev2", Source: "runs"})

	if len(got) != 4 {
		t.Fatalf("len(got) = %d, want 4", len(got))
	}
	if got[0].Source != "logcat" {
		t.Errorf("Source = %q, want logcat", got[0].Source)
	}
	if got[2].Source != "runs" {
		t.Errorf("explicit Source overwritten: %q", got[2].Source)
	}
}
