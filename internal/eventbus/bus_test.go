package eventbus

import "testing"

func TestFanoutAndFilter(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	sent, unsubSent := b.Subscribe(4, ItemSent)
	defer unsubAll()
	defer unsubSent()

	b.Publish(Event{Type: RunStarted})
	b.Publish(Event{Type: ItemSent, Data: ItemData{ID: "1"}})

	if e := <-all; e.Type != RunStarted || e.Time.IsZero() {
		t.Fatalf("first event = %+v", e)
	}
	if e := <-all; e.Type != ItemSent {
		t.Fatalf("second event = %+v", e)
	}
	e := <-sent
	if d, ok := e.Data.(ItemData); !ok || d.ID != "1" {
		t.Fatalf("filtered event = %+v", e)
	}
	select {
	case e := <-sent:
		t.Fatalf("unexpected event %+v", e)
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: ItemFailed})
	}
	if b.Dropped() != 4 {
		t.Fatalf("dropped = %d, want 4", b.Dropped())
	}
	unsub()
	unsub()
	b.Publish(Event{Type: ItemFailed})
}
