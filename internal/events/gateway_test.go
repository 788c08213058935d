package events

import (
	"sync"
	"testing"
)

func TestGateway_DeliversByKind(t *testing.T) {
	gateway := NewGateway()

	var committed, roster int
	gateway.Subscribe(KindOperationCommitted, func(ev Event) { committed++ })
	gateway.Subscribe(KindRosterChanged, func(ev Event) { roster++ })

	gateway.Publish(Event{Kind: KindOperationCommitted, SessionID: "s1"})
	gateway.Publish(Event{Kind: KindOperationCommitted, SessionID: "s1"})
	gateway.Publish(Event{Kind: KindRosterChanged, SessionID: "s1"})

	if committed != 2 {
		t.Errorf("expected 2 commit deliveries, got %d", committed)
	}
	if roster != 1 {
		t.Errorf("expected 1 roster delivery, got %d", roster)
	}
}

func TestGateway_DeliveryOrder(t *testing.T) {
	gateway := NewGateway()

	var order []string
	gateway.Subscribe(KindSettingsConflict, func(ev Event) { order = append(order, "first") })
	gateway.Subscribe(KindSettingsConflict, func(ev Event) { order = append(order, "second") })
	gateway.SubscribeAll(func(ev Event) { order = append(order, "wildcard") })

	gateway.Publish(Event{Kind: KindSettingsConflict})

	want := []string{"first", "second", "wildcard"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestGateway_WildcardSeesEveryKind(t *testing.T) {
	gateway := NewGateway()

	var kinds []Kind
	gateway.SubscribeAll(func(ev Event) { kinds = append(kinds, ev.Kind) })

	gateway.Publish(Event{Kind: KindOperationCommitted})
	gateway.Publish(Event{Kind: KindSettingsPropagated})
	gateway.Publish(Event{Kind: KindSettingsResolved})

	if len(kinds) != 3 {
		t.Fatalf("expected wildcard to see 3 events, got %d", len(kinds))
	}
}

func TestGateway_Unsubscribe_Idempotent(t *testing.T) {
	gateway := NewGateway()

	var count int
	sub := gateway.Subscribe(KindRosterChanged, func(ev Event) { count++ })

	gateway.Publish(Event{Kind: KindRosterChanged})
	sub.Unsubscribe()
	sub.Unsubscribe()
	gateway.Publish(Event{Kind: KindRosterChanged})

	if count != 1 {
		t.Errorf("expected no deliveries after unsubscribe, got %d", count)
	}
}

func TestGateway_UnsubscribeFromHandler(t *testing.T) {
	gateway := NewGateway()

	var count int
	var sub *Subscription
	sub = gateway.Subscribe(KindRosterChanged, func(ev Event) {
		count++
		sub.Unsubscribe()
	})

	gateway.Publish(Event{Kind: KindRosterChanged})
	gateway.Publish(Event{Kind: KindRosterChanged})

	if count != 1 {
		t.Errorf("expected a handler to be able to remove itself, got %d deliveries", count)
	}
}

func TestGateway_PublishSetsOccurredAt(t *testing.T) {
	gateway := NewGateway()

	var got Event
	gateway.Subscribe(KindOperationCommitted, func(ev Event) { got = ev })

	gateway.Publish(Event{Kind: KindOperationCommitted})

	if got.OccurredAt.IsZero() {
		t.Error("expected a publish timestamp to be stamped")
	}
}

func TestGateway_Shutdown(t *testing.T) {
	gateway := NewGateway()

	var count int
	sub := gateway.Subscribe(KindOperationCommitted, func(ev Event) { count++ })

	gateway.Shutdown()
	gateway.Publish(Event{Kind: KindOperationCommitted})

	// After shutdown nothing is delivered, late subscriptions are inert,
	// and releasing old handles stays safe.
	late := gateway.Subscribe(KindOperationCommitted, func(ev Event) { count++ })
	gateway.Publish(Event{Kind: KindOperationCommitted})
	sub.Unsubscribe()
	late.Unsubscribe()

	if count != 0 {
		t.Errorf("expected no deliveries after shutdown, got %d", count)
	}
}

func TestGateway_ConcurrentPublish(t *testing.T) {
	gateway := NewGateway()

	var mu sync.Mutex
	var count int
	gateway.Subscribe(KindOperationCommitted, func(ev Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gateway.Publish(Event{Kind: KindOperationCommitted, SessionID: "s1"})
		}()
	}
	wg.Wait()

	if count != 20 {
		t.Errorf("expected 20 deliveries, got %d", count)
	}
}
