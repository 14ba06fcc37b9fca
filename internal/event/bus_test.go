package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/sightline/internal/logging"
)

func TestBus_Publish(t *testing.T) {
	bus := NewBus(nil)

	var received Event
	id := bus.Subscribe(TypeTaskStart, func(e Event) {
		received = e
	})
	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}

	bus.Publish(TaskComplete{TaskID: "a"})
	if received != nil {
		t.Fatal("handler received an event of another type")
	}

	bus.Publish(TaskStart{TaskID: "a"})
	if received == nil {
		t.Fatal("handler should have received the event")
	}
	if got := received.(TaskStart).TaskID; got != "a" {
		t.Errorf("TaskID = %q, want %q", got, "a")
	}
}

func TestBus_Ordering(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.SubscribeAll(func(Event) { order = append(order, "wildcard") })
	bus.Subscribe(TypeComplete, func(Event) { order = append(order, "specific-1") })
	bus.Subscribe(TypeComplete, func(Event) { order = append(order, "specific-2") })

	bus.Publish(Complete{})

	want := []string{"specific-1", "specific-2", "wildcard"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestBus_SubscribeTypes(t *testing.T) {
	bus := NewBus(nil)

	count := 0
	ids := bus.SubscribeTypes(func(Event) { count++ }, TypeTaskComplete, TypeTaskFailed)
	if len(ids) != 2 {
		t.Fatalf("len(ids) = %d, want 2", len(ids))
	}

	bus.Publish(TaskComplete{TaskID: "a"})
	bus.Publish(TaskFailed{TaskID: "b"})
	bus.Publish(TaskStart{TaskID: "c"})

	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := map[string]int{}
	first := bus.Subscribe(TypeError, func(Event) { calls["first"]++ })
	bus.Subscribe(TypeError, func(Event) { calls["second"]++ })

	if !bus.Unsubscribe(first) {
		t.Fatal("Unsubscribe() = false for an existing subscription")
	}
	if bus.Unsubscribe(first) {
		t.Error("Unsubscribe() = true for an already removed subscription")
	}
	if bus.Unsubscribe("sub-999") {
		t.Error("Unsubscribe() = true for an unknown id")
	}

	bus.Publish(Error{Message: "x"})
	if calls["first"] != 0 || calls["second"] != 1 {
		t.Errorf("calls = %v, want only second", calls)
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(TypeError, func(Event) {})
	bus.SubscribeAll(func(Event) {})

	bus.Clear()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", bus.SubscriptionCount())
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(logging.NewWriterLogger(&buf, logging.LevelError))

	reached := false
	bus.Subscribe(TypeComplete, func(Event) { panic("boom") })
	bus.Subscribe(TypeComplete, func(Event) { reached = true })

	bus.Publish(Complete{})

	if !reached {
		t.Error("handler after the panicking one was not called")
	}
	if !strings.Contains(buf.String(), "event handler panicked") {
		t.Errorf("panic was not logged: %s", buf.String())
	}
}

func TestBus_UniqueIDs(t *testing.T) {
	bus := NewBus(nil)
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		id := bus.SubscribeAll(func(Event) {})
		if seen[id] {
			t.Fatalf("duplicate subscription id %q", id)
		}
		seen[id] = true
	}
}

func TestBus_ConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(TaskProgress{TaskID: "a", Progress: float64(j)})
			}
		}()
		go func() {
			defer wg.Done()
			id := bus.Subscribe(TypeTaskFailed, func(Event) {})
			bus.Unsubscribe(id)
		}()
	}
	wg.Wait()

	if count != 1000 {
		t.Errorf("count = %d, want 1000", count)
	}
}
