package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestBus_SubscribeAndPublishExact(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 10)
	bus.Subscribe(ProgressChannel("analysis-operations", "J1"), received)

	bus.Publish(Event{
		Channel:   ProgressChannel("analysis-operations", "J1"),
		Timestamp: time.Now(),
		Data:      map[string]int{"progress": 50},
	})

	select {
	case evt := <-received:
		if evt.Channel != "job:progress:analysis-operations:J1" {
			t.Errorf("unexpected channel: %s", evt.Channel)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_JobPattern(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Event, 10)
	bus.Subscribe(JobPattern("J1"), ch)

	bus.Publish(Event{Channel: ProgressChannel("analysis-operations", "J1")})
	bus.Publish(Event{Channel: CompletedChannel("analysis-operations", "J1")})
	bus.Publish(Event{Channel: ProgressChannel("analysis-operations", "OTHER")})

	got := 0
	for i := 0; i < 2; i++ {
		select {
		case <-ch:
			got++
		case <-time.After(time.Second):
			t.Fatal("expected 2 matching events")
		}
	}
	if got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}

	select {
	case evt := <-ch:
		t.Fatalf("unexpected extra event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_QueuePattern(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Event, 10)
	bus.Subscribe(QueuePattern("wallet-operations"), ch)

	bus.Publish(Event{Channel: ProgressChannel("wallet-operations", "J1")})
	bus.Publish(Event{Channel: ProgressChannel("analysis-operations", "J2")})

	select {
	case evt := <-ch:
		if evt.Channel != ProgressChannel("wallet-operations", "J1") {
			t.Errorf("unexpected channel: %s", evt.Channel)
		}
	case <-time.After(time.Second):
		t.Fatal("expected one matching event")
	}

	select {
	case evt := <-ch:
		t.Fatalf("should not receive other queue's event, got %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Event, 10)
	bus.Subscribe(AllPattern, ch)
	bus.Unsubscribe(ch)

	bus.Publish(Event{Channel: ProgressChannel("wallet-operations", "J1")})

	select {
	case evt := <-ch:
		t.Fatalf("unsubscribed channel received event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 100)
	bus.Subscribe(QueuePattern("wallet-operations"), received)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			bus.Publish(Event{Channel: ProgressChannel("wallet-operations", string(rune('A'+n%26)))})
		}(i)
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)
	if len(received) != 50 {
		t.Errorf("expected 50 events, got %d", len(received))
	}
}
