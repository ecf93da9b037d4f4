package metrics

import (
	"sync"
	"testing"
	"time"
)

type collectingObserver struct {
	mu     sync.Mutex
	events []MetricsEvent
}

func (c *collectingObserver) RecordEvent(ev MetricsEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collectingObserver) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestAsyncObserverDelivers(t *testing.T) {
	inner := &collectingObserver{}
	a := NewAsyncObserver(inner, 16)
	defer a.Close()

	a.RecordEvent(MetricsEvent{Name: EventBargeIn, Time: time.Now()})
	a.RecordEvent(MetricsEvent{Name: EventCancelIssued, Time: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for inner.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("delivered %d events, want 2", inner.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAsyncObserverDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	a := NewAsyncObserver(blockingObserver{block}, 1)
	defer close(block)
	defer a.Close()

	for i := 0; i < 100; i++ {
		a.RecordEvent(MetricsEvent{Name: EventPauseArmed})
	}
	if a.Dropped() == 0 {
		t.Fatal("full buffer did not drop events")
	}
}

func TestRecordAfterCloseIsNoOp(t *testing.T) {
	inner := &collectingObserver{}
	a := NewAsyncObserver(inner, 4)
	a.Close()
	a.RecordEvent(MetricsEvent{Name: EventBargeIn})
	a.Close()
}

type blockingObserver struct {
	block chan struct{}
}

func (b blockingObserver) RecordEvent(MetricsEvent) { <-b.block }
