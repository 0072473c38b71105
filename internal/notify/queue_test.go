package notify

import (
	"errors"
	"testing"
	"time"
)

func entry(priority Priority, at time.Time) *Entry {
	return &Entry{
		N:           Notification{ID: "n", Category: CategoryGeneric},
		Priority:    priority,
		Destination: DestNotification,
		EnqueuedAt:  at,
		EligibleAt:  at,
	}
}

func TestQueuePriorityOrder(t *testing.T) {
	t.Parallel()
	now := time.Now()
	q := NewQueue(10)

	low := entry(PriorityLow, now)
	high := entry(PriorityHigh, now)
	if _, err := q.Push(low); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Push(high); err != nil {
		t.Fatal(err)
	}

	e, ok := q.PopEligible(now)
	if !ok || e.Priority != PriorityHigh {
		t.Fatalf("expected high first, got %+v ok=%v", e, ok)
	}
	e, ok = q.PopEligible(now)
	if !ok || e.Priority != PriorityLow {
		t.Fatalf("expected low second, got %+v ok=%v", e, ok)
	}
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	t.Parallel()
	now := time.Now()
	q := NewQueue(10)

	first := entry(PriorityMedium, now)
	first.N.ID = "first"
	second := entry(PriorityMedium, now)
	second.N.ID = "second"
	if _, err := q.Push(first); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Push(second); err != nil {
		t.Fatal(err)
	}

	e, _ := q.PopEligible(now)
	if e.N.ID != "first" {
		t.Fatalf("expected first, got %s", e.N.ID)
	}
	e, _ = q.PopEligible(now)
	if e.N.ID != "second" {
		t.Fatalf("expected second, got %s", e.N.ID)
	}
}

func TestQueueFutureEligibleNotPopped(t *testing.T) {
	t.Parallel()
	now := time.Now()
	q := NewQueue(10)

	e := entry(PriorityHigh, now)
	e.EligibleAt = now.Add(time.Minute)
	if _, err := q.Push(e); err != nil {
		t.Fatal(err)
	}

	if got, ok := q.PopEligible(now); ok {
		t.Fatalf("popped future-scheduled entry %+v", got)
	}
	if q.Len() != 1 {
		t.Fatalf("queue length changed: %d", q.Len())
	}
	if _, ok := q.PopEligible(now.Add(2 * time.Minute)); !ok {
		t.Fatal("entry should be eligible after its scheduled time")
	}
}

func TestQueueCapacityRejectsEqualOrLower(t *testing.T) {
	t.Parallel()
	now := time.Now()
	q := NewQueue(2)

	for i := 0; i < 2; i++ {
		if _, err := q.Push(entry(PriorityLow, now)); err != nil {
			t.Fatal(err)
		}
	}

	_, err := q.Push(entry(PriorityLow, now))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("queue length changed: %d", q.Len())
	}
}

func TestQueueCapacityEvictsLowerPriority(t *testing.T) {
	t.Parallel()
	now := time.Now()
	q := NewQueue(2)

	if _, err := q.Push(entry(PriorityLow, now)); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Push(entry(PriorityMedium, now)); err != nil {
		t.Fatal(err)
	}

	evicted, err := q.Push(entry(PriorityHigh, now))
	if err != nil {
		t.Fatal(err)
	}
	if evicted == nil || evicted.Priority != PriorityLow {
		t.Fatalf("expected the low entry evicted, got %+v", evicted)
	}
	if q.Len() != 2 {
		t.Fatalf("queue length %d, want 2", q.Len())
	}

	e, _ := q.PopEligible(now)
	if e.Priority != PriorityHigh {
		t.Fatalf("expected high on top, got %v", e.Priority)
	}
}

func TestQueueEvictExpired(t *testing.T) {
	t.Parallel()
	now := time.Now()
	q := NewQueue(10)

	old := entry(PriorityHigh, now.Add(-10*time.Minute))
	fresh := entry(PriorityLow, now)
	if _, err := q.Push(old); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Push(fresh); err != nil {
		t.Fatal(err)
	}

	expired := q.EvictExpired(now, 5*time.Minute)
	if len(expired) != 1 || expired[0] != old {
		t.Fatalf("expected the old entry expired, got %v", expired)
	}
	if q.Len() != 1 {
		t.Fatalf("queue length %d, want 1", q.Len())
	}
}

func TestQueueDrain(t *testing.T) {
	t.Parallel()
	now := time.Now()
	q := NewQueue(10)

	for _, p := range []Priority{PriorityLow, PriorityHigh, PriorityMedium} {
		if _, err := q.Push(entry(p, now)); err != nil {
			t.Fatal(err)
		}
	}

	out := q.Drain()
	if len(out) != 3 {
		t.Fatalf("drained %d entries, want 3", len(out))
	}
	if out[0].Priority != PriorityHigh || out[2].Priority != PriorityLow {
		t.Fatalf("drain not in rank order: %v %v %v", out[0].Priority, out[1].Priority, out[2].Priority)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after drain: %d", q.Len())
	}
}
