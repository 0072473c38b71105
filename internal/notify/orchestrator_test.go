package notify

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

type planFunc func(Notification) Plan

func (f planFunc) Plan(n Notification) Plan { return f(n) }

// priorityPlanner routes everything to one destination at the
// notification's own priority.
func priorityPlanner(dest string) planFunc {
	return func(n Notification) Plan {
		return Plan{
			Priority:     n.Priority,
			Destination:  dest,
			Destinations: []string{dest},
		}
	}
}

type sendLog struct {
	mu    sync.Mutex
	calls []sendCall
}

type sendCall struct {
	dest string
	text string
	at   time.Time
}

func (s *sendLog) add(dest, text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sendCall{dest: dest, text: text, at: time.Now()})
	return len(s.calls)
}

func (s *sendLog) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *sendLog) snapshot() []sendCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sendCall(nil), s.calls...)
}

func testConfig() Config {
	return Config{
		DrainPoll:       2 * time.Millisecond,
		RateWaitTimeout: 50 * time.Millisecond,
		RequeueDelay:    5 * time.Millisecond,
		SendTimeout:     200 * time.Millisecond,
		StopGrace:       200 * time.Millisecond,
	}
}

func permissiveLimiter() *Limiter {
	return NewLimiter(LimiterConfig{
		PerSecond:            1000,
		PerMinute:            1000,
		DestinationPerMinute: 1000,
		PollInterval:         2 * time.Millisecond,
	})
}

func fastRetry() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       10 * time.Millisecond,
		MaxDelay:        time.Second,
		ExponentialBase: 2.0,
	}
}

func newOrch(t *testing.T, cfg Config, deps Deps) *Orchestrator {
	t.Helper()
	if deps.Limiter == nil {
		deps.Limiter = permissiveLimiter()
	}
	if deps.Retry == nil {
		deps.Retry = fastRetry()
	}
	if deps.Render == nil {
		deps.Render = func(c Category, _ map[string]any) string { return string(c) }
	}
	o, err := NewOrchestrator(cfg, deps)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.Start(ctx)
	t.Cleanup(func() {
		o.Stop(context.Background())
		cancel()
	})
	return o
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(3 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEnqueueHighDeliversOnce(t *testing.T) {
	t.Parallel()
	log := &sendLog{}
	o := newOrch(t, testConfig(), Deps{
		Planner: priorityPlanner(DestNotification),
		Transport: func(ctx context.Context, dest, text string, _ []RecipientID) error {
			log.add(dest, text)
			return nil
		},
	})

	n := Notification{ID: "hi-1", Category: CategoryTPHit, Priority: PriorityHigh}
	if !o.Enqueue(n) {
		t.Fatal("enqueue should be accepted")
	}

	waitFor(t, 2*time.Second, func() bool {
		h := o.GetHistory(0)
		return len(h) == 1 && h[0].Status == StatusDelivered
	}, "expected one delivered record")

	if log.count() != 1 {
		t.Fatalf("transport called %d times, want 1", log.count())
	}
	rec := o.GetHistory(0)[0]
	if rec.Attempts != 1 || rec.Destination != DestNotification || rec.NotificationID != "hi-1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	st := o.GetStats()
	if st.Queued != 1 || st.Sent != 1 {
		t.Fatalf("stats %+v", st.Counters)
	}
}

func TestDestinationCapRollsOver(t *testing.T) {
	t.Parallel()
	log := &sendLog{}
	limiter := NewLimiter(LimiterConfig{
		PerSecond:            1000,
		PerMinute:            1000,
		DestinationPerMinute: 20,
		ShortWindow:          10 * time.Millisecond,
		LongWindow:           300 * time.Millisecond,
		PollInterval:         2 * time.Millisecond,
	})
	cfg := testConfig()
	cfg.RateWaitTimeout = 20 * time.Millisecond
	o := newOrch(t, cfg, Deps{
		Planner: priorityPlanner(DestAnalytics),
		Limiter: limiter,
		Transport: func(ctx context.Context, dest, text string, _ []RecipientID) error {
			log.add(dest, text)
			return nil
		},
	})

	for i := 0; i < 25; i++ {
		if !o.Enqueue(Notification{ID: "low", Category: CategoryDailySummary, Priority: PriorityLow}) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}

	// Half-way through the first window at most the cap has gone out.
	time.Sleep(150 * time.Millisecond)
	if n := log.count(); n > 20 {
		t.Fatalf("%d sends within the first window, cap is 20", n)
	}

	waitFor(t, 3*time.Second, func() bool { return log.count() == 25 }, "expected all 25 delivered")
	waitFor(t, time.Second, func() bool {
		return o.GetStats().QueueDepth[DestAnalytics] == 0
	}, "queue should settle to 0")
}

func TestRetryFollowsExponentialSchedule(t *testing.T) {
	t.Parallel()
	log := &sendLog{}
	o := newOrch(t, testConfig(), Deps{
		Planner: priorityPlanner(DestNotification),
		Retry: &RetryPolicy{
			MaxAttempts:     3,
			BaseDelay:       30 * time.Millisecond,
			MaxDelay:        time.Second,
			ExponentialBase: 2.0,
		},
		Transport: func(ctx context.Context, dest, text string, _ []RecipientID) error {
			if log.add(dest, text) <= 2 {
				return errors.New("temporary network error")
			}
			return nil
		},
	})

	o.Enqueue(Notification{ID: "flaky", Category: CategoryGeneric, Priority: PriorityMedium})

	waitFor(t, 3*time.Second, func() bool {
		h := o.GetHistory(0)
		return len(h) == 1 && h[0].Status == StatusDelivered
	}, "expected delivery after two retries")

	rec := o.GetHistory(0)[0]
	if rec.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", rec.Attempts)
	}
	calls := log.snapshot()
	if len(calls) != 3 {
		t.Fatalf("transport called %d times, want 3", len(calls))
	}
	if gap := calls[1].at.Sub(calls[0].at); gap < 25*time.Millisecond {
		t.Fatalf("first retry gap %v, want >= ~30ms", gap)
	}
	if gap := calls[2].at.Sub(calls[1].at); gap < 55*time.Millisecond {
		t.Fatalf("second retry gap %v, want >= ~60ms", gap)
	}
	if st := o.GetStats(); st.Retried != 2 {
		t.Fatalf("retried = %d, want 2", st.Retried)
	}
}

func TestQueueFullDropsLowPriority(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	log := &sendLog{}
	cfg := testConfig()
	cfg.QueueCapacity = 2
	cfg.SendTimeout = 5 * time.Second
	o := newOrch(t, cfg, Deps{
		Planner: priorityPlanner(DestNotification),
		Transport: func(ctx context.Context, dest, text string, _ []RecipientID) error {
			log.add(dest, text)
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	// First entry goes in flight and parks the drain loop.
	o.Enqueue(Notification{ID: "inflight", Category: CategoryGeneric, Priority: PriorityLow})
	waitFor(t, time.Second, func() bool { return log.count() == 1 }, "first entry should reach the transport")

	// Two more fill the queue to capacity.
	for i := 0; i < 2; i++ {
		if !o.Enqueue(Notification{ID: "queued", Category: CategoryGeneric, Priority: PriorityLow}) {
			t.Fatal("fill enqueue rejected")
		}
	}

	if o.Enqueue(Notification{ID: "overflow", Category: CategoryGeneric, Priority: PriorityLow}) {
		t.Fatal("overflow enqueue should be rejected")
	}
	if depth := o.GetStats().QueueDepth[DestNotification]; depth != 2 {
		t.Fatalf("queue depth %d, want 2", depth)
	}
	if st := o.GetStats(); st.Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", st.Dropped)
	}
	var dropped bool
	for _, r := range o.GetHistory(0) {
		if r.NotificationID == "overflow" && r.Status == StatusDropped {
			dropped = true
		}
	}
	if !dropped {
		t.Fatal("overflow entry should have a dropped record")
	}

	close(release)
	waitFor(t, 2*time.Second, func() bool { return o.GetStats().Sent == 3 }, "backlog should drain after release")
}

func TestCriticalBypassesFullQueue(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)
	log := &sendLog{}
	cfg := testConfig()
	cfg.QueueCapacity = 2
	cfg.SendTimeout = 5 * time.Second
	o := newOrch(t, cfg, Deps{
		Planner: priorityPlanner(DestNotification),
		Transport: func(ctx context.Context, dest, text string, _ []RecipientID) error {
			if text == string(CategoryEmergencyStop) {
				log.add(dest, text)
				return nil
			}
			log.add(dest, text)
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	o.Enqueue(Notification{ID: "inflight", Category: CategoryGeneric, Priority: PriorityLow})
	waitFor(t, time.Second, func() bool { return log.count() == 1 }, "first entry should reach the transport")
	for i := 0; i < 2; i++ {
		o.Enqueue(Notification{ID: "queued", Category: CategoryGeneric, Priority: PriorityLow})
	}

	rec := o.Deliver(context.Background(), Notification{
		ID: "critical", Category: CategoryEmergencyStop, Priority: PriorityCritical,
	})
	if rec.Status != StatusDelivered {
		t.Fatalf("critical delivery status %s, want delivered", rec.Status)
	}
	if rec.Attempts != 1 {
		t.Fatalf("critical attempts = %d, want 1", rec.Attempts)
	}
	if depth := o.GetStats().QueueDepth[DestNotification]; depth != 2 {
		t.Fatalf("queue depth %d after bypass, want 2", depth)
	}
}

func TestFilteredPlanRecordsSkip(t *testing.T) {
	t.Parallel()
	log := &sendLog{}
	planner := planFunc(func(n Notification) Plan {
		return Plan{
			Priority:     PriorityHigh,
			Destination:  DestNotification,
			Destinations: []string{DestNotification},
			Filtered:     true,
		}
	})
	o := newOrch(t, testConfig(), Deps{
		Planner: planner,
		Transport: func(ctx context.Context, dest, text string, _ []RecipientID) error {
			log.add(dest, text)
			return nil
		},
	})

	rec := o.Deliver(context.Background(), Notification{ID: "gated", Category: CategoryTPHit})
	if rec.Status != StatusSkipped {
		t.Fatalf("status %s, want skipped", rec.Status)
	}
	if log.count() != 0 {
		t.Fatal("skipped delivery must not touch the transport")
	}
	if st := o.GetStats(); st.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", st.Skipped)
	}
}

func TestStopRecordsRemainingAsExpired(t *testing.T) {
	t.Parallel()
	log := &sendLog{}
	cfg := testConfig()
	cfg.SendTimeout = 5 * time.Second
	cfg.StopGrace = 100 * time.Millisecond

	deps := Deps{
		Planner: priorityPlanner(DestNotification),
		Transport: func(ctx context.Context, dest, text string, _ []RecipientID) error {
			log.add(dest, text)
			<-ctx.Done()
			return ctx.Err()
		},
	}
	if deps.Limiter == nil {
		deps.Limiter = permissiveLimiter()
	}
	deps.Retry = fastRetry()
	deps.Render = func(c Category, _ map[string]any) string { return string(c) }
	o, err := NewOrchestrator(cfg, deps)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	for i := 0; i < 3; i++ {
		o.Enqueue(Notification{ID: "pending", Category: CategoryGeneric, Priority: PriorityLow})
	}
	waitFor(t, time.Second, func() bool { return log.count() == 1 }, "first entry should be in flight")

	o.Stop(context.Background())

	st := o.GetStats()
	if st.Expired != 3 {
		t.Fatalf("expired = %d, want 3 (queue is not flushed on shutdown)", st.Expired)
	}
	if st.Sent != 0 {
		t.Fatalf("sent = %d, want 0", st.Sent)
	}
}

func TestVoiceEscalationThrottled(t *testing.T) {
	t.Parallel()
	var voiceMu sync.Mutex
	voiceCalls := 0
	planner := planFunc(func(n Notification) Plan {
		return Plan{
			Priority:        PriorityCritical,
			Destination:     DestNotification,
			Destinations:    []string{DestNotification},
			VoiceRecipients: []RecipientID{42},
		}
	})
	cfg := testConfig()
	cfg.VoicePerSec = 1
	o := newOrch(t, cfg, Deps{
		Planner:   planner,
		Transport: func(ctx context.Context, dest, text string, _ []RecipientID) error { return nil },
		Voice: func(ctx context.Context, text string, _ map[string]any) error {
			voiceMu.Lock()
			voiceCalls++
			voiceMu.Unlock()
			return errors.New("tts unavailable")
		},
	})

	for i := 0; i < 2; i++ {
		rec := o.Deliver(context.Background(), Notification{ID: "crit", Category: CategoryEmergencyStop})
		if rec.Status != StatusDelivered {
			t.Fatalf("voice failure must not fail delivery, got %s", rec.Status)
		}
	}

	voiceMu.Lock()
	defer voiceMu.Unlock()
	if voiceCalls != 1 {
		t.Fatalf("voice called %d times, want 1 (second throttled)", voiceCalls)
	}
}

func TestGetStatsAndHistoryAreReadOnly(t *testing.T) {
	t.Parallel()
	o := newOrch(t, testConfig(), Deps{
		Planner:   priorityPlanner(DestNotification),
		Transport: func(ctx context.Context, dest, text string, _ []RecipientID) error { return nil },
	})

	o.Enqueue(Notification{ID: "a", Category: CategoryGeneric, Priority: PriorityMedium})
	waitFor(t, 2*time.Second, func() bool { return o.GetStats().Sent == 1 }, "delivery should complete")

	s1, s2 := o.GetStats(), o.GetStats()
	if !reflect.DeepEqual(s1, s2) {
		t.Fatalf("GetStats mutated state:\n%+v\n%+v", s1, s2)
	}
	h1, h2 := o.GetHistory(0), o.GetHistory(0)
	if !reflect.DeepEqual(h1, h2) {
		t.Fatal("GetHistory mutated state")
	}
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()
	o, err := NewOrchestrator(testConfig(), Deps{
		Planner:   priorityPlanner(DestNotification),
		Transport: func(ctx context.Context, dest, text string, _ []RecipientID) error { return nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	if o.Enqueue(Notification{ID: "early", Category: CategoryGeneric, Priority: PriorityLow}) {
		t.Fatal("enqueue before Start should be rejected")
	}
}
