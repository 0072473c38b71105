package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"zepixnotify/internal/eventbus"
	rtsup "zepixnotify/internal/runtime/supervisor"
	"zepixnotify/pkg/logx"
)

// Config tunes the delivery orchestrator. Zero fields take the documented
// defaults.
type Config struct {
	QueueCapacity int           // per destination, default 500
	EntryTTL      time.Duration // queued-entry time to live, default 5m
	DrainPoll     time.Duration // idle poll interval of the drain loop, default 100ms

	// RateWaitTimeout bounds the drain loop's wait for a limiter slot; on
	// timeout the entry is deferred by RequeueDelay, not failed.
	RateWaitTimeout time.Duration // default 5s
	RequeueDelay    time.Duration // default 1s

	// ImmediateRateWait bounds the limiter wait on the critical bypass path.
	ImmediateRateWait time.Duration // default 10s

	SendTimeout time.Duration // per transport call, default 10s
	HistorySize int           // ledger capacity, default 1000
	StopGrace   time.Duration // shutdown grace for in-flight sends, default 5s
	VoicePerSec int           // voice alert throttle, default 1
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 500
	}
	if c.EntryTTL <= 0 {
		c.EntryTTL = 5 * time.Minute
	}
	if c.DrainPoll <= 0 {
		c.DrainPoll = 100 * time.Millisecond
	}
	if c.RateWaitTimeout <= 0 {
		c.RateWaitTimeout = 5 * time.Second
	}
	if c.RequeueDelay <= 0 {
		c.RequeueDelay = time.Second
	}
	if c.ImmediateRateWait <= 0 {
		c.ImmediateRateWait = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 1000
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.VoicePerSec <= 0 {
		c.VoicePerSec = 1
	}
	return c
}

// Deps are the orchestrator's collaborators. Everything is passed in
// explicitly; the orchestrator holds no ambient state.
type Deps struct {
	Planner   Planner
	Limiter   *Limiter
	Retry     *RetryPolicy
	Transport SendFunc
	Render    RenderFunc
	Voice     VoiceFunc // optional
	Bus       eventbus.Bus
	Recorder  Recorder // optional
	Log       logx.Logger
}

// DeliveryEvent is the bus payload for delivery lifecycle events.
type DeliveryEvent struct {
	ID          string    `json:"id"`
	Category    Category  `json:"category"`
	Priority    string    `json:"priority"`
	Destination string    `json:"destination"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Orchestrator accepts send requests, routes critical ones through the
// bypass path, and drains one priority queue per destination under rate
// limiting and retry policy. It exclusively owns queue entries from
// enqueue to terminal outcome.
type Orchestrator struct {
	mu      sync.Mutex
	cfg     Config
	running bool
	queues  map[string]*Queue
	sup     *rtsup.Supervisor

	planner   Planner
	limiter   *Limiter
	retry     *RetryPolicy
	transport SendFunc
	render    RenderFunc
	voice     VoiceFunc
	bus       eventbus.Bus
	recorder  Recorder
	log       logx.Logger

	voiceLimiter *rate.Limiter

	ledger *Ledger
	st     *stats

	now func() time.Time
}

func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Planner == nil {
		return nil, errors.New("orchestrator: planner is required")
	}
	if deps.Transport == nil {
		return nil, errors.New("orchestrator: transport is required")
	}
	cfg = cfg.withDefaults()
	if deps.Limiter == nil {
		deps.Limiter = NewLimiter(LimiterConfig{})
	}
	if deps.Retry == nil {
		deps.Retry = NewRetryPolicy()
	}
	if deps.Render == nil {
		deps.Render = func(category Category, payload map[string]any) string {
			return fmt.Sprintf("%s: %v", category, payload)
		}
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}

	return &Orchestrator{
		cfg:          cfg,
		planner:      deps.Planner,
		limiter:      deps.Limiter,
		retry:        deps.Retry,
		transport:    deps.Transport,
		render:       deps.Render,
		voice:        deps.Voice,
		bus:          deps.Bus,
		recorder:     deps.Recorder,
		log:          deps.Log,
		voiceLimiter: rate.NewLimiter(rate.Limit(cfg.VoicePerSec), cfg.VoicePerSec),
		ledger:       NewLedger(cfg.HistorySize),
		st:           newStats(),
		now:          time.Now,
	}, nil
}

func (o *Orchestrator) config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Apply updates tunables at runtime. Queue capacities apply to new queues
// only; live queues keep their bound.
func (o *Orchestrator) Apply(cfg Config) {
	o.mu.Lock()
	o.cfg = cfg.withDefaults()
	o.voiceLimiter = rate.NewLimiter(rate.Limit(o.cfg.VoicePerSec), o.cfg.VoicePerSec)
	o.mu.Unlock()
}

// Start launches one drain loop per concrete destination.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	o.sup = rtsup.New(ctx, rtsup.WithLogger(o.log))
	o.queues = map[string]*Queue{}
	for _, dest := range ConcreteDestinations() {
		q := NewQueue(o.cfg.QueueCapacity)
		o.queues[dest] = q
		dest, q := dest, q
		o.sup.Go("drain:"+dest, func(ctx context.Context) error {
			o.drainLoop(ctx, dest, q)
			return nil
		})
	}
	o.running = true
	o.log.Info("delivery orchestrator started",
		logx.Int("destinations", len(o.queues)),
		logx.Int("queue_capacity", o.cfg.QueueCapacity))
}

// Stop signals all drain loops, waits up to the grace period for in-flight
// sends, and records every remaining queued entry as expired. The queue is
// not flushed to the transport.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	sup := o.sup
	queues := o.queues
	grace := o.cfg.StopGrace
	o.mu.Unlock()

	gctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if ok := sup.Stop(gctx); !ok {
		o.log.Warn("drain loops did not stop within grace period")
	}

	for _, q := range queues {
		for _, e := range q.Drain() {
			o.finishEntry(e, StatusExpired, "abandoned at shutdown")
		}
	}
	o.log.Info("delivery orchestrator stopped")
}

func (o *Orchestrator) isRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Deliver routes one notification synchronously where possible: Critical
// priority takes the bypass path and the caller blocks until a terminal
// outcome; anything lower is enqueued and a non-terminal queued record is
// returned (the terminal record lands in the history ledger later).
func (o *Orchestrator) Deliver(ctx context.Context, n Notification) DeliveryRecord {
	plan := o.planner.Plan(n)
	if plan.Filtered {
		return o.finishPlan(n, plan, StatusSkipped, 0, 0, "")
	}
	if plan.Priority == PriorityCritical {
		return o.deliverImmediate(ctx, n, plan)
	}
	if o.enqueuePlan(n, plan) {
		return DeliveryRecord{
			NotificationID: n.ID,
			Category:       n.Category,
			Priority:       plan.Priority,
			Destination:    plan.Destination,
			Status:         StatusQueued,
			CompletedAt:    o.now(),
		}
	}
	// Drop records were already written per destination inside enqueuePlan.
	return DeliveryRecord{
		NotificationID: n.ID,
		Category:       n.Category,
		Priority:       plan.Priority,
		Destination:    plan.Destination,
		Status:         StatusDropped,
		LastError:      ErrQueueFull.Error(),
		CompletedAt:    o.now(),
	}
}

// Enqueue is the fire-and-forget path. Critical notifications still take
// the bypass path, on a background goroutine so the producer never blocks.
func (o *Orchestrator) Enqueue(n Notification) bool {
	plan := o.planner.Plan(n)
	if plan.Filtered {
		o.finishPlan(n, plan, StatusSkipped, 0, 0, "")
		return false
	}
	if plan.Priority == PriorityCritical {
		o.mu.Lock()
		sup := o.sup
		running := o.running
		o.mu.Unlock()
		if !running || sup == nil {
			return false
		}
		sup.Go("bypass:"+n.ID, func(ctx context.Context) error {
			o.deliverImmediate(ctx, n, plan)
			return nil
		})
		return true
	}
	return o.enqueuePlan(n, plan)
}

func (o *Orchestrator) enqueuePlan(n Notification, plan Plan) bool {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return false
	}
	queues := o.queues
	o.mu.Unlock()

	now := o.now()
	accepted := false
	for _, dest := range plan.Destinations {
		q := queues[dest]
		if q == nil {
			continue
		}
		e := &Entry{
			N:           n,
			Priority:    plan.Priority,
			Destination: dest,
			Recipients:  plan.Recipients,
			Voice:       len(plan.VoiceRecipients) > 0,
			EnqueuedAt:  now,
			EligibleAt:  now,
		}
		evicted, err := q.Push(e)
		if evicted != nil {
			o.finishEntry(evicted, StatusDropped, "evicted for capacity")
		}
		if err != nil {
			o.finishEntry(e, StatusDropped, err.Error())
			continue
		}
		accepted = true
		o.st.queued(dest)
		o.publish(eventbus.EventQueued, n, plan.Priority, dest, "")
	}
	return accepted
}

// drainLoop is the single consumer of one destination's queue.
func (o *Orchestrator) drainLoop(ctx context.Context, dest string, q *Queue) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		cfg := o.config()

		for _, e := range q.EvictExpired(o.now(), cfg.EntryTTL) {
			o.finishEntry(e, StatusExpired, "queue ttl exceeded")
		}

		e, ok := q.PopEligible(o.now())
		if !ok {
			if !sleepCtx(ctx, cfg.DrainPoll) {
				return
			}
			continue
		}

		if !o.limiter.WaitForSlot(ctx, dest, cfg.RateWaitTimeout) {
			if ctx.Err() != nil {
				// Shutting down; leave the entry for the shutdown drain.
				_, _ = q.Push(e)
				return
			}
			// Slot wait timed out: defer the entry, not a delivery failure.
			e.EligibleAt = o.now().Add(cfg.RequeueDelay)
			if _, err := q.Push(e); err != nil {
				o.finishEntry(e, StatusDropped, err.Error())
			}
			continue
		}

		o.attempt(ctx, q, e)
	}
}

// attempt performs one transport call for a queued entry and applies the
// retry policy on failure.
func (o *Orchestrator) attempt(ctx context.Context, q *Queue, e *Entry) {
	cfg := o.config()
	e.Attempts++

	// Rendered fresh on every attempt; upstream state may have changed.
	text := o.render(e.N.Category, e.N.Payload)

	cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	err := o.transport(cctx, e.Destination, text, e.Recipients)
	cancel()

	if err == nil {
		o.finishEntry(e, StatusDelivered, "")
		if e.Voice {
			o.voiceAlert(ctx, text, e.N.Payload)
		}
		return
	}

	e.LastError = err.Error()
	if o.retry.ShouldRetry(e.Attempts, err) {
		e.EligibleAt = o.now().Add(o.retry.NextDelay(e.Attempts))
		if _, perr := q.Push(e); perr != nil {
			o.finishEntry(e, StatusDropped, perr.Error())
			return
		}
		o.st.retried(e.Destination)
		o.publish(eventbus.EventRetried, e.N, e.Priority, e.Destination, e.LastError)
		o.log.Debug("delivery retry scheduled",
			logx.String("id", e.N.ID),
			logx.String("destination", e.Destination),
			logx.Int("attempts", e.Attempts),
			logx.String("err", e.LastError))
		return
	}

	o.finishEntry(e, StatusFailed, e.LastError)
}

// deliverImmediate is the bypass path: it never touches the queue and
// suspends the caller until a terminal outcome.
func (o *Orchestrator) deliverImmediate(ctx context.Context, n Notification, plan Plan) DeliveryRecord {
	cfg := o.config()
	start := o.now()
	attemptsTotal := 0
	var lastErr error

	for _, dest := range plan.Destinations {
		attempts := 0
		for {
			if !o.limiter.WaitForSlot(ctx, dest, cfg.ImmediateRateWait) {
				lastErr = fmt.Errorf("rate limiter wait timed out for %s", dest)
				break
			}
			attempts++
			attemptsTotal++

			text := o.render(n.Category, n.Payload)
			cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
			err := o.transport(cctx, dest, text, plan.Recipients)
			cancel()
			if err == nil {
				break
			}
			lastErr = err
			if !o.retry.ShouldRetry(attempts, err) {
				break
			}
			if !sleepCtx(ctx, o.retry.NextDelay(attempts)) {
				break
			}
		}
	}

	status := StatusDelivered
	errText := ""
	if lastErr != nil {
		status = StatusFailed
		errText = lastErr.Error()
	}
	rec := o.finishPlan(n, plan, status, attemptsTotal, o.now().Sub(start), errText)

	if status == StatusDelivered && len(plan.VoiceRecipients) > 0 {
		o.voiceAlert(ctx, o.render(n.Category, n.Payload), n.Payload)
	}
	return rec
}

func (o *Orchestrator) voiceAlert(ctx context.Context, text string, payload map[string]any) {
	if o.voice == nil {
		return
	}
	o.mu.Lock()
	vl := o.voiceLimiter
	o.mu.Unlock()
	if !vl.Allow() {
		o.log.Debug("voice alert throttled")
		return
	}
	if err := o.voice(ctx, text, payload); err != nil {
		// Voice failures never affect the delivery outcome.
		o.log.Warn("voice alert failed", logx.Err(err))
	}
}

// publish emits a non-terminal lifecycle event (queued, retried). Terminal
// events flow through commit.
func (o *Orchestrator) publish(event string, n Notification, priority Priority, dest, errText string) {
	if o.bus == nil {
		return
	}
	now := o.now()
	o.bus.Publish(eventbus.Event{Type: event, Time: now, Data: DeliveryEvent{
		ID:          n.ID,
		Category:    n.Category,
		Priority:    priority.String(),
		Destination: dest,
		Error:       errText,
		At:          now,
	}})
}

// finishEntry records the terminal outcome of a queued entry: exactly one
// ledger record, one counter bump, one recorder call, one bus event.
func (o *Orchestrator) finishEntry(e *Entry, status Status, errText string) {
	if errText == "" {
		errText = e.LastError
	}
	now := o.now()
	rec := DeliveryRecord{
		NotificationID: e.N.ID,
		Category:       e.N.Category,
		Priority:       e.Priority,
		Destination:    e.Destination,
		Status:         status,
		Attempts:       e.Attempts,
		Elapsed:        now.Sub(e.EnqueuedAt),
		LastError:      errText,
		CompletedAt:    now,
	}
	o.commit(rec)
}

func (o *Orchestrator) finishPlan(n Notification, plan Plan, status Status, attempts int, elapsed time.Duration, errText string) DeliveryRecord {
	rec := DeliveryRecord{
		NotificationID: n.ID,
		Category:       n.Category,
		Priority:       plan.Priority,
		Destination:    plan.Destination,
		Status:         status,
		Attempts:       attempts,
		Elapsed:        elapsed,
		LastError:      errText,
		CompletedAt:    o.now(),
	}
	o.commit(rec)
	return rec
}

func (o *Orchestrator) commit(rec DeliveryRecord) {
	o.ledger.Append(rec)

	var event string
	switch rec.Status {
	case StatusDelivered:
		o.st.sent(rec.Destination)
		event = eventbus.EventSent
	case StatusFailed:
		o.st.failed(rec.Destination)
		event = eventbus.EventFailed
	case StatusDropped:
		o.st.dropped(rec.Destination)
		event = eventbus.EventDropped
	case StatusExpired:
		o.st.expired(rec.Destination)
		event = eventbus.EventExpired
	case StatusSkipped:
		o.st.skipped(rec.Destination)
		event = eventbus.EventSkipped
	default:
		return
	}

	if o.recorder != nil {
		o.recorder.Record(rec.Destination, rec.Status)
	}
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: event, Time: rec.CompletedAt, Data: DeliveryEvent{
			ID:          rec.NotificationID,
			Category:    rec.Category,
			Priority:    rec.Priority.String(),
			Destination: rec.Destination,
			Error:       rec.LastError,
			At:          rec.CompletedAt,
		}})
	}

	if rec.Status == StatusFailed {
		o.log.Warn("delivery failed",
			logx.String("id", rec.NotificationID),
			logx.String("destination", rec.Destination),
			logx.Int("attempts", rec.Attempts),
			logx.String("err", rec.LastError))
	}
}

// GetStats returns aggregate counters, the per-destination breakdown,
// current queue depths, and limiter occupancy. Read-only and safe to call
// concurrently with delivery.
func (o *Orchestrator) GetStats() StatsSnapshot {
	total, byDest := o.st.snapshot()
	snap := StatsSnapshot{
		Counters:      total,
		ByDestination: byDest,
		QueueDepth:    map[string]int{},
		RateLimiter:   o.limiter.Stats(),
	}
	o.mu.Lock()
	queues := o.queues
	o.mu.Unlock()
	for dest, q := range queues {
		snap.QueueDepth[dest] = q.Len()
	}
	return snap
}

// GetHistory returns up to limit terminal delivery records, oldest first.
func (o *Orchestrator) GetHistory(limit int) []DeliveryRecord {
	return o.ledger.Recent(limit)
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
