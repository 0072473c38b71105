package notify

import (
	"context"
	"sync"
	"time"
)

// LimiterConfig sets the rolling-window ceilings. Two global windows apply
// simultaneously; each destination additionally caps at its own per-minute
// ceiling.
type LimiterConfig struct {
	PerSecond int // global short-window cap (default 30)
	PerMinute int // global long-window cap (default 20)

	// DestinationPerMinute is the per-destination per-minute cap used when
	// PerDestination has no entry for the destination. Default 20.
	DestinationPerMinute int
	PerDestination       map[string]int

	// ShortWindow/LongWindow override the 1s/60s windows (tests).
	ShortWindow time.Duration
	LongWindow  time.Duration

	// PollInterval is how often WaitForSlot retries TryAcquire. Default 100ms.
	PollInterval time.Duration
}

func (c LimiterConfig) withDefaults() LimiterConfig {
	if c.PerSecond <= 0 {
		c.PerSecond = 30
	}
	if c.PerMinute <= 0 {
		c.PerMinute = 20
	}
	if c.DestinationPerMinute <= 0 {
		c.DestinationPerMinute = 20
	}
	if c.ShortWindow <= 0 {
		c.ShortWindow = time.Second
	}
	if c.LongWindow <= 0 {
		c.LongWindow = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	return c
}

// window is one scope's timestamp ledger with its own mutex, so callers on
// different scopes never contend.
type window struct {
	mu    sync.Mutex
	sent  []time.Time
	limit int
}

// evict drops timestamps older than keep. Caller holds w.mu.
func (w *window) evict(now time.Time, keep time.Duration) {
	cut := 0
	for cut < len(w.sent) && now.Sub(w.sent[cut]) >= keep {
		cut++
	}
	if cut > 0 {
		w.sent = append(w.sent[:0], w.sent[cut:]...)
	}
}

func (w *window) countWithin(now time.Time, d time.Duration) int {
	n := 0
	for i := len(w.sent) - 1; i >= 0; i-- {
		if now.Sub(w.sent[i]) < d {
			n++
		} else {
			break
		}
	}
	return n
}

// Limiter answers "may I send now" against a global dual-window ceiling
// and a per-destination per-minute ceiling. It never blocks in TryAcquire.
type Limiter struct {
	cfg    LimiterConfig
	global window

	mu    sync.Mutex
	dests map[string]*window

	now func() time.Time
}

func NewLimiter(cfg LimiterConfig) *Limiter {
	return &Limiter{
		cfg:   cfg.withDefaults(),
		dests: map[string]*window{},
		now:   time.Now,
	}
}

func (l *Limiter) dest(name string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.dests[name]
	if !ok {
		limit := l.cfg.DestinationPerMinute
		if v, ok := l.cfg.PerDestination[name]; ok && v > 0 {
			limit = v
		}
		w = &window{limit: limit}
		l.dests[name] = w
	}
	return w
}

// TryAcquire reports whether a send to destination is allowed right now,
// and records the send timestamp if it is. Pass an empty destination to
// check only the global ceilings.
func (l *Limiter) TryAcquire(destination string) bool {
	now := l.now()

	l.global.mu.Lock()
	defer l.global.mu.Unlock()
	l.global.evict(now, l.cfg.LongWindow)

	if l.global.countWithin(now, l.cfg.ShortWindow) >= l.cfg.PerSecond {
		return false
	}
	if len(l.global.sent) >= l.cfg.PerMinute {
		return false
	}

	if destination != "" {
		dw := l.dest(destination)
		dw.mu.Lock()
		dw.evict(now, l.cfg.LongWindow)
		if len(dw.sent) >= dw.limit {
			dw.mu.Unlock()
			return false
		}
		dw.sent = append(dw.sent, now)
		dw.mu.Unlock()
	}

	l.global.sent = append(l.global.sent, now)
	return true
}

// WaitForSlot polls TryAcquire until it succeeds, the timeout elapses, or
// ctx is cancelled. Returns false on timeout/cancellation.
func (l *Limiter) WaitForSlot(ctx context.Context, destination string, timeout time.Duration) bool {
	deadline := l.now().Add(timeout)
	t := time.NewTimer(0)
	defer t.Stop()
	<-t.C

	for {
		if l.TryAcquire(destination) {
			return true
		}
		if !l.now().Before(deadline) {
			return false
		}
		t.Reset(l.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
}

// LimiterStats is a point-in-time view for the observability surface.
type LimiterStats struct {
	LastSecond         int            `json:"last_second"`
	LastMinute         int            `json:"last_minute"`
	ActiveDestinations int            `json:"active_destinations"`
	PerDestination     map[string]int `json:"per_destination"`
}

func (l *Limiter) Stats() LimiterStats {
	now := l.now()

	l.global.mu.Lock()
	l.global.evict(now, l.cfg.LongWindow)
	st := LimiterStats{
		LastSecond: l.global.countWithin(now, l.cfg.ShortWindow),
		LastMinute: len(l.global.sent),
	}
	l.global.mu.Unlock()

	l.mu.Lock()
	names := make([]string, 0, len(l.dests))
	for name := range l.dests {
		names = append(names, name)
	}
	l.mu.Unlock()

	st.PerDestination = make(map[string]int, len(names))
	for _, name := range names {
		dw := l.dest(name)
		dw.mu.Lock()
		dw.evict(now, l.cfg.LongWindow)
		if n := len(dw.sent); n > 0 {
			st.PerDestination[name] = n
		}
		dw.mu.Unlock()
	}
	st.ActiveDestinations = len(st.PerDestination)
	return st
}
