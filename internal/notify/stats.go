package notify

import "sync"

// Counters is one scope's aggregate delivery counters.
type Counters struct {
	Queued  uint64 `json:"queued"`
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Retried uint64 `json:"retried"`
	Dropped uint64 `json:"dropped"`
	Expired uint64 `json:"expired"`
	Skipped uint64 `json:"skipped"`
}

// StatsSnapshot is the read-only view returned by GetStats.
type StatsSnapshot struct {
	Counters
	ByDestination map[string]Counters `json:"by_destination"`
	QueueDepth    map[string]int      `json:"queue_depth"`
	RateLimiter   LimiterStats        `json:"rate_limiter"`
}

type stats struct {
	mu     sync.Mutex
	total  Counters
	byDest map[string]*Counters
}

func newStats() *stats {
	return &stats{byDest: map[string]*Counters{}}
}

func (s *stats) dest(name string) *Counters {
	c, ok := s.byDest[name]
	if !ok {
		c = &Counters{}
		s.byDest[name] = c
	}
	return c
}

func (s *stats) bump(dest string, f func(*Counters)) {
	s.mu.Lock()
	f(&s.total)
	if dest != "" {
		f(s.dest(dest))
	}
	s.mu.Unlock()
}

func (s *stats) queued(dest string)  { s.bump(dest, func(c *Counters) { c.Queued++ }) }
func (s *stats) sent(dest string)    { s.bump(dest, func(c *Counters) { c.Sent++ }) }
func (s *stats) failed(dest string)  { s.bump(dest, func(c *Counters) { c.Failed++ }) }
func (s *stats) retried(dest string) { s.bump(dest, func(c *Counters) { c.Retried++ }) }
func (s *stats) dropped(dest string) { s.bump(dest, func(c *Counters) { c.Dropped++ }) }
func (s *stats) expired(dest string) { s.bump(dest, func(c *Counters) { c.Expired++ }) }
func (s *stats) skipped(dest string) { s.bump(dest, func(c *Counters) { c.Skipped++ }) }

func (s *stats) snapshot() (Counters, map[string]Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	by := make(map[string]Counters, len(s.byDest))
	for name, c := range s.byDest {
		by[name] = *c
	}
	return s.total, by
}
