package notify

import "sync"

// Ledger is a bounded, append-only ring of terminal delivery records.
// Appends are O(1); the oldest record is evicted past capacity.
type Ledger struct {
	mu      sync.Mutex
	records []DeliveryRecord
	next    int
	full    bool
}

func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Ledger{records: make([]DeliveryRecord, capacity)}
}

func (l *Ledger) Append(r DeliveryRecord) {
	l.mu.Lock()
	l.records[l.next] = r
	l.next++
	if l.next == len(l.records) {
		l.next = 0
		l.full = true
	}
	l.mu.Unlock()
}

// Recent returns up to limit records, oldest first, newest last. A limit
// of zero or less returns everything retained.
func (l *Ledger) Recent(limit int) []DeliveryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.records)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]DeliveryRecord, 0, limit)
	start := l.next - limit
	if start < 0 {
		start += len(l.records)
	}
	for i := 0; i < limit; i++ {
		out = append(out, l.records[(start+i)%len(l.records)])
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.records)
	}
	return l.next
}
