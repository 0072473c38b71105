package notify

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Sentinel errors transports may wrap to classify failures without relying
// on message text.
var (
	ErrRecipientNotFound  = errors.New("recipient not found")
	ErrBlockedByRecipient = errors.New("blocked by recipient")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
)

// ErrorKind classifies a transport error for retry purposes.
type ErrorKind int

const (
	// KindTransient errors are retried per policy.
	KindTransient ErrorKind = iota
	// KindPermanent errors short-circuit retry immediately.
	KindPermanent
)

var permanentSentinels = []error{
	ErrRecipientNotFound,
	ErrBlockedByRecipient,
	ErrInvalidCredentials,
	ErrForbidden,
}

// permanentSubstrings is the observed-behavior fallback for transports that
// only surface text. Matched case-insensitively.
var permanentSubstrings = []string{
	"chat not found",
	"recipient not found",
	"user not found",
	"blocked",
	"invalid token",
	"invalid credentials",
	"unauthorized",
	"forbidden",
}

// Classify is the single place a delivery error is sorted into transient
// vs. permanent. Typed sentinels win; the substring match preserves the
// behavior of transports that only return text.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindTransient
	}
	for _, s := range permanentSentinels {
		if errors.Is(err, s) {
			return KindPermanent
		}
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range permanentSubstrings {
		if strings.Contains(msg, sub) {
			return KindPermanent
		}
	}
	return KindTransient
}

// RetryPolicy decides whether a failed attempt is retried and how long to
// back off: base * exponentialBase^(attempt-1), capped, with uniform
// ± jitter.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	// Jitter is the noise fraction (0.1 = ±10%). Zero disables jitter.
	Jitter float64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewRetryPolicy returns the default policy: 3 attempts, 1s base, 2.0
// exponential base, 60s cap, 10% jitter.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          0.1,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SeedRand replaces the jitter source. Used by tests for determinism.
func (p *RetryPolicy) SeedRand(src rand.Source) {
	p.rngMu.Lock()
	p.rng = rand.New(src)
	p.rngMu.Unlock()
}

// ShouldRetry reports whether another attempt is allowed after attempts
// tries, the last of which failed with lastErr.
func (p *RetryPolicy) ShouldRetry(attempts int, lastErr error) bool {
	if attempts >= p.MaxAttempts {
		return false
	}
	if lastErr != nil && Classify(lastErr) == KindPermanent {
		return false
	}
	return true
}

// NextDelay returns how long to wait before the attempt following the
// given (1-based) attempt count.
func (p *RetryPolicy) NextDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempts-1))
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	if p.Jitter > 0 {
		p.rngMu.Lock()
		if p.rng == nil {
			p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		noise := (p.rng.Float64()*2 - 1) * p.Jitter * d
		p.rngMu.Unlock()
		d += noise
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}
