package notify

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindTransient},
		{"network", errors.New("temporary network error"), KindTransient},
		{"timeout", errors.New("context deadline exceeded"), KindTransient},
		{"blocked text", errors.New("user blocked the bot"), KindPermanent},
		{"chat not found text", errors.New("telegram: chat not found (404)"), KindPermanent},
		{"unauthorized text", errors.New("Unauthorized"), KindPermanent},
		{"forbidden text", errors.New("403 Forbidden"), KindPermanent},
		{"invalid token text", errors.New("invalid token supplied"), KindPermanent},
		{"wrapped sentinel", fmt.Errorf("send: %w", ErrBlockedByRecipient), KindPermanent},
		{"wrapped not found", fmt.Errorf("send: %w", ErrRecipientNotFound), KindPermanent},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy()

	if p.ShouldRetry(p.MaxAttempts, errors.New("any")) {
		t.Fatal("retry at the attempt cap must be refused")
	}
	if p.ShouldRetry(1, errors.New("user blocked")) {
		t.Fatal("permanent error must short-circuit retry")
	}
	if !p.ShouldRetry(1, errors.New("temporary network error")) {
		t.Fatal("transient error under the cap must be retried")
	}
	if !p.ShouldRetry(2, nil) {
		t.Fatal("nil error under the cap must be retried")
	}
}

func TestNextDelaySchedule(t *testing.T) {
	t.Parallel()
	p := &RetryPolicy{
		MaxAttempts:     5,
		BaseDelay:       time.Second,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 2.0,
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	var prev time.Duration
	for i, w := range want {
		got := p.NextDelay(i + 1)
		if got != w {
			t.Fatalf("NextDelay(%d) = %v, want %v", i+1, got, w)
		}
		if got < prev {
			t.Fatalf("NextDelay not monotonic: %v after %v", got, prev)
		}
		prev = got
	}
}

func TestNextDelayJitterBounds(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy()
	p.SeedRand(rand.NewSource(1))

	for i := 0; i < 100; i++ {
		d := p.NextDelay(2) // nominal 2s
		lo, hi := 1800*time.Millisecond, 2200*time.Millisecond
		if d < lo || d > hi {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, lo, hi)
		}
	}
}
