package notify

import (
	"testing"
)

func TestNewNotificationValidates(t *testing.T) {
	t.Parallel()
	n, err := NewNotification(CategoryTPHit, map[string]any{"symbol": "BTCUSDT", "profit": 12.5})
	if err != nil {
		t.Fatal(err)
	}
	if n.ID == "" || n.CreatedAt.IsZero() {
		t.Fatalf("notification not populated: %+v", n)
	}

	if _, err := NewNotification(CategoryTPHit, map[string]any{"symbol": "BTCUSDT"}); err == nil {
		t.Fatal("missing required field must be rejected")
	}
	if _, err := NewNotification(CategoryGeneric, map[string]any{"nested": map[string]any{}}); err == nil {
		t.Fatal("non-primitive payload value must be rejected")
	}
}

func TestNotificationIDsUnique(t *testing.T) {
	t.Parallel()
	a, _ := NewNotification(CategoryGeneric, nil)
	b, _ := NewNotification(CategoryGeneric, nil)
	if a.ID == b.ID {
		t.Fatalf("duplicate IDs: %s", a.ID)
	}
}

func TestPriorityDefaults(t *testing.T) {
	t.Parallel()
	cases := []struct {
		p     Priority
		dest  string
		voice bool
	}{
		{PriorityCritical, DestBroadcast, true},
		{PriorityHigh, DestNotification, true},
		{PriorityMedium, DestNotification, false},
		{PriorityLow, DestAnalytics, false},
		{PriorityInfo, DestController, false},
	}
	for _, tc := range cases {
		if got := tc.p.DefaultDestination(); got != tc.dest {
			t.Errorf("%s: destination %s, want %s", tc.p, got, tc.dest)
		}
		if got := tc.p.VoiceEligible(); got != tc.voice {
			t.Errorf("%s: voice %v, want %v", tc.p, got, tc.voice)
		}
	}
}

func TestParsePriority(t *testing.T) {
	t.Parallel()
	if p, err := ParsePriority("critical"); err != nil || p != PriorityCritical {
		t.Fatalf("got %v, %v", p, err)
	}
	if p, err := ParsePriority(""); err != nil || p != 0 {
		t.Fatalf("empty should be zero: %v, %v", p, err)
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Fatal("unknown name must be rejected")
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()
	if StatusQueued.Terminal() {
		t.Fatal("queued is not terminal")
	}
	for _, s := range []Status{StatusDelivered, StatusFailed, StatusDropped, StatusExpired, StatusSkipped} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}
