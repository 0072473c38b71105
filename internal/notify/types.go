package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// RecipientID identifies an individual subscriber. Recipient preferences
// gate delivery independently of destination routing.
type RecipientID int64

// Priority is the five-level delivery priority scale.
// Higher values win; Critical bypasses the queue entirely.
type Priority int

const (
	PriorityInfo Priority = iota + 1
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	case PriorityInfo:
		return "info"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// DefaultDestination returns the output channel a priority routes to when
// the notification does not override it.
func (p Priority) DefaultDestination() string {
	switch p {
	case PriorityCritical:
		return DestBroadcast
	case PriorityHigh, PriorityMedium:
		return DestNotification
	case PriorityLow:
		return DestAnalytics
	default:
		return DestController
	}
}

// ParsePriority resolves a priority name. Empty input returns zero, which
// callers treat as "use the category default".
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "":
		return 0, nil
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	case "info":
		return PriorityInfo, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// VoiceEligible reports whether this priority may escalate to a voice alert.
func (p Priority) VoiceEligible() bool {
	return p >= PriorityHigh
}

// Category is the semantic type of a notification.
type Category string

const (
	CategoryTradeEntry    Category = "trade-entry"
	CategoryTradeExit     Category = "trade-exit"
	CategoryTPHit         Category = "tp-hit"
	CategorySLHit         Category = "sl-hit"
	CategoryPartialProfit Category = "partial-profit"
	CategoryBreakeven     Category = "breakeven"
	CategoryDailySummary  Category = "daily-summary"
	CategoryWeeklySummary Category = "weekly-summary"
	CategoryBotStarted    Category = "bot-started"
	CategoryBotStopped    Category = "bot-stopped"
	CategoryEmergencyStop Category = "emergency-stop"
	CategoryConnLost      Category = "connectivity-lost"
	CategoryConnRestored  Category = "connectivity-restored"
	CategoryPluginError   Category = "plugin-error"
	CategoryRiskAlert     Category = "risk-alert"
	CategoryGeneric       Category = "generic"
)

// Destination names. Each concrete destination owns its own queue, drain
// loop, and rate-limiter scope. DestBroadcast is a pseudo-destination that
// fans out to every concrete one.
const (
	DestController   = "controller"
	DestNotification = "notification"
	DestAnalytics    = "analytics"
	DestBroadcast    = "broadcast"
)

// ConcreteDestinations lists the real output channels, i.e. everything
// except the broadcast pseudo-destination.
func ConcreteDestinations() []string {
	return []string{DestController, DestNotification, DestAnalytics}
}

// Notification is the producer-facing request. It is immutable after
// construction; delivery bookkeeping lives on the queued Entry.
type Notification struct {
	ID       string
	Category Category
	// Priority overrides the category default when non-zero.
	Priority Priority
	// Payload carries the semantic fields the (external) renderer needs.
	// Values are restricted to primitives; see Validate.
	Payload map[string]any
	// Recipients, when non-empty, replaces the configured default
	// recipient set for this notification.
	Recipients []RecipientID
	CreatedAt  time.Time
}

var notifSeq atomic.Uint64

// NewNotification builds a notification with a generated ID and validates
// the payload for the category. The returned value should be treated as
// read-only.
func NewNotification(category Category, payload map[string]any) (Notification, error) {
	n := Notification{
		ID:        fmt.Sprintf("ntf-%d-%06d", time.Now().Unix(), notifSeq.Add(1)),
		Category:  category,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := n.Validate(); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// requiredPayloadFields maps a category to the payload keys the renderer
// cannot do without. Categories absent from the map have no requirements.
var requiredPayloadFields = map[Category][]string{
	CategoryTradeEntry:    {"symbol", "direction", "entry_price"},
	CategoryTradeExit:     {"symbol", "direction", "profit"},
	CategoryTPHit:         {"symbol", "profit"},
	CategorySLHit:         {"symbol", "profit"},
	CategoryPartialProfit: {"symbol", "profit"},
	CategoryBreakeven:     {"symbol"},
	CategoryEmergencyStop: {"message"},
	CategoryPluginError:   {"plugin", "message"},
	CategoryRiskAlert:     {"message"},
}

// Validate checks category-specific required payload fields and rejects
// non-primitive payload values. It is run once at construction.
func (n Notification) Validate() error {
	for k, v := range n.Payload {
		switch v.(type) {
		case nil, string, bool, int, int64, float64:
		default:
			return fmt.Errorf("payload field %q: unsupported type %T", k, v)
		}
	}
	for _, k := range requiredPayloadFields[n.Category] {
		if _, ok := n.Payload[k]; !ok {
			return fmt.Errorf("category %s: missing payload field %q", n.Category, k)
		}
	}
	return nil
}

// Status is the outcome recorded for a delivery.
type Status string

const (
	// StatusQueued is returned from Deliver for the non-critical path;
	// it is not a terminal state and never enters the history ledger.
	StatusQueued Status = "queued"

	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	// StatusDropped marks an entry rejected or evicted for capacity.
	StatusDropped Status = "dropped"
	// StatusExpired marks an entry that outlived the queue TTL or was
	// abandoned at shutdown.
	StatusExpired Status = "expired"
	// StatusSkipped marks a deliberate no-op: every recipient was
	// filtered out by preference gating. Not a failure.
	StatusSkipped Status = "skipped"
)

// Terminal reports whether no further action will occur for the notification.
func (s Status) Terminal() bool { return s != StatusQueued }

// DeliveryRecord is the terminal outcome of one notification's delivery
// attempt sequence. Records are append-only and never mutated after being
// handed to the ledger.
type DeliveryRecord struct {
	NotificationID string        `json:"notification_id"`
	Category       Category      `json:"category"`
	Priority       Priority      `json:"priority"`
	Destination    string        `json:"destination"`
	Status         Status        `json:"status"`
	Attempts       int           `json:"attempts"`
	Elapsed        time.Duration `json:"elapsed"`
	LastError      string        `json:"last_error,omitempty"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// Plan is the routing decision for one notification: effective priority,
// the concrete destinations to hit, and the recipients that survived
// preference gating.
type Plan struct {
	Priority Priority
	// Destination is the pre-expansion route label ("broadcast" stays
	// "broadcast" here); Destinations is the expanded concrete set.
	Destination  string
	Destinations []string
	Recipients   []RecipientID
	// VoiceRecipients is the subset of Recipients whose preferences
	// escalate this notification to a voice alert.
	VoiceRecipients []RecipientID
	// Filtered is set when the notification addressed a non-empty
	// recipient set and preference gating removed every one of them.
	// The orchestrator records such plans as skipped without sending.
	Filtered bool
}

// Planner resolves a notification into a Plan. Implemented by the router;
// kept as an interface here so the orchestrator carries no routing policy.
type Planner interface {
	Plan(n Notification) Plan
}

// SendFunc is the injected transport callback. It is the only way the
// core emits a message.
type SendFunc func(ctx context.Context, destination string, text string, recipients []RecipientID) error

// RenderFunc produces the message text for a delivery attempt. It is
// called once per attempt, never cached across retries.
type RenderFunc func(category Category, payload map[string]any) string

// VoiceFunc raises a voice alert. Failures are logged and never affect
// the delivery outcome.
type VoiceFunc func(ctx context.Context, text string, payload map[string]any) error

// Recorder receives every terminal outcome, once, for external metrics.
type Recorder interface {
	Record(destination string, status Status)
}
