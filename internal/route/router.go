// Package route maps a notification's category to its effective priority
// and destination set, then applies per-recipient preference gating. The
// result is the delivery plan the orchestrator executes.
package route

import (
	"zepixnotify/internal/notify"
	"zepixnotify/internal/prefs"
	"zepixnotify/pkg/logx"
)

// defaultCategoryPriority is the built-in category to priority table.
// Categories absent here fall back to Info.
var defaultCategoryPriority = map[notify.Category]notify.Priority{
	notify.CategoryTradeEntry:    notify.PriorityHigh,
	notify.CategoryTradeExit:     notify.PriorityHigh,
	notify.CategoryTPHit:         notify.PriorityHigh,
	notify.CategorySLHit:         notify.PriorityHigh,
	notify.CategoryPartialProfit: notify.PriorityMedium,
	notify.CategoryBreakeven:     notify.PriorityMedium,
	notify.CategoryDailySummary:  notify.PriorityLow,
	notify.CategoryWeeklySummary: notify.PriorityLow,
	notify.CategoryBotStarted:    notify.PriorityInfo,
	notify.CategoryBotStopped:    notify.PriorityInfo,
	notify.CategoryEmergencyStop: notify.PriorityCritical,
	notify.CategoryConnLost:      notify.PriorityCritical,
	notify.CategoryConnRestored:  notify.PriorityMedium,
	notify.CategoryPluginError:   notify.PriorityHigh,
	notify.CategoryRiskAlert:     notify.PriorityHigh,
	notify.CategoryGeneric:       notify.PriorityInfo,
}

// Config tunes the router. All fields are optional.
type Config struct {
	// DefaultRecipients receive notifications that carry no explicit
	// recipient list.
	DefaultRecipients []notify.RecipientID
	// PriorityOverrides replaces the built-in category priority for the
	// listed categories.
	PriorityOverrides map[notify.Category]notify.Priority
	// DestinationOverrides pins a category to a fixed destination instead
	// of the priority's default.
	DestinationOverrides map[notify.Category]string
}

// Router implements notify.Planner.
type Router struct {
	cfg  Config
	gate *prefs.Gate
	log  logx.Logger
}

func New(cfg Config, gate *prefs.Gate, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{cfg: cfg, gate: gate, log: log}
}

// Priority resolves the effective priority for a notification: explicit
// value first, then override table, then the built-in default.
func (r *Router) Priority(n notify.Notification) notify.Priority {
	if n.Priority != 0 {
		return n.Priority
	}
	if p, ok := r.cfg.PriorityOverrides[n.Category]; ok {
		return p
	}
	if p, ok := defaultCategoryPriority[n.Category]; ok {
		return p
	}
	return notify.PriorityInfo
}

// Destination resolves the route label before broadcast expansion.
func (r *Router) Destination(n notify.Notification, p notify.Priority) string {
	if d, ok := r.cfg.DestinationOverrides[n.Category]; ok {
		return d
	}
	return p.DefaultDestination()
}

// Plan resolves priority and destinations, then gates each recipient.
// A plan whose recipients were all filtered out of a non-empty audience
// is flagged so the orchestrator records a skip instead of sending.
func (r *Router) Plan(n notify.Notification) notify.Plan {
	p := r.Priority(n)
	dest := r.Destination(n, p)

	plan := notify.Plan{
		Priority:    p,
		Destination: dest,
	}
	if dest == notify.DestBroadcast {
		plan.Destinations = notify.ConcreteDestinations()
	} else {
		plan.Destinations = []string{dest}
	}

	audience := n.Recipients
	if len(audience) == 0 {
		audience = r.cfg.DefaultRecipients
	}
	if len(audience) == 0 || r.gate == nil {
		plan.Recipients = audience
		return plan
	}

	gctx := prefs.ContextFromPayload(n.Payload)
	for _, id := range audience {
		if !r.gate.ShouldDeliver(id, n.Category, p, gctx) {
			continue
		}
		plan.Recipients = append(plan.Recipients, id)
		if r.gate.ShouldEscalateVoice(id, n.Category, p) {
			plan.VoiceRecipients = append(plan.VoiceRecipients, id)
		}
	}
	if len(plan.Recipients) == 0 {
		plan.Filtered = true
		r.log.Debug("all recipients filtered",
			logx.String("id", n.ID),
			logx.String("category", string(n.Category)),
			logx.Int("audience", len(audience)))
	}
	return plan
}
