// Package prefs holds per-recipient delivery preferences and the gate
// that decides, per notification, whether a recipient receives it and
// whether it escalates to a voice alert.
package prefs

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"zepixnotify/internal/notify"
)

// Mode is a recipient's overall delivery mode.
type Mode string

const (
	ModeAll           Mode = "all"
	ModeImportantOnly Mode = "important_only"
	ModeCriticalOnly  Mode = "critical_only"
	ModeMuted         Mode = "muted"
	ModeCustom        Mode = "custom"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeAll, ModeImportantOnly, ModeCriticalOnly, ModeMuted, ModeCustom:
		return true
	}
	return false
}

// VoiceMode controls voice escalation independently of delivery itself.
type VoiceMode string

const (
	// VoiceAuto escalates whenever the priority is voice-eligible.
	VoiceAuto VoiceMode = "auto"
	// VoiceCriticalOnly escalates Critical only.
	VoiceCriticalOnly VoiceMode = "critical_only"
	VoiceOff          VoiceMode = "off"
)

// QuietHours is a daily suppression window. A Start later in the day than
// End means the window wraps midnight and is active overnight.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"` // "HH:MM"
	End     string `json:"end"`   // "HH:MM"
	// AllowCritical lets Critical priority through an active window.
	AllowCritical bool `json:"allow_critical"`
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return hh*60 + mm, nil
}

// ActiveAt reports whether the window is active at t (local time of t).
func (q QuietHours) ActiveAt(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}
	cur := t.Hour()*60 + t.Minute()
	if start < end {
		return cur >= start && cur < end
	}
	// Wraps midnight: active from start until end the next day.
	return cur >= start || cur < end
}

// Filter is the custom-mode predicate. Zero-valued fields do not
// constrain.
type Filter struct {
	IncludeCategories []notify.Category `json:"include_categories,omitempty"`
	ExcludeCategories []notify.Category `json:"exclude_categories,omitempty"`
	IncludeSymbols    []string          `json:"include_symbols,omitempty"`
	ExcludeSymbols    []string          `json:"exclude_symbols,omitempty"`
	MinPriority       notify.Priority   `json:"min_priority,omitempty"`
	// MinAbsProfit suppresses profit-bearing notifications whose absolute
	// profit is below the threshold. Notifications without a profit field
	// are unaffected.
	MinAbsProfit float64 `json:"min_abs_profit,omitempty"`
}

// Context is the optional notification context the gate consults:
// trading symbol, originating plugin, and profit amount when present.
type Context struct {
	Symbol    string
	Plugin    string
	Profit    float64
	HasProfit bool
}

// ContextFromPayload extracts gate context from a notification payload.
func ContextFromPayload(payload map[string]any) Context {
	var c Context
	if s, ok := payload["symbol"].(string); ok {
		c.Symbol = s
	}
	if s, ok := payload["plugin"].(string); ok {
		c.Plugin = s
	}
	switch v := payload["profit"].(type) {
	case float64:
		c.Profit, c.HasProfit = v, true
	case int:
		c.Profit, c.HasProfit = float64(v), true
	case int64:
		c.Profit, c.HasProfit = float64(v), true
	}
	return c
}

// Pass evaluates the filter. Exclusions win over inclusions.
func (f Filter) Pass(category notify.Category, priority notify.Priority, ctx Context) bool {
	if f.MinPriority > 0 && priority < f.MinPriority {
		return false
	}
	for _, c := range f.ExcludeCategories {
		if c == category {
			return false
		}
	}
	if len(f.IncludeCategories) > 0 && !containsCategory(f.IncludeCategories, category) {
		return false
	}
	if ctx.Symbol != "" {
		for _, s := range f.ExcludeSymbols {
			if strings.EqualFold(s, ctx.Symbol) {
				return false
			}
		}
		if len(f.IncludeSymbols) > 0 && !containsFold(f.IncludeSymbols, ctx.Symbol) {
			return false
		}
	}
	if f.MinAbsProfit > 0 && ctx.HasProfit {
		abs := ctx.Profit
		if abs < 0 {
			abs = -abs
		}
		if abs < f.MinAbsProfit {
			return false
		}
	}
	return true
}

func containsCategory(list []notify.Category, c notify.Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Settings is one recipient's full preference document. It is the unit
// of persistence; field names are the stored JSON schema.
type Settings struct {
	Mode            Mode              `json:"mode"`
	Voice           VoiceMode         `json:"voice"`
	QuietHours      QuietHours        `json:"quiet_hours"`
	MutedCategories []notify.Category `json:"muted_categories,omitempty"`
	MutedSymbols    []string          `json:"muted_symbols,omitempty"`
	MutedPlugins    []string          `json:"muted_plugins,omitempty"`
	Filter          *Filter           `json:"filter,omitempty"`
}

// clone deep-copies the document so copy-on-write mutation never aliases
// slices a reader may still hold.
func (s Settings) clone() Settings {
	out := s
	out.MutedCategories = append([]notify.Category(nil), s.MutedCategories...)
	out.MutedSymbols = append([]string(nil), s.MutedSymbols...)
	out.MutedPlugins = append([]string(nil), s.MutedPlugins...)
	if s.Filter != nil {
		f := *s.Filter
		f.IncludeCategories = append([]notify.Category(nil), s.Filter.IncludeCategories...)
		f.ExcludeCategories = append([]notify.Category(nil), s.Filter.ExcludeCategories...)
		f.IncludeSymbols = append([]string(nil), s.Filter.IncludeSymbols...)
		f.ExcludeSymbols = append([]string(nil), s.Filter.ExcludeSymbols...)
		out.Filter = &f
	}
	return out
}

// DefaultSettings is what a recipient gets before any mutation.
func DefaultSettings() Settings {
	return Settings{
		Mode:       ModeAll,
		Voice:      VoiceAuto,
		QuietHours: QuietHours{AllowCritical: true},
	}
}
