package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"zepixnotify/internal/notify"
	"zepixnotify/internal/storage"
	"zepixnotify/pkg/logx"
)

// Gate owns the recipient preference store. It is read-mostly: delivery
// decisions take the read lock, mutations take the write lock and write
// through to storage when one is attached.
type Gate struct {
	mu         sync.RWMutex
	recipients map[notify.RecipientID]*Settings

	store storage.Store // optional
	log   logx.Logger

	now func() time.Time
}

func NewGate(store storage.Store, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{
		recipients: map[notify.RecipientID]*Settings{},
		store:      store,
		log:        log,
		now:        time.Now,
	}
}

// Load replaces the in-memory set with whatever the store holds.
// Documents that fail to decode are skipped, not fatal.
func (g *Gate) Load(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	docs, err := g.store.ListPreferences(ctx)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	loaded := map[notify.RecipientID]*Settings{}
	for id, doc := range docs {
		s := DefaultSettings()
		if err := json.Unmarshal(doc, &s); err != nil {
			g.log.Warn("skipping malformed preference document",
				logx.Int64("recipient", id), logx.Err(err))
			continue
		}
		loaded[notify.RecipientID(id)] = &s
	}
	g.mu.Lock()
	g.recipients = loaded
	g.mu.Unlock()
	g.log.Info("preferences loaded", logx.Int("recipients", len(loaded)))
	return nil
}

// Get returns a copy of the recipient's settings, defaults if none exist.
func (g *Gate) Get(id notify.RecipientID) Settings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s, ok := g.recipients[id]; ok {
		return *s
	}
	return DefaultSettings()
}

// mutate applies f to a fresh clone of the recipient's settings and swaps
// it in, so readers holding a Get copy never observe in-place slice edits.
// The result is written through to storage; persistence failures are
// logged, never surfaced into the delivery path.
func (g *Gate) mutate(id notify.RecipientID, f func(*Settings)) {
	g.mu.Lock()
	next := DefaultSettings()
	if cur, ok := g.recipients[id]; ok {
		next = cur.clone()
	}
	f(&next)
	g.recipients[id] = &next
	doc, err := json.Marshal(&next)
	g.mu.Unlock()

	if g.store == nil {
		return
	}
	if err != nil {
		g.log.Error("encode preference document", logx.Int64("recipient", int64(id)), logx.Err(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := g.store.PutPreferences(ctx, int64(id), doc); err != nil {
		g.log.Error("persist preference document", logx.Int64("recipient", int64(id)), logx.Err(err))
	}
}

func (g *Gate) SetMode(id notify.RecipientID, mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid mode %q", mode)
	}
	g.mutate(id, func(s *Settings) { s.Mode = mode })
	return nil
}

func (g *Gate) SetVoiceMode(id notify.RecipientID, mode VoiceMode) error {
	switch mode {
	case VoiceAuto, VoiceCriticalOnly, VoiceOff:
	default:
		return fmt.Errorf("invalid voice mode %q", mode)
	}
	g.mutate(id, func(s *Settings) { s.Voice = mode })
	return nil
}

func (g *Gate) SetQuietHours(id notify.RecipientID, q QuietHours) error {
	if q.Enabled {
		if _, err := parseClock(q.Start); err != nil {
			return err
		}
		if _, err := parseClock(q.End); err != nil {
			return err
		}
	}
	g.mutate(id, func(s *Settings) { s.QuietHours = q })
	return nil
}

func (g *Gate) SetFilter(id notify.RecipientID, f Filter) {
	g.mutate(id, func(s *Settings) {
		cp := f
		s.Filter = &cp
		s.Mode = ModeCustom
	})
}

func (g *Gate) MuteCategory(id notify.RecipientID, c notify.Category) {
	g.mutate(id, func(s *Settings) {
		if !containsCategory(s.MutedCategories, c) {
			s.MutedCategories = append(s.MutedCategories, c)
		}
	})
}

func (g *Gate) UnmuteCategory(id notify.RecipientID, c notify.Category) {
	g.mutate(id, func(s *Settings) {
		s.MutedCategories = removeCategory(s.MutedCategories, c)
	})
}

func (g *Gate) MuteSymbol(id notify.RecipientID, symbol string) {
	g.mutate(id, func(s *Settings) {
		if !containsFold(s.MutedSymbols, symbol) {
			s.MutedSymbols = append(s.MutedSymbols, symbol)
		}
	})
}

func (g *Gate) UnmuteSymbol(id notify.RecipientID, symbol string) {
	g.mutate(id, func(s *Settings) {
		s.MutedSymbols = removeFold(s.MutedSymbols, symbol)
	})
}

func (g *Gate) MutePlugin(id notify.RecipientID, plugin string) {
	g.mutate(id, func(s *Settings) {
		if !containsFold(s.MutedPlugins, plugin) {
			s.MutedPlugins = append(s.MutedPlugins, plugin)
		}
	})
}

func (g *Gate) UnmutePlugin(id notify.RecipientID, plugin string) {
	g.mutate(id, func(s *Settings) {
		s.MutedPlugins = removeFold(s.MutedPlugins, plugin)
	})
}

// ShouldDeliver decides whether the recipient receives this notification.
// Rules are evaluated in order; the first matching rule wins, otherwise
// delivery is allowed.
func (g *Gate) ShouldDeliver(id notify.RecipientID, category notify.Category, priority notify.Priority, ctx Context) bool {
	s := g.Get(id)

	if s.Mode == ModeMuted {
		return false
	}
	if s.QuietHours.ActiveAt(g.now()) {
		if priority < notify.PriorityCritical || !s.QuietHours.AllowCritical {
			return false
		}
	}
	if s.Mode == ModeCriticalOnly && priority < notify.PriorityCritical {
		return false
	}
	if s.Mode == ModeImportantOnly && priority < notify.PriorityHigh {
		return false
	}
	if containsCategory(s.MutedCategories, category) {
		return false
	}
	if ctx.Symbol != "" && containsFold(s.MutedSymbols, ctx.Symbol) {
		return false
	}
	if ctx.Plugin != "" && containsFold(s.MutedPlugins, ctx.Plugin) {
		return false
	}
	if s.Mode == ModeCustom && s.Filter != nil {
		return s.Filter.Pass(category, priority, ctx)
	}
	return true
}

// ShouldEscalateVoice decides whether delivery to this recipient also
// raises a voice alert. It presumes ShouldDeliver already passed.
func (g *Gate) ShouldEscalateVoice(id notify.RecipientID, category notify.Category, priority notify.Priority) bool {
	_ = category
	if !priority.VoiceEligible() {
		return false
	}
	s := g.Get(id)
	switch s.Voice {
	case VoiceOff:
		return false
	case VoiceCriticalOnly:
		return priority >= notify.PriorityCritical
	default:
		return true
	}
}

func removeCategory(list []notify.Category, c notify.Category) []notify.Category {
	out := make([]notify.Category, 0, len(list))
	for _, v := range list {
		if v != c {
			out = append(out, v)
		}
	}
	return out
}

func removeFold(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if !strings.EqualFold(v, s) {
			out = append(out, v)
		}
	}
	return out
}
