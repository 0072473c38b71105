package app

import (
	"fmt"
	"sort"
	"strings"

	"zepixnotify/internal/notify"
)

// Render is the default message formatter. Hosts embedding the pipeline
// can supply their own notify.RenderFunc instead.
func Render(category notify.Category, payload map[string]any) string {
	switch category {
	case notify.CategoryTradeEntry:
		return fmt.Sprintf("\U0001F4C8 %s %s entry @ %v",
			str(payload, "symbol"), str(payload, "direction"), payload["entry_price"])
	case notify.CategoryTradeExit:
		return fmt.Sprintf("%s %s %s closed, profit %v",
			profitEmoji(payload), str(payload, "symbol"), str(payload, "direction"), payload["profit"])
	case notify.CategoryTPHit:
		return fmt.Sprintf("✅ %s take profit hit, profit %v",
			str(payload, "symbol"), payload["profit"])
	case notify.CategorySLHit:
		return fmt.Sprintf("\U0001F6D1 %s stop loss hit, loss %v",
			str(payload, "symbol"), payload["profit"])
	case notify.CategoryPartialProfit:
		return fmt.Sprintf("\U0001F4B0 %s partial profit taken: %v",
			str(payload, "symbol"), payload["profit"])
	case notify.CategoryBreakeven:
		return fmt.Sprintf("⚖️ %s moved to breakeven", str(payload, "symbol"))
	case notify.CategoryDailySummary:
		return "\U0001F4CA Daily summary\n" + kvLines(payload)
	case notify.CategoryWeeklySummary:
		return "\U0001F4C5 Weekly summary\n" + kvLines(payload)
	case notify.CategoryBotStarted:
		return "\U0001F7E2 Bot started"
	case notify.CategoryBotStopped:
		return "\U0001F534 Bot stopped"
	case notify.CategoryEmergencyStop:
		return "\U0001F6A8 EMERGENCY STOP: " + str(payload, "message")
	case notify.CategoryConnLost:
		return "⚠️ Connectivity lost: " + str(payload, "message")
	case notify.CategoryConnRestored:
		return "\U0001F517 Connectivity restored"
	case notify.CategoryPluginError:
		return fmt.Sprintf("❗ Plugin %s error: %s",
			str(payload, "plugin"), str(payload, "message"))
	case notify.CategoryRiskAlert:
		return "⚠️ Risk alert: " + str(payload, "message")
	default:
		if msg := str(payload, "message"); msg != "" {
			return msg
		}
		return kvLines(payload)
	}
}

func str(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func profitEmoji(payload map[string]any) string {
	if f, ok := payload["profit"].(float64); ok && f < 0 {
		return "\U0001F4C9"
	}
	return "\U0001F4C8"
}

// kvLines renders a payload as stable "key: value" lines.
func kvLines(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, payload[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
