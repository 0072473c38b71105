// Package telegram adapts the delivery pipeline's transport callbacks to
// the Telegram Bot API and exposes a small command surface for recipients
// to manage their own preferences.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"zepixnotify/internal/notify"
	"zepixnotify/internal/prefs"
	"zepixnotify/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// Chats maps a destination name to its Telegram chat ID.
	Chats map[string]int64
}

type Adapter struct {
	bot   *tele.Bot
	chats map[string]int64
	log   logx.Logger

	gate  *prefs.Gate                   // optional, enables the command surface
	stats func() notify.StatsSnapshot   // optional, backs /stats
	hist  func(int) []notify.DeliveryRecord

	runMu   sync.Mutex
	running bool
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{bot: b, chats: cfg.Chats, log: log}, nil
}

// mapErr folds Telegram API errors into the pipeline's error taxonomy so
// the retry policy can classify them structurally.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tele.ErrChatNotFound):
		return fmt.Errorf("%w: %v", notify.ErrRecipientNotFound, err)
	case errors.Is(err, tele.ErrBlockedByUser):
		return fmt.Errorf("%w: %v", notify.ErrBlockedByRecipient, err)
	case errors.Is(err, tele.ErrUnauthorized):
		return fmt.Errorf("%w: %v", notify.ErrInvalidCredentials, err)
	default:
		return err
	}
}

// Send implements notify.SendFunc: the destination's channel chat first,
// then each individually addressed recipient.
func (a *Adapter) Send(ctx context.Context, destination string, text string, recipients []notify.RecipientID) error {
	chat, ok := a.chats[destination]
	if !ok {
		return fmt.Errorf("no chat configured for destination %q", destination)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := a.bot.Send(tele.ChatID(chat), text); err != nil {
		return mapErr(err)
	}
	for _, id := range recipients {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(tele.ChatID(id), text); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

// Voice implements notify.VoiceFunc. Telegram has no true voice push for
// bots, so the urgent variant is a loud, notification-forcing message to
// the notification chat.
func (a *Adapter) Voice(ctx context.Context, text string, payload map[string]any) error {
	_ = payload
	chat, ok := a.chats[notify.DestNotification]
	if !ok {
		return errors.New("no notification chat configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Send(tele.ChatID(chat), "\U0001F50A "+text)
	return mapErr(err)
}

// EnableCommands wires the recipient-facing command handlers. Must be
// called before Start.
func (a *Adapter) EnableCommands(gate *prefs.Gate, stats func() notify.StatsSnapshot, hist func(int) []notify.DeliveryRecord) {
	a.gate = gate
	a.stats = stats
	a.hist = hist

	a.bot.Handle("/stats", func(c tele.Context) error {
		if a.stats == nil {
			return nil
		}
		s := a.stats()
		return c.Send(fmt.Sprintf(
			"queued %d, sent %d, failed %d, retried %d, dropped %d, expired %d, skipped %d",
			s.Queued, s.Sent, s.Failed, s.Retried, s.Dropped, s.Expired, s.Skipped))
	})

	a.bot.Handle("/history", func(c tele.Context) error {
		if a.hist == nil {
			return nil
		}
		recs := a.hist(10)
		if len(recs) == 0 {
			return c.Send("no deliveries yet")
		}
		var b strings.Builder
		for _, r := range recs {
			fmt.Fprintf(&b, "%s %s -> %s: %s", r.CompletedAt.Format("15:04:05"), r.Category, r.Destination, r.Status)
			if r.LastError != "" {
				fmt.Fprintf(&b, " (%s)", r.LastError)
			}
			b.WriteByte('\n')
		}
		return c.Send(b.String())
	})

	a.bot.Handle("/mute", func(c tele.Context) error {
		if a.gate == nil {
			return nil
		}
		arg := strings.TrimSpace(c.Message().Payload)
		id := notify.RecipientID(c.Sender().ID)
		if arg == "" {
			if err := a.gate.SetMode(id, prefs.ModeMuted); err != nil {
				return c.Send(err.Error())
			}
			return c.Send("all notifications muted")
		}
		a.gate.MuteSymbol(id, arg)
		return c.Send("muted " + arg)
	})

	a.bot.Handle("/unmute", func(c tele.Context) error {
		if a.gate == nil {
			return nil
		}
		arg := strings.TrimSpace(c.Message().Payload)
		id := notify.RecipientID(c.Sender().ID)
		if arg == "" {
			if err := a.gate.SetMode(id, prefs.ModeAll); err != nil {
				return c.Send(err.Error())
			}
			return c.Send("notifications unmuted")
		}
		a.gate.UnmuteSymbol(id, arg)
		return c.Send("unmuted " + arg)
	})

	a.bot.Handle("/quiet", func(c tele.Context) error {
		if a.gate == nil {
			return nil
		}
		id := notify.RecipientID(c.Sender().ID)
		arg := strings.TrimSpace(c.Message().Payload)
		if arg == "" || strings.EqualFold(arg, "off") {
			if err := a.gate.SetQuietHours(id, prefs.QuietHours{}); err != nil {
				return c.Send(err.Error())
			}
			return c.Send("quiet hours disabled")
		}
		start, end, ok := strings.Cut(arg, "-")
		if !ok {
			return c.Send("usage: /quiet HH:MM-HH:MM or /quiet off")
		}
		q := prefs.QuietHours{
			Enabled:       true,
			Start:         strings.TrimSpace(start),
			End:           strings.TrimSpace(end),
			AllowCritical: true,
		}
		if err := a.gate.SetQuietHours(id, q); err != nil {
			return c.Send(err.Error())
		}
		return c.Send(fmt.Sprintf("quiet hours %s-%s", q.Start, q.End))
	})
}

// Start runs the long poller until ctx is cancelled. Sending works
// without Start; only the command surface needs it.
func (a *Adapter) Start(ctx context.Context) {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return
	}
	a.running = true
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()
	a.log.Info("telegram poller started")
	a.bot.Start()
}
