// Package summary produces the periodic daily and weekly summary
// notifications on a cron schedule.
package summary

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"zepixnotify/internal/notify"
	"zepixnotify/pkg/logx"
)

// Sink accepts the produced notifications. Satisfied by the orchestrator.
type Sink interface {
	Enqueue(n notify.Notification) bool
}

// PayloadFunc builds the summary payload for a period ("daily"/"weekly").
// The host supplies it; the default summarizes delivery statistics.
type PayloadFunc func(period string) map[string]any

type Config struct {
	// Daily and Weekly are five-field cron specs. Empty disables.
	Daily    string
	Weekly   string
	Timezone string
}

type Scheduler struct {
	c       *cron.Cron
	sink    Sink
	payload PayloadFunc
	log     logx.Logger
}

func New(cfg Config, sink Sink, payload PayloadFunc, log logx.Logger) (*Scheduler, error) {
	if sink == nil {
		return nil, fmt.Errorf("summary: sink is required")
	}
	if payload == nil {
		return nil, fmt.Errorf("summary: payload func is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("summary: timezone %q: %w", cfg.Timezone, err)
		}
	}

	s := &Scheduler{
		c:       cron.New(cron.WithLocation(loc)),
		sink:    sink,
		payload: payload,
		log:     log,
	}

	if cfg.Daily != "" {
		if _, err := s.c.AddFunc(cfg.Daily, func() {
			s.emit(notify.CategoryDailySummary, "daily")
		}); err != nil {
			return nil, fmt.Errorf("summary: daily spec %q: %w", cfg.Daily, err)
		}
	}
	if cfg.Weekly != "" {
		if _, err := s.c.AddFunc(cfg.Weekly, func() {
			s.emit(notify.CategoryWeeklySummary, "weekly")
		}); err != nil {
			return nil, fmt.Errorf("summary: weekly spec %q: %w", cfg.Weekly, err)
		}
	}
	return s, nil
}

func (s *Scheduler) emit(category notify.Category, period string) {
	n, err := notify.NewNotification(category, s.payload(period))
	if err != nil {
		s.log.Error("summary notification rejected", logx.String("period", period), logx.Err(err))
		return
	}
	if !s.sink.Enqueue(n) {
		s.log.Warn("summary notification not accepted", logx.String("period", period))
	}
}

func (s *Scheduler) Start() { s.c.Start() }

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// DeliveryStatsPayload is the default PayloadFunc: it snapshots the
// orchestrator's counters.
func DeliveryStatsPayload(stats func() notify.StatsSnapshot) PayloadFunc {
	return func(period string) map[string]any {
		s := stats()
		return map[string]any{
			"period":  period,
			"queued":  int64(s.Queued),
			"sent":    int64(s.Sent),
			"failed":  int64(s.Failed),
			"retried": int64(s.Retried),
			"dropped": int64(s.Dropped),
		}
	}
}
