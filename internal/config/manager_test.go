package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{
		"telegram": {"token": "t", "controller_chat": -100, "notification_chat": -200, "analytics_chat": -300},
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"delivery": {"queue_capacity": 100, "entry_ttl": "2m"},
		"rate_limit": {"per_second": 30, "per_minute": 20},
		"retry": {"max_attempts": 5, "base": "500ms"},
		"router": {"default_recipients": [1, 2]}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.NotificationChat != -200 {
		t.Fatalf("notification chat = %d", cfg.Telegram.NotificationChat)
	}
	if cfg.Delivery.QueueCapacity != 100 || cfg.Delivery.EntryTTL != "2m" {
		t.Fatalf("delivery = %+v", cfg.Delivery)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Fatalf("retry = %+v", cfg.Retry)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit the parsed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: t
  controller_chat: -100
  notification_chat: -200
  analytics_chat: -300
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
delivery:
  queue_capacity: 50
rate_limit: {}
retry: {}
router: {}
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Delivery.QueueCapacity != 50 {
		t.Fatalf("queue capacity = %d", cfg.Delivery.QueueCapacity)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram": {"token": "t"}, "delivery": {"workers": 4}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown field must be rejected")
	}
}

func TestTrailingDataRejected(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram": {"token": "t"}} {"extra": 1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("trailing data must be rejected")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "1m30s"); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be zero, got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration must be rejected")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("garbage must be rejected")
	}
	if d, err := ParseDurationOrDefault("x", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("default not applied: %v, %v", d, err)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram": {"token": "t"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := &Config{}
	m.Commit(next)
	m.publish(next)

	select {
	case got := <-ch:
		if got != next {
			t.Fatal("subscriber received a different config")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the update")
	}
}
