package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Delivery controls the queue drain pipeline.
	Delivery  DeliveryConfig  `json:"delivery"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Retry     RetryConfig     `json:"retry"`
	Router    RouterConfig    `json:"router"`

	Storage   *StorageConfig  `json:"storage,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Summaries SummariesConfig `json:"summaries,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// Chat IDs per destination channel.
	ControllerChat   int64 `json:"controller_chat"`
	NotificationChat int64 `json:"notification_chat"`
	AnalyticsChat    int64 `json:"analytics_chat"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DeliveryConfig controls queueing and the drain loops.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Zero/omitted fields take the built-in defaults.
type DeliveryConfig struct {
	QueueCapacity int    `json:"queue_capacity,omitempty"`
	EntryTTL      string `json:"entry_ttl,omitempty"`
	DrainPoll     string `json:"drain_poll,omitempty"`
	// RateWaitTimeout bounds the drain loop's wait for a limiter slot.
	RateWaitTimeout string `json:"rate_wait_timeout,omitempty"`
	RequeueDelay    string `json:"requeue_delay,omitempty"`
	// ImmediateRateWait bounds the limiter wait on the critical path.
	ImmediateRateWait string `json:"immediate_rate_wait,omitempty"`
	SendTimeout       string `json:"send_timeout,omitempty"`
	HistorySize       int    `json:"history_size,omitempty"`
	StopGrace         string `json:"stop_grace,omitempty"`
	VoicePerSec       int    `json:"voice_per_sec,omitempty"`
}

type RateLimitConfig struct {
	PerSecond            int            `json:"per_second,omitempty"`
	PerMinute            int            `json:"per_minute,omitempty"`
	DestinationPerMinute int            `json:"destination_per_minute,omitempty"`
	PerDestination       map[string]int `json:"per_destination,omitempty"`
}

type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts,omitempty"`
	Base        string  `json:"base,omitempty"`
	MaxDelay    string  `json:"max_delay,omitempty"`
	Exponential float64 `json:"exponential,omitempty"`
	Jitter      float64 `json:"jitter,omitempty"`
}

type RouterConfig struct {
	DefaultRecipients []int64 `json:"default_recipients,omitempty"`
	// PriorityOverrides maps category name to priority name
	// (critical/high/medium/low/info).
	PriorityOverrides map[string]string `json:"priority_overrides,omitempty"`
	// DestinationOverrides pins a category to one destination.
	DestinationOverrides map[string]string `json:"destination_overrides,omitempty"`
}

// StorageConfig selects the preference persistence driver.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/prefs.json" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
}

// SummariesConfig schedules the periodic summary notifications.
// Empty specs disable the corresponding summary.
type SummariesConfig struct {
	Enabled bool `json:"enabled"`
	// Cron specs, five-field form (e.g. "0 21 * * *").
	Daily  string `json:"daily,omitempty"`
	Weekly string `json:"weekly,omitempty"`
	// Timezone for the cron specs. Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}
