package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Mail      MailConfig      `json:"mail"`
	Alerts    AlertsConfig    `json:"alerts,omitempty"`
	Vendors   VendorsConfig   `json:"vendors,omitempty"`
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

// StorageConfig controls the document store.
//
// Driver values:
//   - "memory": in-process store, lost on restart (default)
//   - "sqlite": SQLite database file
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the automation scheduler.
//
// All durations are Go duration strings (e.g. "30s", "5m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	Workers int  `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout bounds a single automation run. "0s" disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// Trigger timezone (IANA name, e.g. "Europe/Paris").
	Timezone string `json:"timezone,omitempty"`
}

// MailConfig controls how the engine talks to the email gateway.
type MailConfig struct {
	// LookbackDays is the search window for each run. Default 7.
	LookbackDays int `json:"lookback_days,omitempty"`

	// RatePerSec throttles gateway calls. 0 disables throttling.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// RequestTimeout bounds a single gateway call. "0s" disables it.
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// AlertsConfig controls the Telegram alert channel.
// If the section is omitted or the token is empty, alerts are disabled.
type AlertsConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// VendorsConfig overrides the built-in vendor directory.
//
// Aliases maps a canonical vendor key to the surface strings that identify it
// in free text; Emails maps the key to default sender addresses. Keys absent
// from both maps fall back to the built-in directory.
type VendorsConfig struct {
	Aliases map[string][]string `json:"aliases,omitempty"`
	Emails  map[string][]string `json:"emails,omitempty"`
}
