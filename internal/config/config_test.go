package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/invomat.db
  busy_timeout: 5s
scheduler:
  enabled: true
  workers: 4
  queue_size: 128
  default_timeout: 5m
  timezone: Europe/Paris
mail:
  lookback_days: 7
  rate_per_sec: 5
  request_timeout: 30s
alerts:
  enabled: true
  token: "123:abc"
  chat_id: 42
vendors:
  aliases:
    acme: [acme, "billing@acme.test"]
  emails:
    acme: ["billing@acme.test"]
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "5s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.Workers != 4 || cfg.Scheduler.Timezone != "Europe/Paris" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Mail.LookbackDays != 7 || cfg.Mail.RatePerSec != 5 {
		t.Fatalf("mail = %+v", cfg.Mail)
	}
	if cfg.Alerts.ChatID != 42 || cfg.Alerts.Token != "123:abc" {
		t.Fatalf("alerts = %+v", cfg.Alerts)
	}
	if len(cfg.Vendors.Aliases["acme"]) != 2 {
		t.Fatalf("vendors = %+v", cfg.Vendors)
	}

	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "logging:\n  level: info\n  verbose: true\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestUnknownTopLevelSectionRejected(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "loging:\n  level: info\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for misspelled section")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"-1s", 0, true},
		{"banana", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("test.field", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, %v; want %v", tt.raw, got, err, tt.want)
		}
	}

	d, err := ParseDurationOrDefault("test.field", "", 7*time.Second)
	if err != nil || d != 7*time.Second {
		t.Fatalf("ParseDurationOrDefault = %v, %v; want 7s", d, err)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := &Config{Logging: LoggingConfig{Level: "warn"}}
	m.Commit(next)
	m.publish(next)

	select {
	case got := <-ch:
		if got.Logging.Level != "warn" {
			t.Fatalf("published config = %+v", got.Logging)
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}
}
