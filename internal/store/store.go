// Package store is the document persistence layer: one collection per
// entity (automations, automation_runs, tables, learned_senders) with
// atomic single-document updates via mutate closures.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"invomat/internal/automation"
	"invomat/internal/table"
	"invomat/pkg/logx"
)

var ErrNotFound = errors.New("store: document not found")

// Config configures the store.
//
// Driver values:
//   - "" or "memory": in-process store (lost on restart)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the engine, scheduler and table
// manager. Mutate closures run atomically against the addressed document;
// implementations may hand the closure a private copy, so callers must not
// retain the document after the closure returns.
type Store interface {
	InsertAutomation(ctx context.Context, a *automation.Automation) error
	GetAutomation(ctx context.Context, id string) (*automation.Automation, error)
	ListAutomations(ctx context.Context, ownerID string) ([]*automation.Automation, error)
	ListAutomationsByStatus(ctx context.Context, status automation.Status) ([]*automation.Automation, error)
	UpdateAutomation(ctx context.Context, id string, mutate func(*automation.Automation) error) error
	DeleteAutomation(ctx context.Context, id string) (bool, error)

	InsertRun(ctx context.Context, r *automation.Run) error
	UpdateRun(ctx context.Context, id string, mutate func(*automation.Run) error) error
	ListRuns(ctx context.Context, automationID string, limit int) ([]*automation.Run, error)

	// FindLearnedSenders returns the learned addresses whose mapping name
	// contains the vendor key (case-insensitive), or nil when none is known.
	FindLearnedSenders(ctx context.Context, ownerID, vendor string) ([]string, error)
	PutLearnedSender(ctx context.Context, ownerID, name string, emails []string) error

	InsertTable(ctx context.Context, t *table.Table) error
	GetTable(ctx context.Context, id string) (*table.Table, error)
	ListTables(ctx context.Context, ownerID string) ([]*table.Table, error)
	UpdateTable(ctx context.Context, id string, mutate func(*table.Table) error) error
	DeleteTable(ctx context.Context, id string) (bool, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("store: unknown driver: " + driver)
	}
}
