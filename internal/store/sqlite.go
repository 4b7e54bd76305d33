package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"invomat/internal/automation"
	"invomat/internal/table"
	"invomat/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps each entity as a JSON document column plus the few
// fields we index on. Atomic document updates are read-modify-write inside
// an immediate transaction; the single-connection pool serializes writers,
// which is what SQLite prefers anyway.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalDoc(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: marshal document: %w", err)
	}
	return string(b), nil
}

func (s *sqliteStore) getDoc(ctx context.Context, query, id string, dst any) error {
	var doc string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(doc), dst)
}

// --- automations ---

func (s *sqliteStore) InsertAutomation(ctx context.Context, a *automation.Automation) error {
	doc, err := marshalDoc(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO automations(id, owner_id, status, created_at, doc) VALUES(?,?,?,?,?)`,
		a.ID, a.OwnerID, string(a.Status), a.CreatedAt.UTC().Format(time.RFC3339Nano), doc,
	)
	return err
}

func (s *sqliteStore) GetAutomation(ctx context.Context, id string) (*automation.Automation, error) {
	var a automation.Automation
	if err := s.getDoc(ctx, `SELECT doc FROM automations WHERE id = ?`, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *sqliteStore) listAutomations(ctx context.Context, where, arg string) ([]*automation.Automation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM automations WHERE `+where+` ORDER BY created_at DESC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*automation.Automation
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var a automation.Automation
		if err := json.Unmarshal([]byte(doc), &a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListAutomations(ctx context.Context, ownerID string) ([]*automation.Automation, error) {
	return s.listAutomations(ctx, "owner_id = ?", ownerID)
}

func (s *sqliteStore) ListAutomationsByStatus(ctx context.Context, status automation.Status) ([]*automation.Automation, error) {
	return s.listAutomations(ctx, "status = ?", string(status))
}

func (s *sqliteStore) UpdateAutomation(ctx context.Context, id string, mutate func(*automation.Automation) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM automations WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var a automation.Automation
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return err
	}
	if err := mutate(&a); err != nil {
		return err
	}
	out, err := marshalDoc(&a)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE automations SET status = ?, doc = ? WHERE id = ?`,
		string(a.Status), out, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) DeleteAutomation(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- runs ---

func (s *sqliteStore) InsertRun(ctx context.Context, r *automation.Run) error {
	doc, err := marshalDoc(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO automation_runs(id, automation_id, started_at, doc) VALUES(?,?,?,?)`,
		r.ID, r.AutomationID, r.StartedAt.UTC().Format(time.RFC3339Nano), doc,
	)
	return err
}

func (s *sqliteStore) UpdateRun(ctx context.Context, id string, mutate func(*automation.Run) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM automation_runs WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var r automation.Run
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return err
	}
	if err := mutate(&r); err != nil {
		return err
	}
	out, err := marshalDoc(&r)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE automation_runs SET doc = ? WHERE id = ?`, out, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListRuns(ctx context.Context, automationID string, limit int) ([]*automation.Run, error) {
	q := `SELECT doc FROM automation_runs WHERE automation_id = ? ORDER BY started_at DESC`
	args := []any{automationID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*automation.Run
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r automation.Run
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- learned senders ---

func (s *sqliteStore) FindLearnedSenders(ctx context.Context, ownerID, vendor string) ([]string, error) {
	needle := strings.ToLower(strings.TrimSpace(vendor))
	if needle == "" {
		return nil, nil
	}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT emails FROM learned_senders WHERE owner_id = ? AND instr(lower(name), ?) > 0 LIMIT 1`,
		ownerID, needle).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var emails []string
	if err := json.Unmarshal([]byte(raw), &emails); err != nil {
		return nil, err
	}
	return emails, nil
}

func (s *sqliteStore) PutLearnedSender(ctx context.Context, ownerID, name string, emails []string) error {
	raw, err := json.Marshal(emails)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO learned_senders(owner_id, name, emails) VALUES(?,?,?)
		 ON CONFLICT(owner_id, name) DO UPDATE SET emails = excluded.emails`,
		ownerID, name, string(raw),
	)
	return err
}

// --- tables ---

func (s *sqliteStore) InsertTable(ctx context.Context, t *table.Table) error {
	doc, err := marshalDoc(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tables(id, owner_id, created_at, doc) VALUES(?,?,?,?)`,
		t.ID, t.OwnerID, t.CreatedAt.UTC().Format(time.RFC3339Nano), doc,
	)
	return err
}

func (s *sqliteStore) GetTable(ctx context.Context, id string) (*table.Table, error) {
	var t table.Table
	if err := s.getDoc(ctx, `SELECT doc FROM tables WHERE id = ?`, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *sqliteStore) ListTables(ctx context.Context, ownerID string) ([]*table.Table, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM tables WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*table.Table
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t table.Table
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateTable(ctx context.Context, id string, mutate func(*table.Table) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM tables WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var t table.Table
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return err
	}
	if err := mutate(&t); err != nil {
		return err
	}
	out, err := marshalDoc(&t)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tables SET doc = ? WHERE id = ?`, out, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) DeleteTable(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tables WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
