// Package engine executes automations: it owns the create/pause/resume/delete
// transitions of the Automation document and the run protocol (search,
// extract, dedup, aggregate, record).
package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"invomat/internal/automation"
	"invomat/internal/automation/parser"
	"invomat/internal/eventbus"
	"invomat/internal/mail"
	"invomat/internal/store"
	"invomat/internal/table"
	"invomat/internal/vendors"
	"invomat/pkg/logx"
)

const defaultLookback = 7 * 24 * time.Hour

// Config tunes the engine.
type Config struct {
	// Lookback is the search window for invoice mails; zero means 7 days.
	Lookback time.Duration
}

// Engine is safe to invoke concurrently for different automation ids. It does
// not guard against overlapping runs of the same id; the scheduler serializes
// those.
type Engine struct {
	store    store.Store
	tables   *table.Manager
	gateway  mail.Gateway
	dir      *vendors.Directory
	bus      eventbus.Bus
	log      logx.Logger
	lookback time.Duration
	now      func() time.Time
}

func New(st store.Store, tables *table.Manager, gw mail.Gateway, dir *vendors.Directory, bus eventbus.Bus, cfg Config, log logx.Logger) *Engine {
	if dir == nil {
		dir = vendors.Default()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = defaultLookback
	}
	return &Engine{
		store:    st,
		tables:   tables,
		gateway:  gw,
		dir:      dir,
		bus:      bus,
		log:      log,
		lookback: lookback,
		now:      time.Now,
	}
}

// CreateResult summarizes a newly created automation for the caller.
type CreateResult struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	TableID            string   `json:"table_id"`
	TableName          string   `json:"table_name"`
	TriggerDescription string   `json:"trigger_description"`
	Vendors            []string `json:"vendors"`
}

// Create persists a new automation and its associated table. The caller (the
// scheduler's lifecycle wrapper) is responsible for arming the timer.
func (e *Engine) Create(ctx context.Context, ownerID, accountID string, cfg *automation.Config) (*CreateResult, error) {
	if cfg == nil {
		return nil, errors.New("engine: nil automation config")
	}

	id := uuid.NewString()
	now := e.now().UTC()

	tableName := cfg.TableName
	if tableName == "" {
		tableName = fmt.Sprintf("Factures %d", now.Year())
	}
	tbl, err := e.tables.Create(ctx, ownerID, tableName, "Généré par: "+cfg.Name, nil, 0, id)
	if err != nil {
		return nil, fmt.Errorf("engine: create table: %w", err)
	}

	a := &automation.Automation{
		ID:          id,
		OwnerID:     ownerID,
		AccountID:   accountID,
		Name:        cfg.Name,
		Description: cfg.Description,
		Trigger:     cfg.Trigger,
		Actions:     cfg.Actions,
		Vendors:     cfg.Vendors,
		TableID:     tbl.ID,
		Status:      automation.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.InsertAutomation(ctx, a); err != nil {
		return nil, fmt.Errorf("engine: persist automation: %w", err)
	}

	e.log.Info("automation created",
		logx.String("automation_id", id),
		logx.String("name", cfg.Name),
		logx.String("table_id", tbl.ID),
		logx.Any("vendors", cfg.Vendors))

	return &CreateResult{
		ID:                 id,
		Name:               cfg.Name,
		TableID:            tbl.ID,
		TableName:          tbl.Name,
		TriggerDescription: parser.DescribeTrigger(cfg.Trigger),
		Vendors:            cfg.Vendors,
	}, nil
}

// RunResult is the outcome of one Run invocation.
type RunResult struct {
	RunID           string
	Success         bool
	EmailsProcessed int
	InvoicesFound   int
	RowsAdded       int
	Err             error
}

// RunEvent is the bus payload for run lifecycle events.
type RunEvent struct {
	AutomationID string `json:"automation_id"`
	RunID        string `json:"run_id"`
	OwnerID      string `json:"owner_id"`
	Name         string `json:"name"`
	RowsAdded    int    `json:"rows_added,omitempty"`
	Error        string `json:"error,omitempty"`
}

// AlertEvent is the bus payload for a triggered send_alert action.
type AlertEvent struct {
	AutomationID string   `json:"automation_id"`
	OwnerID      string   `json:"owner_id"`
	Name         string   `json:"name"`
	TableID      string   `json:"table_id"`
	RowsAdded    int      `json:"rows_added"`
	BatchTotal   float64  `json:"batch_total"`
	Threshold    *float64 `json:"threshold,omitempty"`
}

// Run executes one automation end to end. A missing automation fails fast
// with no run record; any later failure is captured on both the run record
// and the automation's LastError. The automation's Status is never flipped
// by a failed run; LastError is the health signal and the schedule stays live.
func (e *Engine) Run(ctx context.Context, id string) (*RunResult, error) {
	a, err := e.store.GetAutomation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("engine: automation %s not found", id)
		}
		return nil, fmt.Errorf("engine: load automation: %w", err)
	}

	run := &automation.Run{
		ID:           uuid.NewString(),
		AutomationID: a.ID,
		OwnerID:      a.OwnerID,
		StartedAt:    e.now().UTC(),
		Status:       automation.RunRunning,
	}
	if err := e.store.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("engine: record run start: %w", err)
	}
	e.publish(eventbus.TypeRunStarted, RunEvent{AutomationID: a.ID, RunID: run.ID, OwnerID: a.OwnerID, Name: a.Name})
	e.log.Info("run started", logx.String("automation_id", a.ID), logx.String("run_id", run.ID))

	out, runErr := e.executeActions(ctx, a, run.ID)
	completed := e.now().UTC()

	if runErr != nil {
		msg := runErr.Error()
		_ = e.store.UpdateRun(ctx, run.ID, func(r *automation.Run) error {
			r.CompletedAt = &completed
			r.Status = automation.RunError
			r.Error = msg
			return nil
		})
		_ = e.store.UpdateAutomation(ctx, a.ID, func(doc *automation.Automation) error {
			doc.LastRun = &completed
			doc.LastError = msg
			doc.UpdatedAt = completed
			return nil
		})
		e.publish(eventbus.TypeRunFailed, RunEvent{AutomationID: a.ID, RunID: run.ID, OwnerID: a.OwnerID, Name: a.Name, Error: msg})
		e.log.Error("run failed", logx.String("automation_id", a.ID), logx.String("run_id", run.ID), logx.Err(runErr))
		return &RunResult{RunID: run.ID, Err: runErr}, nil
	}

	if err := e.store.UpdateRun(ctx, run.ID, func(r *automation.Run) error {
		r.CompletedAt = &completed
		r.Status = automation.RunSuccess
		r.EmailsProcessed = out.emailsProcessed
		r.RowsAdded = out.rowsAdded
		r.Results = automation.RunResults{
			InvoicesFound: len(out.rows),
			ByVendor:      out.byVendor,
			CSV:           out.csv,
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("engine: record run result: %w", err)
	}
	if err := e.store.UpdateAutomation(ctx, a.ID, func(doc *automation.Automation) error {
		doc.LastRun = &completed
		doc.LastError = ""
		doc.RunCount++
		doc.UpdatedAt = completed
		return nil
	}); err != nil {
		return nil, fmt.Errorf("engine: record run bookkeeping: %w", err)
	}

	e.publish(eventbus.TypeRunFinished, RunEvent{AutomationID: a.ID, RunID: run.ID, OwnerID: a.OwnerID, Name: a.Name, RowsAdded: out.rowsAdded})
	e.log.Info("run completed",
		logx.String("automation_id", a.ID),
		logx.String("run_id", run.ID),
		logx.Int("emails_processed", out.emailsProcessed),
		logx.Int("rows_added", out.rowsAdded))

	return &RunResult{
		RunID:           run.ID,
		Success:         true,
		EmailsProcessed: out.emailsProcessed,
		InvoicesFound:   len(out.rows),
		RowsAdded:       out.rowsAdded,
	}, nil
}

type actionOutcome struct {
	emailsProcessed int
	rowsAdded       int
	rows            []table.NewRow
	byVendor        map[string]int
	batchTotal      float64
	csv             string
}

// executeActions runs search_invoices, extract_amounts and update_table as
// one fused pass over the gateway (they share the fetched messages), then any
// trailing send_alert / export_csv actions. Per-vendor and per-message
// failures are logged and skipped; only infrastructure failures (the bulk
// insert) escape as the run error.
func (e *Engine) executeActions(ctx context.Context, a *automation.Automation, runID string) (*actionOutcome, error) {
	out := &actionOutcome{byVendor: map[string]int{}}
	after := e.now().Add(-e.lookback)

	for _, vendor := range a.Vendors {
		addrs := e.resolveVendorEmails(ctx, a.OwnerID, vendor)
		for _, addr := range addrs {
			query := mail.BuildInvoiceQuery(after, addr)
			e.log.Debug("searching invoices", logx.String("automation_id", a.ID), logx.String("query", query))

			msgs, err := e.gateway.Search(ctx, a.AccountID, query)
			if err != nil {
				e.log.Warn("vendor search failed", logx.String("vendor", vendor), logx.String("from", addr), logx.Err(err))
				continue
			}

			for _, msg := range msgs {
				out.emailsProcessed++

				if a.TableID != "" {
					dup, err := e.tables.CheckDuplicate(ctx, a.TableID, msg.ID)
					if err != nil {
						e.log.Warn("dedup check failed", logx.String("message_id", msg.ID), logx.Err(err))
						continue
					}
					if dup {
						continue
					}
				}

				row, err := e.extractInvoice(ctx, a.AccountID, vendor, msg)
				if err != nil {
					e.log.Warn("could not process message", logx.String("message_id", msg.ID), logx.Err(err))
					continue
				}
				if row == nil {
					continue
				}
				out.rows = append(out.rows, *row)
				out.byVendor[vendor]++
				out.batchTotal += row.Data[table.FieldAmount].(float64)
			}
		}
	}

	if a.TableID != "" && len(out.rows) > 0 {
		n, err := e.tables.AddRowsBulk(ctx, a.TableID, out.rows, runID)
		if err != nil {
			return nil, fmt.Errorf("update table: %w", err)
		}
		out.rowsAdded = n
	}

	for _, act := range a.Actions {
		switch act.Type {
		case automation.ActionSendAlert:
			e.maybeAlert(a, act, out)
		case automation.ActionExportCSV:
			if a.TableID == "" {
				continue
			}
			csv, err := e.tables.ExportCSV(ctx, a.TableID)
			if err != nil {
				e.log.Warn("csv export failed", logx.String("table_id", a.TableID), logx.Err(err))
				continue
			}
			out.csv = csv
		}
	}

	return out, nil
}

// extractInvoice pulls the first usable invoice amount out of a message's
// attachments. A message contributes at most one row: scanning stops at the
// first PDF-like attachment that yields a nonzero total.
func (e *Engine) extractInvoice(ctx context.Context, accountID, vendor string, msg mail.Message) (*table.NewRow, error) {
	full, err := e.gateway.GetMessage(ctx, accountID, msg.ID)
	if err != nil {
		return nil, err
	}
	for _, att := range full.Attachments {
		if !mail.IsInvoiceCandidate(att) {
			continue
		}
		amt, err := e.gateway.ExtractInvoiceAmount(ctx, accountID, msg.ID, att.ID)
		if err != nil {
			return nil, err
		}
		if amt == nil || amt.Value == 0 {
			continue
		}
		return &table.NewRow{
			Data: map[string]any{
				table.FieldDate:          msg.Date.UTC().Format("2006-01-02"),
				table.FieldVendor:        vendor,
				table.FieldAmount:        amt.Value,
				table.FieldInvoiceNumber: invoiceNumber(msg.Subject),
				table.FieldEmailID:       msg.ID,
				table.FieldPaid:          false,
			},
			SourceMessageID: msg.ID,
		}, nil
	}
	return nil, nil
}

// resolveVendorEmails resolves sender addresses for a vendor: the user's
// learned mapping first, then the directory defaults, then the vendor key
// itself as a literal fallback.
func (e *Engine) resolveVendorEmails(ctx context.Context, ownerID, vendor string) []string {
	learned, err := e.store.FindLearnedSenders(ctx, ownerID, vendor)
	if err != nil {
		e.log.Warn("learned sender lookup failed", logx.String("vendor", vendor), logx.Err(err))
	}
	if len(learned) > 0 {
		return learned
	}
	if addrs := e.dir.Emails(vendor); len(addrs) > 0 {
		return addrs
	}
	return []string{vendor}
}

func (e *Engine) maybeAlert(a *automation.Automation, act automation.Action, out *actionOutcome) {
	if out.rowsAdded == 0 {
		return
	}
	if act.AlertThreshold != nil && out.batchTotal < *act.AlertThreshold {
		return
	}
	e.publish(eventbus.TypeAlert, AlertEvent{
		AutomationID: a.ID,
		OwnerID:      a.OwnerID,
		Name:         a.Name,
		TableID:      a.TableID,
		RowsAdded:    out.rowsAdded,
		BatchTotal:   out.batchTotal,
		Threshold:    act.AlertThreshold,
	})
}

var invoiceNumberRe = regexp.MustCompile(`(?i)(?:facture|invoice)\s*(?:n[°o]\s*)?[:#]?\s*([A-Z0-9][A-Z0-9/_-]{2,})`)

// invoiceNumber pulls an invoice reference out of a message subject, empty
// when the subject carries none.
func invoiceNumber(subject string) string {
	m := invoiceNumberRe.FindStringSubmatch(subject)
	if m == nil {
		return ""
	}
	return m[1]
}

// Pause stops future runs without losing the automation's history.
func (e *Engine) Pause(ctx context.Context, id string) error {
	return e.store.UpdateAutomation(ctx, id, func(a *automation.Automation) error {
		a.Status = automation.StatusPaused
		a.UpdatedAt = e.now().UTC()
		return nil
	})
}

// Resume reactivates a paused automation. RunCount and LastError survive the
// pause/resume round trip untouched.
func (e *Engine) Resume(ctx context.Context, id string) error {
	return e.store.UpdateAutomation(ctx, id, func(a *automation.Automation) error {
		a.Status = automation.StatusActive
		a.UpdatedAt = e.now().UTC()
		return nil
	})
}

// Delete removes the automation document. The associated table survives
// unless deleteTable is set.
func (e *Engine) Delete(ctx context.Context, id string, deleteTable bool) error {
	a, err := e.store.GetAutomation(ctx, id)
	if err != nil {
		return err
	}
	if _, err := e.store.DeleteAutomation(ctx, id); err != nil {
		return err
	}
	if deleteTable && a.TableID != "" {
		if _, err := e.tables.Delete(ctx, a.TableID); err != nil {
			e.log.Warn("cascade table delete failed", logx.String("table_id", a.TableID), logx.Err(err))
		}
	}
	e.log.Info("automation deleted", logx.String("automation_id", id), logx.Bool("table_deleted", deleteTable))
	return nil
}

func (e *Engine) Get(ctx context.Context, id string) (*automation.Automation, error) {
	return e.store.GetAutomation(ctx, id)
}

func (e *Engine) List(ctx context.Context, ownerID string) ([]*automation.Automation, error) {
	return e.store.ListAutomations(ctx, ownerID)
}

func (e *Engine) Runs(ctx context.Context, automationID string, limit int) ([]*automation.Run, error) {
	return e.store.ListRuns(ctx, automationID, limit)
}

func (e *Engine) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
