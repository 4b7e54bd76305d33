package table

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"invomat/pkg/logx"
)

// DocStore is the slice of the document store the manager needs. The mutate
// closure passed to UpdateTable runs atomically with respect to concurrent
// readers of the same document.
type DocStore interface {
	InsertTable(ctx context.Context, t *Table) error
	GetTable(ctx context.Context, id string) (*Table, error)
	ListTables(ctx context.Context, ownerID string) ([]*Table, error)
	UpdateTable(ctx context.Context, id string, mutate func(*Table) error) error
	DeleteTable(ctx context.Context, id string) (bool, error)
}

// Manager implements the table operations on top of a DocStore.
type Manager struct {
	docs DocStore
	log  logx.Logger
	now  func() time.Time
}

func NewManager(docs DocStore, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{docs: docs, log: log, now: time.Now}
}

// Create persists a new table. Nil columns default to the invoice column set;
// a zero year defaults to the current year.
func (m *Manager) Create(ctx context.Context, ownerID, name, description string, columns []Column, year int, automationID string) (*Table, error) {
	if columns == nil {
		columns = InvoiceColumns()
	}
	if year == 0 {
		year = m.now().Year()
	}
	now := m.now().UTC()
	t := &Table{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Name:         name,
		Description:  description,
		Columns:      columns,
		Rows:         []Row{},
		Year:         year,
		CreatedAt:    now,
		UpdatedAt:    now,
		AutomationID: automationID,
	}
	if err := m.docs.InsertTable(ctx, t); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	m.log.Info("table created", logx.String("table_id", t.ID), logx.String("name", name), logx.String("owner", ownerID))
	return t, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Table, error) {
	return m.docs.GetTable(ctx, id)
}

func (m *Manager) ListByOwner(ctx context.Context, ownerID string) ([]*Table, error) {
	return m.docs.ListTables(ctx, ownerID)
}

func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	return m.docs.DeleteTable(ctx, id)
}

// NewRow is the input for row insertion.
type NewRow struct {
	Data            map[string]any
	SourceMessageID string
}

// AddRow appends a single row, adjusting the running total in the same
// document update when the payload carries a numeric amount.
func (m *Manager) AddRow(ctx context.Context, tableID string, in NewRow, sourceRunID string) (string, error) {
	rowID := uuid.NewString()
	err := m.docs.UpdateTable(ctx, tableID, func(t *Table) error {
		t.Rows = append(t.Rows, Row{
			ID:              rowID,
			Data:            in.Data,
			CreatedAt:       m.now().UTC(),
			SourceMessageID: in.SourceMessageID,
			SourceRunID:     sourceRunID,
		})
		if amt, ok := amountOf(in.Data); ok {
			t.RunningTotal = addTotal(t.RunningTotal, amt)
		}
		t.UpdatedAt = m.now().UTC()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("add row: %w", err)
	}
	return rowID, nil
}

// AddRowsBulk appends a batch of rows in one atomic document update and
// returns the number inserted. The running total moves by the sum of the
// batch in the same operation, so a concurrent reader never sees rows
// without their total delta.
func (m *Manager) AddRowsBulk(ctx context.Context, tableID string, rows []NewRow, sourceRunID string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	inserted := 0
	err := m.docs.UpdateTable(ctx, tableID, func(t *Table) error {
		batch := decimal.Zero
		now := m.now().UTC()
		for _, in := range rows {
			t.Rows = append(t.Rows, Row{
				ID:              uuid.NewString(),
				Data:            in.Data,
				CreatedAt:       now,
				SourceMessageID: in.SourceMessageID,
				SourceRunID:     sourceRunID,
			})
			if amt, ok := amountOf(in.Data); ok {
				batch = batch.Add(amt)
			}
			inserted++
		}
		t.RunningTotal = addTotal(t.RunningTotal, batch)
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bulk insert: %w", err)
	}
	m.log.Info("rows added", logx.String("table_id", tableID), logx.Int("count", inserted))
	return inserted, nil
}

// CheckDuplicate reports whether the table already holds a row sourced from
// the given message id. Idempotent re-runs over overlapping search windows
// rely on this to avoid double-counting.
func (m *Manager) CheckDuplicate(ctx context.Context, tableID, sourceMessageID string) (bool, error) {
	if sourceMessageID == "" {
		return false, nil
	}
	t, err := m.docs.GetTable(ctx, tableID)
	if err != nil {
		return false, err
	}
	for _, r := range t.Rows {
		if r.SourceMessageID == sourceMessageID {
			return true, nil
		}
	}
	return false, nil
}

// UpdateRow replaces a row's payload in place, recomputing the running total
// in the same update in case the amount changed.
func (m *Manager) UpdateRow(ctx context.Context, tableID, rowID string, data map[string]any) error {
	return m.docs.UpdateTable(ctx, tableID, func(t *Table) error {
		for i := range t.Rows {
			if t.Rows[i].ID != rowID {
				continue
			}
			t.Rows[i].Data = data
			t.RunningTotal = recomputeTotal(t.Rows)
			t.UpdatedAt = m.now().UTC()
			return nil
		}
		return fmt.Errorf("row %s not found", rowID)
	})
}

// TogglePaid flips the row's paid flag and returns the new value.
func (m *Manager) TogglePaid(ctx context.Context, tableID, rowID string) (bool, error) {
	var paid bool
	err := m.docs.UpdateTable(ctx, tableID, func(t *Table) error {
		for i := range t.Rows {
			if t.Rows[i].ID != rowID {
				continue
			}
			if t.Rows[i].Data == nil {
				t.Rows[i].Data = map[string]any{}
			}
			cur, _ := t.Rows[i].Data[FieldPaid].(bool)
			paid = !cur
			t.Rows[i].Data[FieldPaid] = paid
			t.UpdatedAt = m.now().UTC()
			return nil
		}
		return fmt.Errorf("row %s not found", rowID)
	})
	return paid, err
}

// DeleteRow removes a row and adjusts the running total by its amount in the
// same update.
func (m *Manager) DeleteRow(ctx context.Context, tableID, rowID string) error {
	return m.docs.UpdateTable(ctx, tableID, func(t *Table) error {
		for i := range t.Rows {
			if t.Rows[i].ID != rowID {
				continue
			}
			if amt, ok := amountOf(t.Rows[i].Data); ok {
				t.RunningTotal = addTotal(t.RunningTotal, amt.Neg())
			}
			t.Rows = append(t.Rows[:i], t.Rows[i+1:]...)
			t.UpdatedAt = m.now().UTC()
			return nil
		}
		return fmt.Errorf("row %s not found", rowID)
	})
}

// ExportCSV renders the table with columns in declared order. Currency
// values are formatted with two decimals and a euro suffix.
func (m *Manager) ExportCSV(ctx context.Context, tableID string) (string, error) {
	t, err := m.docs.GetTable(ctx, tableID)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Name
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for _, row := range t.Rows {
		rec := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			rec[i] = formatCell(c, row.Data[c.Name])
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}

func formatCell(c Column, v any) string {
	if v == nil {
		return ""
	}
	if c.Type == ColCurrency {
		if d, ok := toDecimal(v); ok {
			return d.StringFixed(2) + " €"
		}
	}
	return fmt.Sprintf("%v", v)
}

// VendorStats aggregates rows for one vendor.
type VendorStats struct {
	Count int     `json:"count"`
	Total float64 `json:"total"`
}

type Stats struct {
	RowCount    int                    `json:"row_count"`
	Total       float64                `json:"total"`
	ByVendor    map[string]VendorStats `json:"by_vendor"`
	PaidCount   int                    `json:"paid_count"`
	PaidTotal   float64                `json:"paid_total"`
	UnpaidCount int                    `json:"unpaid_count"`
	UnpaidTotal float64                `json:"unpaid_total"`
}

func (m *Manager) Stats(ctx context.Context, tableID string) (*Stats, error) {
	t, err := m.docs.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}

	byVendor := map[string]VendorStats{}
	paidCount := 0
	paid := decimal.Zero
	total := decimal.Zero

	for _, row := range t.Rows {
		amt, hasAmt := amountOf(row.Data)
		if hasAmt {
			total = total.Add(amt)
		}

		vendor, _ := row.Data[FieldVendor].(string)
		if vendor == "" {
			vendor = "autre"
		}
		vs := byVendor[vendor]
		vs.Count++
		if hasAmt {
			vs.Total = addTotal(vs.Total, amt)
		}
		byVendor[vendor] = vs

		if isPaid, _ := row.Data[FieldPaid].(bool); isPaid {
			paidCount++
			if hasAmt {
				paid = paid.Add(amt)
			}
		}
	}

	return &Stats{
		RowCount:    len(t.Rows),
		Total:       round2(total),
		ByVendor:    byVendor,
		PaidCount:   paidCount,
		PaidTotal:   round2(paid),
		UnpaidCount: len(t.Rows) - paidCount,
		UnpaidTotal: round2(total.Sub(paid)),
	}, nil
}

// amountOf extracts the numeric amount from a row payload.
func amountOf(data map[string]any) (decimal.Decimal, bool) {
	if data == nil {
		return decimal.Zero, false
	}
	return toDecimal(data[FieldAmount])
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x), true
	case float32:
		return decimal.NewFromFloat32(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case decimal.Decimal:
		return x, true
	default:
		return decimal.Zero, false
	}
}

func addTotal(total float64, delta decimal.Decimal) float64 {
	return round2(decimal.NewFromFloat(total).Add(delta))
}

func recomputeTotal(rows []Row) float64 {
	sum := decimal.Zero
	for _, r := range rows {
		if amt, ok := amountOf(r.Data); ok {
			sum = sum.Add(amt)
		}
	}
	return round2(sum)
}

func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
