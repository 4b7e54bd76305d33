package table_test

import (
	"context"
	"math"
	"strings"
	"testing"

	"invomat/internal/store"
	"invomat/internal/table"
	"invomat/pkg/logx"
)

func newTestManager(t *testing.T) (*table.Manager, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return table.NewManager(mem, logx.Nop()), mem
}

func mustCreate(t *testing.T, m *table.Manager) *table.Table {
	t.Helper()
	tbl, err := m.Create(context.Background(), "user-1", "Factures Distram 2025", "", nil, 2025, "auto-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tbl
}

func invoiceRow(msgID, vendor string, amount float64) table.NewRow {
	return table.NewRow{
		Data: map[string]any{
			table.FieldDate:    "2025-03-10",
			table.FieldVendor:  vendor,
			table.FieldAmount:  amount,
			table.FieldEmailID: msgID,
			table.FieldPaid:    false,
		},
		SourceMessageID: msgID,
	}
}

func TestCreateDefaults(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	tbl := mustCreate(t, m)

	if len(tbl.Columns) != len(table.InvoiceColumns()) {
		t.Fatalf("got %d columns, want default invoice set", len(tbl.Columns))
	}
	if tbl.Year != 2025 {
		t.Fatalf("Year = %d, want 2025", tbl.Year)
	}
	if tbl.RunningTotal != 0 {
		t.Fatalf("RunningTotal = %f, want 0", tbl.RunningTotal)
	}
}

func TestAddRowsBulkUpdatesTotal(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	tbl := mustCreate(t, m)
	ctx := context.Background()

	n, err := m.AddRowsBulk(ctx, tbl.ID, []table.NewRow{
		invoiceRow("m1", "distram", 100.10),
		invoiceRow("m2", "distram", 0.20),
		invoiceRow("m3", "promocash", 49.99),
	}, "run-1")
	if err != nil {
		t.Fatalf("AddRowsBulk: %v", err)
	}
	if n != 3 {
		t.Fatalf("inserted = %d, want 3", n)
	}

	got, err := m.Get(ctx, tbl.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// 100.10 + 0.20 + 49.99 must not accumulate float error.
	if got.RunningTotal != 150.29 {
		t.Fatalf("RunningTotal = %v, want 150.29", got.RunningTotal)
	}
	for _, r := range got.Rows {
		if r.SourceRunID != "run-1" {
			t.Fatalf("SourceRunID = %q, want run-1", r.SourceRunID)
		}
	}
}

func TestDeleteRowAdjustsTotal(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	tbl := mustCreate(t, m)
	ctx := context.Background()

	if _, err := m.AddRowsBulk(ctx, tbl.ID, []table.NewRow{
		invoiceRow("m1", "distram", 100),
		invoiceRow("m2", "distram", 50.5),
	}, "run-1"); err != nil {
		t.Fatalf("AddRowsBulk: %v", err)
	}

	got, _ := m.Get(ctx, tbl.ID)
	if err := m.DeleteRow(ctx, tbl.ID, got.Rows[0].ID); err != nil {
		t.Fatalf("DeleteRow: %v", err)
	}

	got, _ = m.Get(ctx, tbl.ID)
	if len(got.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(got.Rows))
	}
	if got.RunningTotal != 50.5 {
		t.Fatalf("RunningTotal = %v, want 50.5", got.RunningTotal)
	}

	if err := m.DeleteRow(ctx, tbl.ID, "nope"); err == nil {
		t.Fatal("expected error for unknown row")
	}
}

func TestUpdateRowRecomputesTotal(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	tbl := mustCreate(t, m)
	ctx := context.Background()

	rowID, err := m.AddRow(ctx, tbl.ID, invoiceRow("m1", "distram", 100), "run-1")
	if err != nil {
		t.Fatalf("AddRow: %v", err)
	}

	data := invoiceRow("m1", "distram", 75.25).Data
	if err := m.UpdateRow(ctx, tbl.ID, rowID, data); err != nil {
		t.Fatalf("UpdateRow: %v", err)
	}

	got, _ := m.Get(ctx, tbl.ID)
	if got.RunningTotal != 75.25 {
		t.Fatalf("RunningTotal = %v, want 75.25", got.RunningTotal)
	}
}

func TestTogglePaid(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	tbl := mustCreate(t, m)
	ctx := context.Background()

	rowID, err := m.AddRow(ctx, tbl.ID, invoiceRow("m1", "distram", 10), "run-1")
	if err != nil {
		t.Fatalf("AddRow: %v", err)
	}

	paid, err := m.TogglePaid(ctx, tbl.ID, rowID)
	if err != nil || !paid {
		t.Fatalf("TogglePaid = %v, %v; want true, nil", paid, err)
	}
	paid, err = m.TogglePaid(ctx, tbl.ID, rowID)
	if err != nil || paid {
		t.Fatalf("TogglePaid = %v, %v; want false, nil", paid, err)
	}
}

func TestCheckDuplicate(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	tbl := mustCreate(t, m)
	ctx := context.Background()

	if _, err := m.AddRow(ctx, tbl.ID, invoiceRow("msg-abc", "distram", 10), "run-1"); err != nil {
		t.Fatalf("AddRow: %v", err)
	}

	dup, err := m.CheckDuplicate(ctx, tbl.ID, "msg-abc")
	if err != nil || !dup {
		t.Fatalf("CheckDuplicate = %v, %v; want true, nil", dup, err)
	}
	dup, err = m.CheckDuplicate(ctx, tbl.ID, "msg-other")
	if err != nil || dup {
		t.Fatalf("CheckDuplicate = %v, %v; want false, nil", dup, err)
	}
	// Empty ids never match anything.
	dup, err = m.CheckDuplicate(ctx, tbl.ID, "")
	if err != nil || dup {
		t.Fatalf("CheckDuplicate(\"\") = %v, %v; want false, nil", dup, err)
	}
}

func TestExportCSV(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	tbl := mustCreate(t, m)
	ctx := context.Background()

	if _, err := m.AddRow(ctx, tbl.ID, invoiceRow("m1", "distram", 1234.5), "run-1"); err != nil {
		t.Fatalf("AddRow: %v", err)
	}

	out, err := m.ExportCSV(ctx, tbl.ID)
	if err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out)
	}
	if lines[0] != "date,vendor,amount,invoice_number,email_id,paid" {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "1234.50 €") {
		t.Fatalf("currency formatting missing in %q", lines[1])
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	tbl := mustCreate(t, m)
	ctx := context.Background()

	rows := []table.NewRow{
		invoiceRow("m1", "distram", 100),
		invoiceRow("m2", "distram", 50),
		invoiceRow("m3", "promocash", 25.5),
	}
	// One row without a vendor ends up in the "autre" bucket.
	rows = append(rows, table.NewRow{
		Data:            map[string]any{table.FieldAmount: 10.0},
		SourceMessageID: "m4",
	})
	if _, err := m.AddRowsBulk(ctx, tbl.ID, rows, "run-1"); err != nil {
		t.Fatalf("AddRowsBulk: %v", err)
	}

	got, _ := m.Get(ctx, tbl.ID)
	if _, err := m.TogglePaid(ctx, tbl.ID, got.Rows[0].ID); err != nil {
		t.Fatalf("TogglePaid: %v", err)
	}

	stats, err := m.Stats(ctx, tbl.ID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.RowCount != 4 {
		t.Fatalf("RowCount = %d, want 4", stats.RowCount)
	}
	if stats.Total != 185.5 {
		t.Fatalf("Total = %v, want 185.5", stats.Total)
	}
	if vs := stats.ByVendor["distram"]; vs.Count != 2 || vs.Total != 150 {
		t.Fatalf("distram = %+v, want {2 150}", vs)
	}
	if vs := stats.ByVendor["autre"]; vs.Count != 1 || vs.Total != 10 {
		t.Fatalf("autre = %+v, want {1 10}", vs)
	}
	if stats.PaidCount != 1 || stats.PaidTotal != 100 {
		t.Fatalf("paid = %d/%v, want 1/100", stats.PaidCount, stats.PaidTotal)
	}
	if stats.UnpaidCount != 3 || math.Abs(stats.UnpaidTotal-85.5) > 1e-9 {
		t.Fatalf("unpaid = %d/%v, want 3/85.5", stats.UnpaidCount, stats.UnpaidTotal)
	}
}
