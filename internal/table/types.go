// Package table implements the aggregated tabular store fed by automations:
// append-only rows with source-message dedup, an always-consistent running
// total, CSV export and per-vendor statistics.
package table

import "time"

type ColumnType string

const (
	ColDate     ColumnType = "date"
	ColText     ColumnType = "text"
	ColNumber   ColumnType = "number"
	ColCurrency ColumnType = "currency"
	ColBoolean  ColumnType = "boolean"
)

type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Row is one table entry. Data maps column name to value. SourceMessageID
// (when set) is the dedup key; SourceRunID records which automation run
// produced the row.
type Row struct {
	ID              string         `json:"id"`
	Data            map[string]any `json:"data"`
	CreatedAt       time.Time      `json:"created_at"`
	SourceMessageID string         `json:"source_message_id,omitempty"`
	SourceRunID     string         `json:"source_run_id,omitempty"`
}

// Table is the persisted document; rows are embedded in declaration order.
//
// Invariant: RunningTotal equals the sum of the numeric "amount" field over
// all current rows. Every mutation that adds or removes amounts adjusts the
// total in the same atomic document update.
type Table struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Columns      []Column  `json:"columns"`
	Rows         []Row     `json:"rows"`
	Year         int       `json:"year,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	AutomationID string    `json:"automation_id,omitempty"`
	RunningTotal float64   `json:"running_total"`
}

// Payload keys used by invoice rows.
const (
	FieldDate          = "date"
	FieldVendor        = "vendor"
	FieldAmount        = "amount"
	FieldInvoiceNumber = "invoice_number"
	FieldEmailID       = "email_id"
	FieldPaid          = "paid"
)

// InvoiceColumns is the default column set for invoice tables.
func InvoiceColumns() []Column {
	return []Column{
		{Name: FieldDate, Type: ColDate},
		{Name: FieldVendor, Type: ColText},
		{Name: FieldAmount, Type: ColCurrency},
		{Name: FieldInvoiceNumber, Type: ColText},
		{Name: FieldEmailID, Type: ColText},
		{Name: FieldPaid, Type: ColBoolean},
	}
}
