// Package automation holds the shared data model for automations: trigger,
// actions, the persisted Automation document, and its run history.
package automation

import "time"

type TriggerKind string

const (
	TriggerSchedule TriggerKind = "schedule" // cron-based
	TriggerRealtime TriggerKind = "realtime" // on new email
	TriggerManual   TriggerKind = "manual"   // user triggered
)

type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// Trigger describes when an automation fires.
//
// Cron is a 5-field expression (minute hour dom month dow). The dow field
// follows the parser's convention of 0=Monday .. 6=Sunday; the scheduler
// remaps it to standard cron (0=Sunday) when arming the timer.
// Invariant: Kind == TriggerSchedule implies a resolvable Cron.
type Trigger struct {
	Kind      TriggerKind `json:"kind"`
	Cron      string      `json:"cron,omitempty"`
	Frequency Frequency   `json:"frequency,omitempty"`
	DayOfWeek *int        `json:"day_of_week,omitempty"` // 0=Monday .. 6=Sunday
	Hour      int         `json:"hour"`
	Minute    int         `json:"minute"`
}

type ActionType string

const (
	ActionSearchInvoices ActionType = "search_invoices"
	ActionExtractAmounts ActionType = "extract_amounts"
	ActionUpdateTable    ActionType = "update_table"
	ActionSendAlert      ActionType = "send_alert"
	ActionExportCSV      ActionType = "export_csv"
)

// Action is one step of an automation. Execution order is declaration order.
type Action struct {
	Type           ActionType `json:"type"`
	Vendors        []string   `json:"vendors,omitempty"`
	TableID        string     `json:"table_id,omitempty"`
	AlertThreshold *float64   `json:"alert_threshold,omitempty"`
}

type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusError  Status = "error"
)

// Automation is the persisted document. Owned by one user; created by the
// engine, mutated by the engine (on run) and by pause/resume, removed on
// explicit delete.
type Automation struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	AccountID   string   `json:"account_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Trigger     Trigger  `json:"trigger"`
	Actions     []Action `json:"actions"`
	Vendors     []string `json:"vendors"`
	TableID     string   `json:"table_id,omitempty"`
	Status      Status   `json:"status"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`

	// RunCount only ever increases, and only on successful runs.
	RunCount int `json:"run_count"`

	// LastError holds the message of the most recent failed run; empty after
	// a successful run. A failed run does not flip Status: the automation
	// stays scheduled and LastError is its health indicator.
	LastError string `json:"last_error,omitempty"`
}

type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run is one execution of an automation. Created at run start; never mutated
// again once CompletedAt is set. The run history is the durable audit trail.
type Run struct {
	ID           string     `json:"id"`
	AutomationID string     `json:"automation_id"`
	OwnerID      string     `json:"owner_id"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Status       RunStatus  `json:"status"`

	EmailsProcessed int        `json:"emails_processed"`
	RowsAdded       int        `json:"rows_added"`
	Results         RunResults `json:"results"`
	Error           string     `json:"error,omitempty"`
}

// RunResults is the free-form outcome blob attached to a run.
type RunResults struct {
	InvoicesFound int            `json:"invoices_found"`
	ByVendor      map[string]int `json:"by_vendor,omitempty"`

	// CSV holds the rendered table export when the automation carries an
	// export_csv action.
	CSV string `json:"csv,omitempty"`
}

// Config is the parser's output: everything needed to create an automation.
type Config struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	TableName   string   `json:"table_name,omitempty"`
	Trigger     Trigger  `json:"trigger"`
	Actions     []Action `json:"actions"`
	Vendors     []string `json:"vendors"`
}
