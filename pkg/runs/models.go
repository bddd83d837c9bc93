package runs

import (
	"time"
)

// Run lifecycle statuses. Transitions are one-directional: running may
// become completed or aborted; terminal states never change.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusAborted   = "aborted"
)

// Test case and step outcome statuses.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// ValidTestStatus reports whether s is a known case/step outcome.
func ValidTestStatus(s string) bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// TestRun is one execution session of a test suite. ProjectID is a weak
// back-reference into the catalog; runs reported before the catalog
// existed have none.
type TestRun struct {
	ID        string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name      string     `gorm:"column:name;size:255;index:idx_runs_name;not null"`
	Status    string     `gorm:"column:status;size:20;default:running;not null"`
	StartTime time.Time  `gorm:"column:start_time;not null"`
	EndTime   *time.Time `gorm:"column:end_time"`
	ProjectID *string    `gorm:"column:project_id;type:varchar(36);index:idx_runs_project"`
}

// TableName returns the GORM table name.
func (TestRun) TableName() string { return "test_runs" }

// Terminal reports whether the run has reached a final state.
func (r *TestRun) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusAborted
}

// Duration returns the run duration in milliseconds, or nil while running.
func (r *TestRun) Duration() *int64 {
	if r.EndTime == nil {
		return nil
	}
	ms := r.EndTime.Sub(r.StartTime).Milliseconds()
	return &ms
}

// TestCase is the recorded outcome of executing one test within a run.
// DefinitionID is a weak back-reference into the catalog.
type TestCase struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	RunID          string    `gorm:"column:run_id;type:varchar(36);index:idx_cases_run;not null"`
	Name           string    `gorm:"column:name;size:255;index:idx_cases_name;not null"`
	Status         string    `gorm:"column:status;size:20;not null"`
	Duration       *int64    `gorm:"column:duration"`
	ErrorMessage   string    `gorm:"column:error_message;type:text"`
	ErrorStack     string    `gorm:"column:error_stack;type:text"`
	ScreenshotPath string    `gorm:"column:screenshot_path"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	DefinitionID   *string   `gorm:"column:definition_id;type:varchar(36);index:idx_cases_definition"`
}

// TableName returns the GORM table name.
func (TestCase) TableName() string { return "test_cases" }

// TestStep is one recorded sub-action within a case. The order_index
// sequence is the authoritative step order.
type TestStep struct {
	ID          uint   `gorm:"primaryKey;column:id;autoIncrement"`
	CaseID      string `gorm:"column:case_id;type:varchar(36);index:idx_steps_case_order,priority:1;not null"`
	Description string `gorm:"column:description;size:500;not null"`
	Status      string `gorm:"column:status;size:20;not null"`
	OrderIndex  int    `gorm:"column:order_index;index:idx_steps_case_order,priority:2;not null"`
}

// TableName returns the GORM table name.
func (TestStep) TableName() string { return "test_steps" }
