package runs

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/redstone-qa/reporter/pkg/apierr"
	"github.com/redstone-qa/reporter/pkg/catalog"
)

// ScreenshotRemover deletes a stored screenshot by its relative path.
// Satisfied by screenshots.FileStore.
type ScreenshotRemover interface {
	Delete(rel string) error
}

// RunStore provides ingestion and read operations for test runs, cases,
// and steps.
type RunStore struct {
	db     *gorm.DB
	shots  ScreenshotRemover
	logger *slog.Logger
}

// NewRunStore creates a new RunStore. shots may be nil in deployments
// without a screenshot store.
func NewRunStore(db *gorm.DB, shots ScreenshotRemover, logger *slog.Logger) *RunStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunStore{db: db, shots: shots, logger: logger}
}

// AutoMigrate creates or updates the execution tables.
func (s *RunStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&TestRun{}, &TestCase{}, &TestStep{}); err != nil {
		return fmt.Errorf("auto-migrate run tables: %w", err)
	}
	return nil
}

// StartRun creates a new run in the running state. projectID, when given,
// must resolve to an existing catalog project.
func (s *RunStore) StartRun(name string, projectID *string) (*TestRun, error) {
	if name == "" {
		return nil, apierr.Validationf("run name must not be empty")
	}
	if projectID != nil && *projectID != "" {
		var project catalog.Project
		if err := s.db.First(&project, "id = ?", *projectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apierr.NotFoundf("project %s not found", *projectID)
			}
			return nil, apierr.Storage("resolve project", err)
		}
	} else {
		projectID = nil
	}

	run := &TestRun{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    RunStatusRunning,
		StartTime: time.Now().UTC(),
		ProjectID: projectID,
	}
	if err := s.db.Create(run).Error; err != nil {
		return nil, apierr.Storage("create run", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *RunStore) GetRun(id string) (*TestRun, error) {
	var run TestRun
	if err := s.db.First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFoundf("test run %s not found", id)
		}
		return nil, apierr.Storage("get run", err)
	}
	return &run, nil
}

// ListRuns returns up to limit runs, most recently started first.
func (s *RunStore) ListRuns(limit int) ([]TestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var listed []TestRun
	if err := s.db.Order("start_time DESC").Limit(limit).Find(&listed).Error; err != nil {
		return nil, apierr.Storage("list runs", err)
	}
	return listed, nil
}

// StepReport is one reported step of a case, in submission order.
type StepReport struct {
	Description string `json:"description"`
	Status      string `json:"status"`
}

// CaseReport is the payload of one report call. ScreenshotPath is the
// relative path of an already-stored screenshot file, if any.
type CaseReport struct {
	Name           string       `json:"name"`
	Status         string       `json:"status"`
	Duration       *int64       `json:"duration"`
	Steps          []StepReport `json:"steps"`
	ErrorMessage   string       `json:"error_message"`
	ErrorStack     string       `json:"error_stack"`
	DefinitionID   *string      `json:"definition_id"`
	ScreenshotPath string       `json:"-"`
}

// validate checks the report fields before any mutation.
func (r *CaseReport) validate() error {
	if r.Name == "" {
		return apierr.Validationf("case name must not be empty")
	}
	if !ValidTestStatus(r.Status) {
		return apierr.Validationf("invalid case status %q", r.Status)
	}
	for i, step := range r.Steps {
		if step.Description == "" {
			return apierr.Validationf("step %d description must not be empty", i)
		}
		if !ValidTestStatus(step.Status) {
			return apierr.Validationf("step %d has invalid status %q", i, step.Status)
		}
	}
	return nil
}

// resolveDefinition normalizes a reported definition reference. Nil or
// empty means the case is unlinked; anything else must exist in the
// catalog.
func (s *RunStore) resolveDefinition(id *string) (*string, error) {
	if id == nil || *id == "" {
		return nil, nil
	}
	var definition catalog.TestCaseDefinition
	if err := s.db.First(&definition, "id = ?", *id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFoundf("test case definition %s not found", *id)
		}
		return nil, apierr.Storage("resolve definition", err)
	}
	return id, nil
}

// ReportCase persists one test case and its ordered steps as a single
// unit. The run must exist and still be running; reporting into a
// terminal run is rejected. A definition_id that does not resolve fails
// the report rather than silently dropping the link.
func (s *RunStore) ReportCase(runID string, report CaseReport) (*TestCase, error) {
	if err := report.validate(); err != nil {
		return nil, err
	}

	run, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Terminal() {
		return nil, apierr.Conflictf("test run %s is already %s", runID, run.Status)
	}

	definitionID, err := s.resolveDefinition(report.DefinitionID)
	if err != nil {
		return nil, err
	}

	testCase := &TestCase{
		ID:             uuid.New().String(),
		RunID:          runID,
		Name:           report.Name,
		Status:         report.Status,
		Duration:       report.Duration,
		ErrorMessage:   report.ErrorMessage,
		ErrorStack:     report.ErrorStack,
		ScreenshotPath: report.ScreenshotPath,
		DefinitionID:   definitionID,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(testCase).Error; err != nil {
			return fmt.Errorf("create test case: %w", err)
		}
		for i, step := range report.Steps {
			record := &TestStep{
				CaseID:      testCase.ID,
				Description: step.Description,
				Status:      step.Status,
				OrderIndex:  i,
			}
			if err := tx.Create(record).Error; err != nil {
				return fmt.Errorf("create test step %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apierr.Storage("report case", err)
	}
	return testCase, nil
}

// FinishRun transitions a running run to completed, or aborted when
// aborted is true, and stamps the end time. Terminal runs never
// transition again.
func (s *RunStore) FinishRun(runID string, aborted bool) (*TestRun, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Terminal() {
		return nil, apierr.Conflictf("test run %s is already %s", runID, run.Status)
	}

	now := time.Now().UTC()
	run.Status = RunStatusCompleted
	if aborted {
		run.Status = RunStatusAborted
	}
	run.EndTime = &now
	if err := s.db.Save(run).Error; err != nil {
		return nil, apierr.Storage("finish run", err)
	}
	return run, nil
}

// GetCase retrieves a test case by ID.
func (s *RunStore) GetCase(id string) (*TestCase, error) {
	var testCase TestCase
	if err := s.db.First(&testCase, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFoundf("test case %s not found", id)
		}
		return nil, apierr.Storage("get case", err)
	}
	return &testCase, nil
}

// GetSteps returns the steps of a case in authoritative order.
func (s *RunStore) GetSteps(caseID string) ([]TestStep, error) {
	var steps []TestStep
	if err := s.db.Where("case_id = ?", caseID).Order("order_index ASC").Find(&steps).Error; err != nil {
		return nil, apierr.Storage("get steps", err)
	}
	return steps, nil
}

// ListCasesByRun returns the cases of a run in report order, optionally
// filtered by status.
func (s *RunStore) ListCasesByRun(runID, status string) ([]TestCase, error) {
	if _, err := s.GetRun(runID); err != nil {
		return nil, err
	}
	query := s.db.Where("run_id = ?", runID)
	if status != "" {
		if !ValidTestStatus(status) {
			return nil, apierr.Validationf("invalid status filter %q", status)
		}
		query = query.Where("status = ?", status)
	}
	var cases []TestCase
	if err := query.Order("created_at ASC").Find(&cases).Error; err != nil {
		return nil, apierr.Storage("list cases", err)
	}
	return cases, nil
}

// DeleteCase hard-deletes a case, its steps, and its screenshot file.
// Execution data is disposable; a repeated delete returns NotFound.
func (s *RunStore) DeleteCase(caseID string) error {
	testCase, err := s.GetCase(caseID)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("case_id = ?", caseID).Delete(&TestStep{}).Error; err != nil {
			return fmt.Errorf("delete test steps: %w", err)
		}
		if err := tx.Delete(testCase).Error; err != nil {
			return fmt.Errorf("delete test case: %w", err)
		}
		return nil
	})
	if err != nil {
		return apierr.Storage("delete case", err)
	}

	if testCase.ScreenshotPath != "" && s.shots != nil {
		if err := s.shots.Delete(testCase.ScreenshotPath); err != nil {
			s.logger.Warn("failed to delete screenshot",
				"case", caseID, "path", testCase.ScreenshotPath, "error", err)
		}
	}
	return nil
}

// Checkpoint returns the distinct case names already recorded for a run.
// Matching is by name, not definition_id: the legacy ingestion mode has
// no catalog and only names to key on. Clients treat the result as a set.
func (s *RunStore) Checkpoint(runID string) ([]string, error) {
	if _, err := s.GetRun(runID); err != nil {
		return nil, err
	}
	var names []string
	if err := s.db.Model(&TestCase{}).Where("run_id = ?", runID).
		Distinct("name").Pluck("name", &names).Error; err != nil {
		return nil, apierr.Storage("checkpoint query", err)
	}
	return names, nil
}

// ScreenshotPaths returns every screenshot path referenced by a test
// case. Used by the orphan sweeper.
func (s *RunStore) ScreenshotPaths() ([]string, error) {
	var paths []string
	if err := s.db.Model(&TestCase{}).Where("screenshot_path <> ''").
		Pluck("screenshot_path", &paths).Error; err != nil {
		return nil, apierr.Storage("list screenshot paths", err)
	}
	return paths, nil
}
