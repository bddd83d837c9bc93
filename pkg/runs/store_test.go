package runs

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/redstone-qa/reporter/pkg/apierr"
	"github.com/redstone-qa/reporter/pkg/catalog"
	"github.com/redstone-qa/reporter/pkg/screenshots"
)

// newTestDB opens an in-memory SQLite DB with both the catalog and run
// tables migrated, since runs hold weak references into the catalog.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, catalog.NewCatalogStore(db).AutoMigrate())
	require.NoError(t, NewRunStore(db, nil, slog.Default()).AutoMigrate())
	return db
}

func newTestStore(t *testing.T) (*RunStore, *catalog.CatalogStore) {
	t.Helper()
	db := newTestDB(t)
	return NewRunStore(db, nil, slog.Default()), catalog.NewCatalogStore(db)
}

// newTestStoreWithShots is newTestStore with a real screenshot file
// store attached, for exercising file cleanup.
func newTestStoreWithShots(t *testing.T) (*RunStore, *screenshots.FileStore) {
	t.Helper()
	shots := screenshots.NewFileStore(t.TempDir(), slog.Default())
	return NewRunStore(newTestDB(t), shots, slog.Default()), shots
}

func int64p(v int64) *int64 { return &v }

func TestStartAndFinishRun(t *testing.T) {
	store, _ := newTestStore(t)

	run, err := store.StartRun("nightly", nil)
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Nil(t, run.EndTime)
	assert.Nil(t, run.Duration())

	finished, err := store.FinishRun(run.ID, false)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, finished.Status)
	require.NotNil(t, finished.EndTime)
	require.NotNil(t, finished.Duration())

	// A terminal run never transitions again.
	_, err = store.FinishRun(run.ID, true)
	require.Error(t, err)
	assert.True(t, apierr.IsConflict(err))
}

func TestStartRunValidation(t *testing.T) {
	store, catalogStore := newTestStore(t)

	_, err := store.StartRun("", nil)
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	// Unknown project reference is rejected.
	unknown := "no-such-project"
	_, err = store.StartRun("nightly", &unknown)
	require.Error(t, err)
	assert.True(t, apierr.IsNotFound(err))

	project, err := catalogStore.CreateProject("checkout", "")
	require.NoError(t, err)
	run, err := store.StartRun("nightly", &project.ID)
	require.NoError(t, err)
	require.NotNil(t, run.ProjectID)
	assert.Equal(t, project.ID, *run.ProjectID)
}

func TestAbortRun(t *testing.T) {
	store, _ := newTestStore(t)

	run, err := store.StartRun("nightly", nil)
	require.NoError(t, err)

	aborted, err := store.FinishRun(run.ID, true)
	require.NoError(t, err)
	assert.Equal(t, RunStatusAborted, aborted.Status)
}

func TestReportCase(t *testing.T) {
	store, _ := newTestStore(t)
	run, err := store.StartRun("nightly", nil)
	require.NoError(t, err)

	testCase, err := store.ReportCase(run.ID, CaseReport{
		Name:     "login works",
		Status:   StatusPassed,
		Duration: int64p(1200),
		Steps: []StepReport{
			{Description: "open login page", Status: StatusPassed},
			{Description: "submit credentials", Status: StatusPassed},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, testCase.ID)
	assert.Equal(t, run.ID, testCase.RunID)

	steps, err := store.GetSteps(testCase.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 0, steps[0].OrderIndex)
	assert.Equal(t, "open login page", steps[0].Description)
	assert.Equal(t, 1, steps[1].OrderIndex)
}

func TestReportCaseValidation(t *testing.T) {
	store, _ := newTestStore(t)
	run, err := store.StartRun("nightly", nil)
	require.NoError(t, err)

	cases := []CaseReport{
		{Name: "", Status: StatusPassed},
		{Name: "x", Status: "exploded"},
		{Name: "x", Status: StatusPassed, Steps: []StepReport{{Description: "", Status: StatusPassed}}},
		{Name: "x", Status: StatusPassed, Steps: []StepReport{{Description: "ok", Status: "meh"}}},
	}
	for i, report := range cases {
		_, err := store.ReportCase(run.ID, report)
		require.Error(t, err, "case %d", i)
		assert.Equal(t, apierr.KindValidation, apierr.KindOf(err), "case %d", i)
	}
}

func TestReportCaseIntoTerminalRun(t *testing.T) {
	store, _ := newTestStore(t)
	run, err := store.StartRun("nightly", nil)
	require.NoError(t, err)
	_, err = store.FinishRun(run.ID, false)
	require.NoError(t, err)

	_, err = store.ReportCase(run.ID, CaseReport{Name: "late", Status: StatusPassed})
	require.Error(t, err)
	assert.True(t, apierr.IsConflict(err))
}

func TestReportCaseDefinitionLink(t *testing.T) {
	store, catalogStore := newTestStore(t)
	run, err := store.StartRun("nightly", nil)
	require.NoError(t, err)

	project, err := catalogStore.CreateProject("checkout", "")
	require.NoError(t, err)
	epic, err := catalogStore.CreateEpic(project.ID, "payments", "", "")
	require.NoError(t, err)
	feature, err := catalogStore.CreateFeature(epic.ID, "cards", "")
	require.NoError(t, err)
	definition, err := catalogStore.CreateDefinition(feature.ID, catalog.DefinitionInput{Title: "pay with visa"})
	require.NoError(t, err)

	testCase, err := store.ReportCase(run.ID, CaseReport{
		Name:         "pay with visa",
		Status:       StatusPassed,
		DefinitionID: &definition.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, testCase.DefinitionID)
	assert.Equal(t, definition.ID, *testCase.DefinitionID)

	// An unresolvable link fails the report instead of being dropped.
	bogus := "no-such-definition"
	_, err = store.ReportCase(run.ID, CaseReport{
		Name:         "bad link",
		Status:       StatusPassed,
		DefinitionID: &bogus,
	})
	require.Error(t, err)
	assert.True(t, apierr.IsNotFound(err))

	// The execution count follows the link.
	count, err := catalogStore.CountExecutions(definition.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCheckpoint(t *testing.T) {
	store, _ := newTestStore(t)
	run, err := store.StartRun("nightly", nil)
	require.NoError(t, err)

	names, err := store.Checkpoint(run.ID)
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"login works", "logout works", "login works"} {
		_, err := store.ReportCase(run.ID, CaseReport{Name: name, Status: StatusPassed})
		require.NoError(t, err)
	}

	names, err = store.Checkpoint(run.ID)
	require.NoError(t, err)
	// Duplicate names collapse: the checkpoint is a membership set.
	assert.ElementsMatch(t, []string{"login works", "logout works"}, names)

	_, err = store.Checkpoint("no-such-run")
	require.Error(t, err)
	assert.True(t, apierr.IsNotFound(err))
}

func TestListCasesByRun(t *testing.T) {
	store, _ := newTestStore(t)
	run, err := store.StartRun("nightly", nil)
	require.NoError(t, err)

	_, err = store.ReportCase(run.ID, CaseReport{Name: "a", Status: StatusPassed})
	require.NoError(t, err)
	_, err = store.ReportCase(run.ID, CaseReport{Name: "b", Status: StatusFailed})
	require.NoError(t, err)
	_, err = store.ReportCase(run.ID, CaseReport{Name: "c", Status: StatusSkipped})
	require.NoError(t, err)

	all, err := store.ListCasesByRun(run.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed, err := store.ListCasesByRun(run.ID, StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].Name)

	_, err = store.ListCasesByRun(run.ID, "exploded")
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestDeleteCase(t *testing.T) {
	store, _ := newTestStore(t)
	run, err := store.StartRun("nightly", nil)
	require.NoError(t, err)

	testCase, err := store.ReportCase(run.ID, CaseReport{
		Name:   "login works",
		Status: StatusPassed,
		Steps:  []StepReport{{Description: "open login page", Status: StatusPassed}},
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteCase(testCase.ID))

	_, err = store.GetCase(testCase.ID)
	assert.True(t, apierr.IsNotFound(err))
	steps, err := store.GetSteps(testCase.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)

	err = store.DeleteCase(testCase.ID)
	require.Error(t, err)
	assert.True(t, apierr.IsNotFound(err))
}

func TestDeleteCaseRemovesScreenshot(t *testing.T) {
	store, shots := newTestStoreWithShots(t)
	run, err := store.StartRun("nightly", nil)
	require.NoError(t, err)

	rel, err := shots.Save(run.ID, "login works", "login.png", strings.NewReader("png-bytes"))
	require.NoError(t, err)

	testCase, err := store.ReportCase(run.ID, CaseReport{
		Name:           "login works",
		Status:         StatusFailed,
		ScreenshotPath: rel,
	})
	require.NoError(t, err)

	_, err = shots.Resolve(rel)
	require.NoError(t, err)

	require.NoError(t, store.DeleteCase(testCase.ID))

	_, err = store.GetCase(testCase.ID)
	assert.True(t, apierr.IsNotFound(err))
	_, err = shots.Resolve(rel)
	assert.True(t, apierr.IsNotFound(err), "screenshot file should be gone")
}

// failingRemover stands in for a file store whose backing disk is gone.
type failingRemover struct{}

func (failingRemover) Delete(string) error {
	return apierr.Storage("delete screenshot file", errors.New("read-only file system"))
}

func TestDeleteCaseSurvivesScreenshotRemovalFailure(t *testing.T) {
	store := NewRunStore(newTestDB(t), failingRemover{}, slog.Default())
	run, err := store.StartRun("nightly", nil)
	require.NoError(t, err)

	testCase, err := store.ReportCase(run.ID, CaseReport{
		Name:           "login works",
		Status:         StatusFailed,
		ScreenshotPath: "r/gone.png",
	})
	require.NoError(t, err)

	// The record delete wins; the file failure is only logged.
	require.NoError(t, store.DeleteCase(testCase.ID))
	_, err = store.GetCase(testCase.ID)
	assert.True(t, apierr.IsNotFound(err))
}

func TestListRuns(t *testing.T) {
	store, _ := newTestStore(t)

	for _, name := range []string{"one", "two", "three"} {
		_, err := store.StartRun(name, nil)
		require.NoError(t, err)
	}

	listed, err := store.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	limited, err := store.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRunStatistics(t *testing.T) {
	store, _ := newTestStore(t)
	run, err := store.StartRun("nightly", nil)
	require.NoError(t, err)

	reports := []CaseReport{
		{Name: "a", Status: StatusPassed, Duration: int64p(100)},
		{Name: "b", Status: StatusPassed, Duration: int64p(300)},
		{Name: "c", Status: StatusFailed, Duration: int64p(500)},
		{Name: "d", Status: StatusSkipped},
	}
	for _, report := range reports {
		_, err := store.ReportCase(run.ID, report)
		require.NoError(t, err)
	}

	stats, err := store.RunStatistics(run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalTests)
	assert.Equal(t, int64(2), stats.Passed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Skipped)
	assert.InDelta(t, 50.0, stats.SuccessRate, 0.001)
	assert.Equal(t, int64(300), stats.AvgDuration)

	// Empty run.
	empty, err := store.StartRun("empty", nil)
	require.NoError(t, err)
	stats, err = store.RunStatistics(empty.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalTests)
	assert.Zero(t, stats.SuccessRate)
}
