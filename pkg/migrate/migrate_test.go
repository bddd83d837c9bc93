package migrate

import (
	"context"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/redstone-qa/reporter/pkg/catalog"
	"github.com/redstone-qa/reporter/pkg/runs"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

// seedSource fills a database with a small but complete data set: a full
// catalog chain, a linked run with cases and steps, and one unlinked run.
func seedSource(t *testing.T, db *gorm.DB) {
	t.Helper()

	catalogStore := catalog.NewCatalogStore(db)
	require.NoError(t, catalogStore.AutoMigrate())
	runStore := runs.NewRunStore(db, nil, slog.Default())
	require.NoError(t, runStore.AutoMigrate())

	project, err := catalogStore.CreateProject("checkout", "checkout flows")
	require.NoError(t, err)
	epic, err := catalogStore.CreateEpic(project.ID, "payments", "", "JIRA-42")
	require.NoError(t, err)
	feature, err := catalogStore.CreateFeature(epic.ID, "cards", "")
	require.NoError(t, err)
	definition, err := catalogStore.CreateDefinition(feature.ID, catalog.DefinitionInput{
		Title:    "pay with visa",
		Steps:    []catalog.DefinitionStep{{Description: "open checkout"}, {Description: "pay"}},
		Priority: catalog.PriorityCritical,
	})
	require.NoError(t, err)

	run, err := runStore.StartRun("nightly", &project.ID)
	require.NoError(t, err)
	_, err = runStore.ReportCase(run.ID, runs.CaseReport{
		Name:         "pay with visa",
		Status:       runs.StatusPassed,
		DefinitionID: &definition.ID,
		Steps: []runs.StepReport{
			{Description: "open checkout", Status: runs.StatusPassed},
			{Description: "pay", Status: runs.StatusPassed},
		},
	})
	require.NoError(t, err)
	_, err = runStore.ReportCase(run.ID, runs.CaseReport{Name: "pay with amex", Status: runs.StatusFailed})
	require.NoError(t, err)
	_, err = runStore.FinishRun(run.ID, false)
	require.NoError(t, err)

	_, err = runStore.StartRun("smoke", nil)
	require.NoError(t, err)
}

func TestMigrateFullDataSet(t *testing.T) {
	source := newTestDB(t)
	target := newTestDB(t)
	seedSource(t, source)

	summary, err := New(source, target, slog.Default()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Counts{Migrated: 1}, summary.Projects)
	assert.Equal(t, Counts{Migrated: 1}, summary.Epics)
	assert.Equal(t, Counts{Migrated: 1}, summary.Features)
	assert.Equal(t, Counts{Migrated: 1}, summary.Definitions)
	assert.Equal(t, Counts{Migrated: 2}, summary.Runs)
	assert.Equal(t, Counts{Migrated: 2}, summary.Cases)

	// Foreign keys were remapped onto the target's new identifiers.
	var project catalog.Project
	require.NoError(t, target.First(&project, "name = ?", "checkout").Error)
	var epic catalog.Epic
	require.NoError(t, target.First(&epic, "name = ?", "payments").Error)
	assert.Equal(t, project.ID, epic.ProjectID)

	var run runs.TestRun
	require.NoError(t, target.First(&run, "name = ?", "nightly").Error)
	require.NotNil(t, run.ProjectID)
	assert.Equal(t, project.ID, *run.ProjectID)

	var definition catalog.TestCaseDefinition
	require.NoError(t, target.First(&definition, "title = ?", "pay with visa").Error)
	var testCase runs.TestCase
	require.NoError(t, target.First(&testCase, "name = ?", "pay with visa").Error)
	assert.Equal(t, run.ID, testCase.RunID)
	require.NotNil(t, testCase.DefinitionID)
	assert.Equal(t, definition.ID, *testCase.DefinitionID)

	// Steps came along in order.
	var steps []runs.TestStep
	require.NoError(t, target.Where("case_id = ?", testCase.ID).Order("order_index ASC").Find(&steps).Error)
	require.Len(t, steps, 2)
	assert.Equal(t, "open checkout", steps[0].Description)
}

func TestMigrateIsIdempotent(t *testing.T) {
	source := newTestDB(t)
	target := newTestDB(t)
	seedSource(t, source)

	_, err := New(source, target, slog.Default()).Run(context.Background())
	require.NoError(t, err)

	// A second pass finds everything in place and copies nothing.
	summary, err := New(source, target, slog.Default()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Skipped: 1}, summary.Projects)
	assert.Equal(t, Counts{Skipped: 1}, summary.Epics)
	assert.Equal(t, Counts{Skipped: 1}, summary.Features)
	assert.Equal(t, Counts{Skipped: 1}, summary.Definitions)
	assert.Equal(t, Counts{Skipped: 2}, summary.Runs)
	assert.Equal(t, Counts{Skipped: 2}, summary.Cases)

	var count int64
	require.NoError(t, target.Model(&catalog.Project{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	require.NoError(t, target.Model(&runs.TestCase{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestMigrateIntoPopulatedTarget(t *testing.T) {
	source := newTestDB(t)
	target := newTestDB(t)
	seedSource(t, source)

	// The target already has its own unrelated project.
	targetCatalog := catalog.NewCatalogStore(target)
	require.NoError(t, targetCatalog.AutoMigrate())
	_, err := targetCatalog.CreateProject("billing", "")
	require.NoError(t, err)

	summary, err := New(source, target, slog.Default()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Migrated: 1}, summary.Projects)

	listed, err := targetCatalog.ListProjects()
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestMigrateDropsUnmappableReferences(t *testing.T) {
	source := newTestDB(t)
	target := newTestDB(t)

	runStore := runs.NewRunStore(source, nil, slog.Default())
	catalogStore := catalog.NewCatalogStore(source)
	require.NoError(t, catalogStore.AutoMigrate())
	require.NoError(t, runStore.AutoMigrate())

	// A run whose project reference points at a record that was deleted
	// from the catalog after the run started.
	project, err := catalogStore.CreateProject("doomed", "")
	require.NoError(t, err)
	run, err := runStore.StartRun("orphaned", &project.ID)
	require.NoError(t, err)
	require.NoError(t, source.Delete(&catalog.Project{}, "id = ?", project.ID).Error)

	summary, err := New(source, target, slog.Default()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Migrated: 1}, summary.Runs)

	var migrated runs.TestRun
	require.NoError(t, target.First(&migrated, "name = ?", run.Name).Error)
	assert.Nil(t, migrated.ProjectID)
}

func TestMigrateCancelledContext(t *testing.T) {
	source := newTestDB(t)
	target := newTestDB(t)
	seedSource(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(source, target, slog.Default()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
