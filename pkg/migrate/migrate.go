// Package migrate copies a reporter database into another one, remapping
// identifiers and skipping records the target already holds. It is safe
// to run repeatedly against the same pair of databases.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/redstone-qa/reporter/pkg/catalog"
	"github.com/redstone-qa/reporter/pkg/runs"
)

// Counts tallies the outcome for one record type.
type Counts struct {
	Migrated int `json:"migrated"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Summary is the result of a full migration pass.
type Summary struct {
	Projects    Counts `json:"projects"`
	Epics       Counts `json:"epics"`
	Features    Counts `json:"features"`
	Definitions Counts `json:"definitions"`
	Runs        Counts `json:"runs"`
	Cases       Counts `json:"cases"`
}

// Migrator copies records from a source database into a target one.
// Parent types are copied before children so that foreign keys can be
// remapped through the per-type ID maps as they are built.
type Migrator struct {
	source *gorm.DB
	target *gorm.DB
	logger *slog.Logger

	projectIDs    map[string]string
	epicIDs       map[string]string
	featureIDs    map[string]string
	definitionIDs map[string]string
	runIDs        map[string]string
}

func New(source, target *gorm.DB, logger *slog.Logger) *Migrator {
	return &Migrator{
		source:        source,
		target:        target,
		logger:        logger,
		projectIDs:    map[string]string{},
		epicIDs:       map[string]string{},
		featureIDs:    map[string]string{},
		definitionIDs: map[string]string{},
		runIDs:        map[string]string{},
	}
}

// Run executes a full migration pass. A failed record is logged and
// counted but never aborts the pass; only a context cancellation or a
// schema error stops it early.
func (m *Migrator) Run(ctx context.Context) (*Summary, error) {
	if err := catalog.NewCatalogStore(m.target).AutoMigrate(); err != nil {
		return nil, fmt.Errorf("preparing target schema: %w", err)
	}
	if err := runs.NewRunStore(m.target, nil, m.logger).AutoMigrate(); err != nil {
		return nil, fmt.Errorf("preparing target schema: %w", err)
	}

	summary := &Summary{}
	steps := []struct {
		name string
		fn   func() (Counts, error)
		out  *Counts
	}{
		{"projects", m.migrateProjects, &summary.Projects},
		{"epics", m.migrateEpics, &summary.Epics},
		{"features", m.migrateFeatures, &summary.Features},
		{"test case definitions", m.migrateDefinitions, &summary.Definitions},
		{"test runs", m.migrateRuns, &summary.Runs},
		{"test cases", m.migrateCases, &summary.Cases},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		counts, err := step.fn()
		*step.out = counts
		if err != nil {
			return summary, fmt.Errorf("migrating %s: %w", step.name, err)
		}
		m.logger.Info("migration step finished", "type", step.name,
			"migrated", counts.Migrated, "skipped", counts.Skipped, "failed", counts.Failed)
	}
	return summary, nil
}

func (m *Migrator) migrateProjects() (Counts, error) {
	var counts Counts
	var src []catalog.Project
	if err := m.source.Order("created_at ASC").Find(&src).Error; err != nil {
		return counts, err
	}
	for _, p := range src {
		var existing catalog.Project
		err := m.target.Where("name = ?", p.Name).First(&existing).Error
		if err == nil {
			m.projectIDs[p.ID] = existing.ID
			counts.Skipped++
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return counts, err
		}
		created := p
		created.ID = uuid.NewString()
		if err := m.target.Create(&created).Error; err != nil {
			m.logger.Warn("failed to migrate project", "name", p.Name, "error", err)
			counts.Failed++
			continue
		}
		m.projectIDs[p.ID] = created.ID
		counts.Migrated++
	}
	return counts, nil
}

func (m *Migrator) migrateEpics() (Counts, error) {
	var counts Counts
	var src []catalog.Epic
	if err := m.source.Order("created_at ASC").Find(&src).Error; err != nil {
		return counts, err
	}
	for _, e := range src {
		projectID, ok := m.projectIDs[e.ProjectID]
		if !ok {
			m.logger.Warn("skipping epic with unmapped project", "name", e.Name)
			counts.Failed++
			continue
		}
		var existing catalog.Epic
		err := m.target.Where("project_id = ? AND name = ?", projectID, e.Name).First(&existing).Error
		if err == nil {
			m.epicIDs[e.ID] = existing.ID
			counts.Skipped++
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return counts, err
		}
		created := e
		created.ID = uuid.NewString()
		created.ProjectID = projectID
		if err := m.target.Create(&created).Error; err != nil {
			m.logger.Warn("failed to migrate epic", "name", e.Name, "error", err)
			counts.Failed++
			continue
		}
		m.epicIDs[e.ID] = created.ID
		counts.Migrated++
	}
	return counts, nil
}

func (m *Migrator) migrateFeatures() (Counts, error) {
	var counts Counts
	var src []catalog.Feature
	if err := m.source.Order("created_at ASC").Find(&src).Error; err != nil {
		return counts, err
	}
	for _, f := range src {
		epicID, ok := m.epicIDs[f.EpicID]
		if !ok {
			m.logger.Warn("skipping feature with unmapped epic", "name", f.Name)
			counts.Failed++
			continue
		}
		var existing catalog.Feature
		err := m.target.Where("epic_id = ? AND name = ?", epicID, f.Name).First(&existing).Error
		if err == nil {
			m.featureIDs[f.ID] = existing.ID
			counts.Skipped++
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return counts, err
		}
		created := f
		created.ID = uuid.NewString()
		created.EpicID = epicID
		if err := m.target.Create(&created).Error; err != nil {
			m.logger.Warn("failed to migrate feature", "name", f.Name, "error", err)
			counts.Failed++
			continue
		}
		m.featureIDs[f.ID] = created.ID
		counts.Migrated++
	}
	return counts, nil
}

func (m *Migrator) migrateDefinitions() (Counts, error) {
	var counts Counts
	var src []catalog.TestCaseDefinition
	if err := m.source.Order("created_at ASC").Find(&src).Error; err != nil {
		return counts, err
	}
	for _, d := range src {
		featureID, ok := m.featureIDs[d.FeatureID]
		if !ok {
			m.logger.Warn("skipping definition with unmapped feature", "title", d.Title)
			counts.Failed++
			continue
		}
		var existing catalog.TestCaseDefinition
		err := m.target.Where("feature_id = ? AND title = ?", featureID, d.Title).First(&existing).Error
		if err == nil {
			m.definitionIDs[d.ID] = existing.ID
			counts.Skipped++
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return counts, err
		}
		created := d
		created.ID = uuid.NewString()
		created.FeatureID = featureID
		if err := m.target.Create(&created).Error; err != nil {
			m.logger.Warn("failed to migrate definition", "title", d.Title, "error", err)
			counts.Failed++
			continue
		}
		m.definitionIDs[d.ID] = created.ID
		counts.Migrated++
	}
	return counts, nil
}

func (m *Migrator) migrateRuns() (Counts, error) {
	var counts Counts
	var src []runs.TestRun
	if err := m.source.Order("start_time ASC").Find(&src).Error; err != nil {
		return counts, err
	}
	for _, r := range src {
		var existing runs.TestRun
		err := m.target.Where("name = ? AND start_time = ?", r.Name, r.StartTime).First(&existing).Error
		if err == nil {
			m.runIDs[r.ID] = existing.ID
			counts.Skipped++
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return counts, err
		}
		created := r
		created.ID = uuid.NewString()
		created.ProjectID = m.remapOptional(r.ProjectID, m.projectIDs, "run project", r.Name)
		if err := m.target.Create(&created).Error; err != nil {
			m.logger.Warn("failed to migrate run", "name", r.Name, "error", err)
			counts.Failed++
			continue
		}
		m.runIDs[r.ID] = created.ID
		counts.Migrated++
	}
	return counts, nil
}

func (m *Migrator) migrateCases() (Counts, error) {
	var counts Counts
	var src []runs.TestCase
	if err := m.source.Order("created_at ASC").Find(&src).Error; err != nil {
		return counts, err
	}
	for _, c := range src {
		runID, ok := m.runIDs[c.RunID]
		if !ok {
			m.logger.Warn("skipping case with unmapped run", "name", c.Name)
			counts.Failed++
			continue
		}
		var existing runs.TestCase
		err := m.target.Where("run_id = ? AND name = ? AND created_at = ?",
			runID, c.Name, c.CreatedAt).First(&existing).Error
		if err == nil {
			counts.Skipped++
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return counts, err
		}

		var steps []runs.TestStep
		if err := m.source.Where("case_id = ?", c.ID).Order("order_index ASC").Find(&steps).Error; err != nil {
			m.logger.Warn("failed to load steps for case", "name", c.Name, "error", err)
			counts.Failed++
			continue
		}

		created := c
		created.ID = uuid.NewString()
		created.RunID = runID
		created.DefinitionID = m.remapOptional(c.DefinitionID, m.definitionIDs, "case definition", c.Name)
		err = m.target.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&created).Error; err != nil {
				return err
			}
			for _, step := range steps {
				copied := runs.TestStep{
					CaseID:      created.ID,
					Description: step.Description,
					Status:      step.Status,
					OrderIndex:  step.OrderIndex,
				}
				if err := tx.Create(&copied).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			m.logger.Warn("failed to migrate case", "name", c.Name, "error", err)
			counts.Failed++
			continue
		}
		counts.Migrated++
	}
	return counts, nil
}

// remapOptional translates a weak reference through an ID map, dropping
// it with a warning when the referent was never migrated.
func (m *Migrator) remapOptional(id *string, ids map[string]string, what, owner string) *string {
	if id == nil {
		return nil
	}
	mapped, ok := ids[*id]
	if !ok {
		m.logger.Warn("dropping unmapped reference", "kind", what, "owner", owner)
		return nil
	}
	return &mapped
}
