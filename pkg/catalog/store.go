package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/redstone-qa/reporter/pkg/apierr"
)

// CatalogStore provides CRUD operations on the catalog hierarchy:
// Project -> Epic -> Feature -> TestCaseDefinition. Referential and
// deletion constraints are enforced here, before any mutation.
type CatalogStore struct {
	db *gorm.DB
}

// NewCatalogStore creates a new CatalogStore.
func NewCatalogStore(db *gorm.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// AutoMigrate creates or updates the catalog tables.
func (s *CatalogStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Project{}, &Epic{}, &Feature{}, &TestCaseDefinition{}); err != nil {
		return fmt.Errorf("auto-migrate catalog tables: %w", err)
	}
	return nil
}

// validateName rejects empty or overlong name/title values.
func validateName(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apierr.Validationf("%s must not be empty", field)
	}
	if len(value) > MaxNameLength {
		return apierr.Validationf("%s must be at most %d characters", field, MaxNameLength)
	}
	return nil
}

// --- Project ---

// isDuplicate reports whether err is a unique-constraint violation.
// The message probes cover the supported backends when the dialector
// does not translate constraint errors itself.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}

// CreateProject creates a project. Name uniqueness is enforced by the
// index, so concurrent creates of the same name cannot both succeed.
func (s *CatalogStore) CreateProject(name, description string) (*Project, error) {
	if err := validateName("name", name); err != nil {
		return nil, err
	}

	project := &Project{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
	}
	if err := s.db.Create(project).Error; err != nil {
		if isDuplicate(err) {
			return nil, apierr.Conflictf("project with name %q already exists", name)
		}
		return nil, apierr.Storage("create project", err)
	}
	return project, nil
}

// GetProject retrieves a project by ID.
func (s *CatalogStore) GetProject(id string) (*Project, error) {
	var project Project
	if err := s.db.First(&project, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFoundf("project %s not found", id)
		}
		return nil, apierr.Storage("get project", err)
	}
	return &project, nil
}

// ListProjects returns all projects in stable (id ascending) order.
func (s *CatalogStore) ListProjects() ([]Project, error) {
	var projects []Project
	if err := s.db.Order("id ASC").Find(&projects).Error; err != nil {
		return nil, apierr.Storage("list projects", err)
	}
	return projects, nil
}

// UpdateProject updates the non-nil fields of a project.
func (s *CatalogStore) UpdateProject(id string, name, description *string) (*Project, error) {
	project, err := s.GetProject(id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		if err := validateName("name", *name); err != nil {
			return nil, err
		}
		project.Name = *name
	}
	if description != nil {
		project.Description = *description
	}
	if err := s.db.Save(project).Error; err != nil {
		if isDuplicate(err) {
			return nil, apierr.Conflictf("project with name %q already exists", project.Name)
		}
		return nil, apierr.Storage("update project", err)
	}
	return project, nil
}

// DeleteProject deletes a project. The delete is refused while the project
// owns epics or test runs; catalog data is never cascaded away.
func (s *CatalogStore) DeleteProject(id string) error {
	project, err := s.GetProject(id)
	if err != nil {
		return err
	}

	epicCount, err := s.CountEpics(id)
	if err != nil {
		return err
	}
	if epicCount > 0 {
		return apierr.Conflictf("project %s has %d associated epics", id, epicCount)
	}

	runCount, err := s.countRunsForProject(id)
	if err != nil {
		return err
	}
	if runCount > 0 {
		return apierr.Conflictf("project %s has %d associated test runs", id, runCount)
	}

	if err := s.db.Delete(project).Error; err != nil {
		return apierr.Storage("delete project", err)
	}
	return nil
}

// CountEpics counts the epics owned by a project.
func (s *CatalogStore) CountEpics(projectID string) (int64, error) {
	var count int64
	if err := s.db.Model(&Epic{}).Where("project_id = ?", projectID).Count(&count).Error; err != nil {
		return 0, apierr.Storage("count epics", err)
	}
	return count, nil
}

// countRunsForProject counts execution runs referencing the project. The
// runs table is owned by the runs package; the catalog only ever reads the
// weak back-reference column, and treats a missing table as zero.
func (s *CatalogStore) countRunsForProject(projectID string) (int64, error) {
	if !s.db.Migrator().HasTable("test_runs") {
		return 0, nil
	}
	var count int64
	if err := s.db.Table("test_runs").Where("project_id = ?", projectID).Count(&count).Error; err != nil {
		return 0, apierr.Storage("count test runs", err)
	}
	return count, nil
}

// --- Epic ---

// CreateEpic creates an epic under an existing project.
func (s *CatalogStore) CreateEpic(projectID, name, description, externalRef string) (*Epic, error) {
	if _, err := s.GetProject(projectID); err != nil {
		return nil, err
	}
	if err := validateName("name", name); err != nil {
		return nil, err
	}

	epic := &Epic{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		ExternalRef: externalRef,
	}
	if err := s.db.Create(epic).Error; err != nil {
		return nil, apierr.Storage("create epic", err)
	}
	return epic, nil
}

// GetEpic retrieves an epic by ID.
func (s *CatalogStore) GetEpic(id string) (*Epic, error) {
	var epic Epic
	if err := s.db.First(&epic, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFoundf("epic %s not found", id)
		}
		return nil, apierr.Storage("get epic", err)
	}
	return &epic, nil
}

// ListEpicsByProject returns the epics of a project in id ascending order.
func (s *CatalogStore) ListEpicsByProject(projectID string) ([]Epic, error) {
	if _, err := s.GetProject(projectID); err != nil {
		return nil, err
	}
	var epics []Epic
	if err := s.db.Where("project_id = ?", projectID).Order("id ASC").Find(&epics).Error; err != nil {
		return nil, apierr.Storage("list epics", err)
	}
	return epics, nil
}

// UpdateEpic updates the non-nil fields of an epic.
func (s *CatalogStore) UpdateEpic(id string, name, description, externalRef *string) (*Epic, error) {
	epic, err := s.GetEpic(id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		if err := validateName("name", *name); err != nil {
			return nil, err
		}
		epic.Name = *name
	}
	if description != nil {
		epic.Description = *description
	}
	if externalRef != nil {
		epic.ExternalRef = *externalRef
	}
	if err := s.db.Save(epic).Error; err != nil {
		return nil, apierr.Storage("update epic", err)
	}
	return epic, nil
}

// DeleteEpic deletes an epic. Refused while the epic owns features.
func (s *CatalogStore) DeleteEpic(id string) error {
	epic, err := s.GetEpic(id)
	if err != nil {
		return err
	}
	featureCount, err := s.CountFeatures(id)
	if err != nil {
		return err
	}
	if featureCount > 0 {
		return apierr.Conflictf("epic %s has %d associated features", id, featureCount)
	}
	if err := s.db.Delete(epic).Error; err != nil {
		return apierr.Storage("delete epic", err)
	}
	return nil
}

// CountFeatures counts the features owned by an epic.
func (s *CatalogStore) CountFeatures(epicID string) (int64, error) {
	var count int64
	if err := s.db.Model(&Feature{}).Where("epic_id = ?", epicID).Count(&count).Error; err != nil {
		return 0, apierr.Storage("count features", err)
	}
	return count, nil
}

// --- Feature ---

// CreateFeature creates a feature under an existing epic.
func (s *CatalogStore) CreateFeature(epicID, name, description string) (*Feature, error) {
	if _, err := s.GetEpic(epicID); err != nil {
		return nil, err
	}
	if err := validateName("name", name); err != nil {
		return nil, err
	}

	feature := &Feature{
		ID:          uuid.New().String(),
		EpicID:      epicID,
		Name:        name,
		Description: description,
	}
	if err := s.db.Create(feature).Error; err != nil {
		return nil, apierr.Storage("create feature", err)
	}
	return feature, nil
}

// GetFeature retrieves a feature by ID.
func (s *CatalogStore) GetFeature(id string) (*Feature, error) {
	var feature Feature
	if err := s.db.First(&feature, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFoundf("feature %s not found", id)
		}
		return nil, apierr.Storage("get feature", err)
	}
	return &feature, nil
}

// ListFeaturesByEpic returns the features of an epic in id ascending order.
func (s *CatalogStore) ListFeaturesByEpic(epicID string) ([]Feature, error) {
	if _, err := s.GetEpic(epicID); err != nil {
		return nil, err
	}
	var features []Feature
	if err := s.db.Where("epic_id = ?", epicID).Order("id ASC").Find(&features).Error; err != nil {
		return nil, apierr.Storage("list features", err)
	}
	return features, nil
}

// UpdateFeature updates the non-nil fields of a feature.
func (s *CatalogStore) UpdateFeature(id string, name, description *string) (*Feature, error) {
	feature, err := s.GetFeature(id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		if err := validateName("name", *name); err != nil {
			return nil, err
		}
		feature.Name = *name
	}
	if description != nil {
		feature.Description = *description
	}
	if err := s.db.Save(feature).Error; err != nil {
		return nil, apierr.Storage("update feature", err)
	}
	return feature, nil
}

// DeleteFeature deletes a feature. Refused while the feature owns
// test case definitions, active or not.
func (s *CatalogStore) DeleteFeature(id string) error {
	feature, err := s.GetFeature(id)
	if err != nil {
		return err
	}
	defCount, err := s.CountDefinitions(id, false)
	if err != nil {
		return err
	}
	if defCount > 0 {
		return apierr.Conflictf("feature %s has %d associated test case definitions", id, defCount)
	}
	if err := s.db.Delete(feature).Error; err != nil {
		return apierr.Storage("delete feature", err)
	}
	return nil
}

// CountDefinitions counts the definitions owned by a feature.
func (s *CatalogStore) CountDefinitions(featureID string, activeOnly bool) (int64, error) {
	query := s.db.Model(&TestCaseDefinition{}).Where("feature_id = ?", featureID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, apierr.Storage("count definitions", err)
	}
	return count, nil
}

// --- TestCaseDefinition ---

// DefinitionInput carries the authored fields of a test case definition.
type DefinitionInput struct {
	Title          string
	Description    string
	Preconditions  string
	Steps          []DefinitionStep
	ExpectedResult string
	Priority       string
}

// CreateDefinition creates a test case definition under an existing feature.
func (s *CatalogStore) CreateDefinition(featureID string, in DefinitionInput) (*TestCaseDefinition, error) {
	if _, err := s.GetFeature(featureID); err != nil {
		return nil, err
	}
	if err := validateName("title", in.Title); err != nil {
		return nil, err
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !ValidPriority(priority) {
		return nil, apierr.Validationf("invalid priority %q", priority)
	}

	definition := &TestCaseDefinition{
		ID:             uuid.New().String(),
		FeatureID:      featureID,
		Title:          in.Title,
		Description:    in.Description,
		Preconditions:  in.Preconditions,
		Steps:          DefinitionSteps(in.Steps),
		ExpectedResult: in.ExpectedResult,
		Priority:       priority,
		IsActive:       true,
	}
	if err := s.db.Create(definition).Error; err != nil {
		return nil, apierr.Storage("create definition", err)
	}
	return definition, nil
}

// GetDefinition retrieves a test case definition by ID.
func (s *CatalogStore) GetDefinition(id string) (*TestCaseDefinition, error) {
	var definition TestCaseDefinition
	if err := s.db.First(&definition, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFoundf("test case definition %s not found", id)
		}
		return nil, apierr.Storage("get definition", err)
	}
	return &definition, nil
}

// DefinitionUpdate carries the updatable fields of a definition. Nil
// fields are left unchanged.
type DefinitionUpdate struct {
	Title          *string
	Description    *string
	Preconditions  *string
	Steps          []DefinitionStep
	ExpectedResult *string
	Priority       *string
}

// UpdateDefinition updates the non-nil fields of a definition.
func (s *CatalogStore) UpdateDefinition(id string, in DefinitionUpdate) (*TestCaseDefinition, error) {
	definition, err := s.GetDefinition(id)
	if err != nil {
		return nil, err
	}
	if in.Title != nil {
		if err := validateName("title", *in.Title); err != nil {
			return nil, err
		}
		definition.Title = *in.Title
	}
	if in.Description != nil {
		definition.Description = *in.Description
	}
	if in.Preconditions != nil {
		definition.Preconditions = *in.Preconditions
	}
	if in.Steps != nil {
		definition.Steps = DefinitionSteps(in.Steps)
	}
	if in.ExpectedResult != nil {
		definition.ExpectedResult = *in.ExpectedResult
	}
	if in.Priority != nil {
		if !ValidPriority(*in.Priority) {
			return nil, apierr.Validationf("invalid priority %q", *in.Priority)
		}
		definition.Priority = *in.Priority
	}
	if err := s.db.Save(definition).Error; err != nil {
		return nil, apierr.Storage("update definition", err)
	}
	return definition, nil
}

// DeactivateDefinition soft-deletes a definition by setting is_active to
// false. Deactivating an already-inactive definition is a no-op, not an
// error. There is no hard-delete path for definitions.
func (s *CatalogStore) DeactivateDefinition(id string) (*TestCaseDefinition, error) {
	definition, err := s.GetDefinition(id)
	if err != nil {
		return nil, err
	}
	if !definition.IsActive {
		return definition, nil
	}
	definition.IsActive = false
	if err := s.db.Save(definition).Error; err != nil {
		return nil, apierr.Storage("deactivate definition", err)
	}
	return definition, nil
}

// ListDefinitionsByFeature returns the definitions of a feature.
func (s *CatalogStore) ListDefinitionsByFeature(featureID string, activeOnly bool) ([]TestCaseDefinition, error) {
	if _, err := s.GetFeature(featureID); err != nil {
		return nil, err
	}
	query := s.db.Where("feature_id = ?", featureID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var definitions []TestCaseDefinition
	if err := query.Order("id ASC").Find(&definitions).Error; err != nil {
		return nil, apierr.Storage("list definitions", err)
	}
	return definitions, nil
}

// DefinitionFilter narrows a cross-hierarchy definition listing. Filters
// compose with AND; empty values are ignored.
type DefinitionFilter struct {
	EpicID     string
	FeatureID  string
	Priorities []string
}

// ListDefinitionsForProject walks Project -> Epics -> Features ->
// Definitions and returns the active definitions matching the filter.
// A feature filter without an epic filter is valid: the feature's epic is
// resolved implicitly by scoping to that single feature.
func (s *CatalogStore) ListDefinitionsForProject(projectID string, filter DefinitionFilter) ([]TestCaseDefinition, error) {
	if _, err := s.GetProject(projectID); err != nil {
		return nil, err
	}
	for _, p := range filter.Priorities {
		if !ValidPriority(p) {
			return nil, apierr.Validationf("invalid priority %q", p)
		}
	}

	var featureIDs []string
	switch {
	case filter.FeatureID != "":
		if _, err := s.GetFeature(filter.FeatureID); err != nil {
			return nil, err
		}
		featureIDs = []string{filter.FeatureID}
	case filter.EpicID != "":
		if err := s.db.Model(&Feature{}).Where("epic_id = ?", filter.EpicID).
			Pluck("id", &featureIDs).Error; err != nil {
			return nil, apierr.Storage("resolve epic features", err)
		}
	default:
		var epicIDs []string
		if err := s.db.Model(&Epic{}).Where("project_id = ?", projectID).
			Pluck("id", &epicIDs).Error; err != nil {
			return nil, apierr.Storage("resolve project epics", err)
		}
		if len(epicIDs) == 0 {
			return []TestCaseDefinition{}, nil
		}
		if err := s.db.Model(&Feature{}).Where("epic_id IN ?", epicIDs).
			Pluck("id", &featureIDs).Error; err != nil {
			return nil, apierr.Storage("resolve project features", err)
		}
	}
	if len(featureIDs) == 0 {
		return []TestCaseDefinition{}, nil
	}

	query := s.db.Where("feature_id IN ? AND is_active = ?", featureIDs, true)
	if len(filter.Priorities) > 0 {
		query = query.Where("priority IN ?", filter.Priorities)
	}
	var definitions []TestCaseDefinition
	if err := query.Order("id ASC").Find(&definitions).Error; err != nil {
		return nil, apierr.Storage("list project definitions", err)
	}
	return definitions, nil
}

// CountExecutions counts execution test cases linked to a definition via
// the weak definition_id back-reference. Missing runs tables count as zero.
func (s *CatalogStore) CountExecutions(definitionID string) (int64, error) {
	if !s.db.Migrator().HasTable("test_cases") {
		return 0, nil
	}
	var count int64
	if err := s.db.Table("test_cases").Where("definition_id = ?", definitionID).Count(&count).Error; err != nil {
		return 0, apierr.Storage("count executions", err)
	}
	return count, nil
}
