package catalog

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Priority levels for test case definitions.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// ValidPriority reports whether p is one of the known priority levels.
func ValidPriority(p string) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// MaxNameLength is the limit for entity name and title fields.
const MaxNameLength = 255

// DefinitionStep is one authored step of a test case definition.
type DefinitionStep struct {
	Description string `json:"description"`
}

// DefinitionSteps is a custom GORM type for []DefinitionStep stored as JSON.
type DefinitionSteps []DefinitionStep

// Scan implements the sql.Scanner interface for DefinitionSteps.
func (s *DefinitionSteps) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for DefinitionSteps: %T", value)
	}
	return json.Unmarshal(bytes, s)
}

// Value implements the driver.Valuer interface for DefinitionSteps.
func (s DefinitionSteps) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Project is the root of the catalog hierarchy.
type Project struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name        string    `gorm:"column:name;size:255;uniqueIndex:idx_projects_name;not null"`
	Description string    `gorm:"column:description;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Project) TableName() string { return "projects" }

// Epic groups features within a project.
type Epic struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID   string    `gorm:"column:project_id;type:varchar(36);index:idx_epics_project;not null"`
	Name        string    `gorm:"column:name;size:255;not null"`
	Description string    `gorm:"column:description;type:text"`
	ExternalRef string    `gorm:"column:external_ref"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Epic) TableName() string { return "epics" }

// Feature groups test case definitions within an epic.
type Feature struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	EpicID      string    `gorm:"column:epic_id;type:varchar(36);index:idx_features_epic;not null"`
	Name        string    `gorm:"column:name;size:255;not null"`
	Description string    `gorm:"column:description;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Feature) TableName() string { return "features" }

// TestCaseDefinition is the authored specification of an intended test.
// Deactivation is the only delete path; execution history may reference it.
type TestCaseDefinition struct {
	ID             string          `gorm:"primaryKey;column:id;type:varchar(36)"`
	FeatureID      string          `gorm:"column:feature_id;type:varchar(36);index:idx_definitions_feature;not null"`
	Title          string          `gorm:"column:title;size:255;not null"`
	Description    string          `gorm:"column:description;type:text"`
	Preconditions  string          `gorm:"column:preconditions;type:text"`
	Steps          DefinitionSteps `gorm:"column:steps;type:text"`
	ExpectedResult string          `gorm:"column:expected_result;type:text"`
	Priority       string          `gorm:"column:priority;size:20;default:medium;not null"`
	IsActive       bool            `gorm:"column:is_active;default:true;not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (TestCaseDefinition) TableName() string { return "test_case_definitions" }
