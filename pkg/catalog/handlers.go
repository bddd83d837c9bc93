package catalog

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/redstone-qa/reporter/pkg/apierr"
)

// projectResponse is the API shape for a project, including derived counts.
type projectResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	EpicCount   int64     `json:"epic_count"`
}

type epicResponse struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	ExternalRef  string    `json:"external_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	FeatureCount int64     `json:"feature_count"`
}

type featureResponse struct {
	ID                        string    `json:"id"`
	EpicID                    string    `json:"epic_id"`
	Name                      string    `json:"name"`
	Description               string    `json:"description,omitempty"`
	CreatedAt                 time.Time `json:"created_at"`
	TestDefinitionCount       int64     `json:"test_definition_count"`
	ActiveTestDefinitionCount int64     `json:"active_test_definition_count"`
}

type definitionResponse struct {
	ID             string           `json:"id"`
	FeatureID      string           `json:"feature_id"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	Preconditions  string           `json:"preconditions,omitempty"`
	Steps          []DefinitionStep `json:"steps"`
	ExpectedResult string           `json:"expected_result,omitempty"`
	Priority       string           `json:"priority"`
	IsActive       bool             `json:"is_active"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	ExecutionCount int64            `json:"execution_count"`
}

func (s *CatalogStore) projectToResponse(p *Project) projectResponse {
	epicCount, _ := s.CountEpics(p.ID)
	return projectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		EpicCount:   epicCount,
	}
}

func (s *CatalogStore) epicToResponse(e *Epic) epicResponse {
	featureCount, _ := s.CountFeatures(e.ID)
	return epicResponse{
		ID:           e.ID,
		ProjectID:    e.ProjectID,
		Name:         e.Name,
		Description:  e.Description,
		ExternalRef:  e.ExternalRef,
		CreatedAt:    e.CreatedAt,
		FeatureCount: featureCount,
	}
}

func (s *CatalogStore) featureToResponse(f *Feature) featureResponse {
	total, _ := s.CountDefinitions(f.ID, false)
	active, _ := s.CountDefinitions(f.ID, true)
	return featureResponse{
		ID:                        f.ID,
		EpicID:                    f.EpicID,
		Name:                      f.Name,
		Description:               f.Description,
		CreatedAt:                 f.CreatedAt,
		TestDefinitionCount:       total,
		ActiveTestDefinitionCount: active,
	}
}

func (s *CatalogStore) definitionToResponse(d *TestCaseDefinition) definitionResponse {
	executions, _ := s.CountExecutions(d.ID)
	steps := []DefinitionStep(d.Steps)
	if steps == nil {
		steps = []DefinitionStep{}
	}
	return definitionResponse{
		ID:             d.ID,
		FeatureID:      d.FeatureID,
		Title:          d.Title,
		Description:    d.Description,
		Preconditions:  d.Preconditions,
		Steps:          steps,
		ExpectedResult: d.ExpectedResult,
		Priority:       d.Priority,
		IsActive:       d.IsActive,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		ExecutionCount: executions,
	}
}

// --- Project handlers ---

func createProjectHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		project, err := store.CreateProject(req.Name, req.Description)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, store.projectToResponse(project))
	}
}

func listProjectsHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := store.ListProjects()
		if err != nil {
			writeAPIError(w, err)
			return
		}
		out := make([]projectResponse, len(projects))
		for i := range projects {
			out[i] = store.projectToResponse(&projects[i])
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getProjectHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := store.GetProject(chi.URLParam(r, "projectId"))
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, store.projectToResponse(project))
	}
}

func updateProjectHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        *string `json:"name"`
			Description *string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		project, err := store.UpdateProject(chi.URLParam(r, "projectId"), req.Name, req.Description)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, store.projectToResponse(project))
	}
}

func deleteProjectHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.DeleteProject(chi.URLParam(r, "projectId")); err != nil {
			writeAPIError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Epic handlers ---

func createEpicHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			ExternalRef string `json:"external_ref"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		epic, err := store.CreateEpic(chi.URLParam(r, "projectId"), req.Name, req.Description, req.ExternalRef)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, store.epicToResponse(epic))
	}
}

func listEpicsHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		epics, err := store.ListEpicsByProject(chi.URLParam(r, "projectId"))
		if err != nil {
			writeAPIError(w, err)
			return
		}
		out := make([]epicResponse, len(epics))
		for i := range epics {
			out[i] = store.epicToResponse(&epics[i])
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getEpicHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		epic, err := store.GetEpic(chi.URLParam(r, "epicId"))
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, store.epicToResponse(epic))
	}
}

func updateEpicHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        *string `json:"name"`
			Description *string `json:"description"`
			ExternalRef *string `json:"external_ref"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		epic, err := store.UpdateEpic(chi.URLParam(r, "epicId"), req.Name, req.Description, req.ExternalRef)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, store.epicToResponse(epic))
	}
}

func deleteEpicHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.DeleteEpic(chi.URLParam(r, "epicId")); err != nil {
			writeAPIError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Feature handlers ---

func createFeatureHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		feature, err := store.CreateFeature(chi.URLParam(r, "epicId"), req.Name, req.Description)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, store.featureToResponse(feature))
	}
}

func listFeaturesHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		features, err := store.ListFeaturesByEpic(chi.URLParam(r, "epicId"))
		if err != nil {
			writeAPIError(w, err)
			return
		}
		out := make([]featureResponse, len(features))
		for i := range features {
			out[i] = store.featureToResponse(&features[i])
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getFeatureHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feature, err := store.GetFeature(chi.URLParam(r, "featureId"))
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, store.featureToResponse(feature))
	}
}

func updateFeatureHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        *string `json:"name"`
			Description *string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		feature, err := store.UpdateFeature(chi.URLParam(r, "featureId"), req.Name, req.Description)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, store.featureToResponse(feature))
	}
}

func deleteFeatureHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.DeleteFeature(chi.URLParam(r, "featureId")); err != nil {
			writeAPIError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Definition handlers ---

type definitionRequest struct {
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Preconditions  string           `json:"preconditions"`
	Steps          []DefinitionStep `json:"steps"`
	ExpectedResult string           `json:"expected_result"`
	Priority       string           `json:"priority"`
}

func createDefinitionHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req definitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		definition, err := store.CreateDefinition(chi.URLParam(r, "featureId"), DefinitionInput{
			Title:          req.Title,
			Description:    req.Description,
			Preconditions:  req.Preconditions,
			Steps:          req.Steps,
			ExpectedResult: req.ExpectedResult,
			Priority:       req.Priority,
		})
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, store.definitionToResponse(definition))
	}
}

func listFeatureDefinitionsHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activeOnly := r.URL.Query().Get("include_inactive") != "true"
		definitions, err := store.ListDefinitionsByFeature(chi.URLParam(r, "featureId"), activeOnly)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		out := make([]definitionResponse, len(definitions))
		for i := range definitions {
			out[i] = store.definitionToResponse(&definitions[i])
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// listProjectDefinitionsHandler lists active definitions across the whole
// project hierarchy. Filters: epic_id, feature_id, priority (comma-separated).
func listProjectDefinitionsHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := DefinitionFilter{
			EpicID:    r.URL.Query().Get("epic_id"),
			FeatureID: r.URL.Query().Get("feature_id"),
		}
		if p := r.URL.Query().Get("priority"); p != "" {
			for _, part := range strings.Split(p, ",") {
				if part = strings.TrimSpace(part); part != "" {
					filter.Priorities = append(filter.Priorities, part)
				}
			}
		}
		definitions, err := store.ListDefinitionsForProject(chi.URLParam(r, "projectId"), filter)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		out := make([]definitionResponse, len(definitions))
		for i := range definitions {
			out[i] = store.definitionToResponse(&definitions[i])
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getDefinitionHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		definition, err := store.GetDefinition(chi.URLParam(r, "definitionId"))
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, store.definitionToResponse(definition))
	}
}

func updateDefinitionHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title          *string          `json:"title"`
			Description    *string          `json:"description"`
			Preconditions  *string          `json:"preconditions"`
			Steps          []DefinitionStep `json:"steps"`
			ExpectedResult *string          `json:"expected_result"`
			Priority       *string          `json:"priority"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		definition, err := store.UpdateDefinition(chi.URLParam(r, "definitionId"), DefinitionUpdate{
			Title:          req.Title,
			Description:    req.Description,
			Preconditions:  req.Preconditions,
			Steps:          req.Steps,
			ExpectedResult: req.ExpectedResult,
			Priority:       req.Priority,
		})
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, store.definitionToResponse(definition))
	}
}

// deactivateDefinitionHandler soft-deletes a definition. Idempotent.
func deactivateDefinitionHandler(store *CatalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := store.DeactivateDefinition(chi.URLParam(r, "definitionId")); err != nil {
			writeAPIError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAPIError maps a service error onto its HTTP status.
func writeAPIError(w http.ResponseWriter, err error) {
	writeError(w, apierr.HTTPStatus(err), err.Error())
}
