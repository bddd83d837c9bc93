package runs

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/redstone-qa/reporter/pkg/apierr"
)

// maxReportMemory bounds the in-memory portion of a multipart report.
const maxReportMemory = 32 << 20

// ScreenshotSaver stores a screenshot payload and returns its relative
// path. Satisfied by screenshots.FileStore.
type ScreenshotSaver interface {
	Save(runID, caseName, originalName string, r io.Reader) (string, error)
}

type runResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Duration  *int64     `json:"duration,omitempty"`
	ProjectID *string    `json:"project_id,omitempty"`
}

func runToResponse(run *TestRun) runResponse {
	return runResponse{
		ID:        run.ID,
		Name:      run.Name,
		Status:    run.Status,
		StartTime: run.StartTime,
		EndTime:   run.EndTime,
		Duration:  run.Duration(),
		ProjectID: run.ProjectID,
	}
}

type stepResponse struct {
	Description string `json:"description"`
	Status      string `json:"status"`
	OrderIndex  int    `json:"order_index"`
}

type caseResponse struct {
	ID             string         `json:"id"`
	RunID          string         `json:"run_id"`
	Name           string         `json:"name"`
	Status         string         `json:"status"`
	Duration       *int64         `json:"duration,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ErrorStack     string         `json:"error_stack,omitempty"`
	ScreenshotPath string         `json:"screenshot_path,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	DefinitionID   *string        `json:"definition_id,omitempty"`
	Steps          []stepResponse `json:"steps"`
}

func caseToResponse(c *TestCase, steps []TestStep) caseResponse {
	out := caseResponse{
		ID:             c.ID,
		RunID:          c.RunID,
		Name:           c.Name,
		Status:         c.Status,
		Duration:       c.Duration,
		ErrorMessage:   c.ErrorMessage,
		ErrorStack:     c.ErrorStack,
		ScreenshotPath: c.ScreenshotPath,
		CreatedAt:      c.CreatedAt,
		DefinitionID:   c.DefinitionID,
		Steps:          make([]stepResponse, len(steps)),
	}
	for i, step := range steps {
		out.Steps[i] = stepResponse{
			Description: step.Description,
			Status:      step.Status,
			OrderIndex:  step.OrderIndex,
		}
	}
	return out
}

// startRunHandler creates a run in the running state.
// POST /runs/start {"name": ..., "project_id": ...?}
func startRunHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name      string  `json:"name"`
			ProjectID *string `json:"project_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		run, err := store.StartRun(req.Name, req.ProjectID)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, runToResponse(run))
	}
}

// allowedScreenshotType reports whether ct is an accepted image type.
func allowedScreenshotType(ct string) bool {
	switch ct {
	case "image/png", "image/jpeg", "image/jpg":
		return true
	}
	return false
}

// reportCaseHandler accepts one multipart test case report: a JSON "data"
// form field plus an optional "screenshot" file part. The screenshot is
// written to the file store before the record commit; if the record
// commit then fails the orphaned file is acceptable collateral, but a
// failed file write fails the whole report.
// POST /runs/{runId}/report
func reportCaseHandler(store *RunStore, shots ScreenshotSaver, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runId")

		if err := r.ParseMultipartForm(maxReportMemory); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart request")
			return
		}

		data := r.FormValue("data")
		if data == "" {
			writeError(w, http.StatusBadRequest, "missing data field")
			return
		}
		var report CaseReport
		if err := json.Unmarshal([]byte(data), &report); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON in data field")
			return
		}
		if err := report.validate(); err != nil {
			writeAPIError(w, err)
			return
		}

		// Check the run and the definition link before touching the
		// file store so a rejected report never leaves a file behind.
		run, err := store.GetRun(runID)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		if run.Terminal() {
			writeAPIError(w, apierr.Conflictf("test run %s is already %s", runID, run.Status))
			return
		}
		if _, err := store.resolveDefinition(report.DefinitionID); err != nil {
			writeAPIError(w, err)
			return
		}

		file, header, err := r.FormFile("screenshot")
		switch {
		case err == nil:
			defer file.Close()
			if ct := header.Header.Get("Content-Type"); !allowedScreenshotType(ct) {
				writeError(w, http.StatusBadRequest, "invalid screenshot type: only PNG and JPEG are accepted")
				return
			}
			path, err := shots.Save(runID, report.Name, header.Filename, file)
			if err != nil {
				writeAPIError(w, err)
				return
			}
			report.ScreenshotPath = path
		case errors.Is(err, http.ErrMissingFile):
			// No screenshot attached.
		default:
			writeError(w, http.StatusBadRequest, "invalid screenshot part")
			return
		}

		testCase, err := store.ReportCase(runID, report)
		if err != nil {
			if report.ScreenshotPath != "" {
				logger.Warn("report failed after screenshot write, file orphaned",
					"run", runID, "path", report.ScreenshotPath)
			}
			writeAPIError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"case_id": testCase.ID,
			"message": "test case " + testCase.Name + " reported",
		})
	}
}

// checkpointHandler returns the set of case names already recorded for a
// run, for crash-resume membership testing.
// GET /runs/{runId}/checkpoint
func checkpointHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runId")
		names, err := store.Checkpoint(runID)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id":               runID,
			"completed_test_names": names,
			"total_completed":      len(names),
		})
	}
}

// finishRunHandler terminates a run and returns its final statistics.
// POST /runs/{runId}/finish {"aborted": bool?}
func finishRunHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Aborted bool `json:"aborted"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		run, err := store.FinishRun(chi.URLParam(r, "runId"), req.Aborted)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		stats, err := store.RunStatistics(run.ID)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run":   runToResponse(run),
			"stats": stats,
		})
	}
}

// GET /runs/{runId}
func getRunHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := store.GetRun(chi.URLParam(r, "runId"))
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, runToResponse(run))
	}
}

// GET /runs?limit=N
func listRunsHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		listed, err := store.ListRuns(limit)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		out := make([]runResponse, len(listed))
		for i := range listed {
			out[i] = runToResponse(&listed[i])
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /runs/{runId}/stats
func runStatsHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.RunStatistics(chi.URLParam(r, "runId"))
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// GET /runs/{runId}/cases?status=
func listCasesHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cases, err := store.ListCasesByRun(chi.URLParam(r, "runId"), r.URL.Query().Get("status"))
		if err != nil {
			writeAPIError(w, err)
			return
		}
		out := make([]caseResponse, len(cases))
		for i := range cases {
			steps, err := store.GetSteps(cases[i].ID)
			if err != nil {
				writeAPIError(w, err)
				return
			}
			out[i] = caseToResponse(&cases[i], steps)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /cases/{caseId}
func getCaseHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testCase, err := store.GetCase(chi.URLParam(r, "caseId"))
		if err != nil {
			writeAPIError(w, err)
			return
		}
		steps, err := store.GetSteps(testCase.ID)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, caseToResponse(testCase, steps))
	}
}

// DELETE /cases/{caseId} is a hard delete, cascading to steps and screenshot.
func deleteCaseHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.DeleteCase(chi.URLParam(r, "caseId")); err != nil {
			writeAPIError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /stats
func globalStatsHandler(store *RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.GlobalStatistics()
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
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
