package runs

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes adds the run ingestion and query routes to the given
// router. The server mounts them under /api.
func RegisterRoutes(r chi.Router, store *RunStore, shots ScreenshotSaver, logger *slog.Logger) {
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", listRunsHandler(store))
		r.Post("/start", startRunHandler(store))

		r.Route("/{runId}", func(r chi.Router) {
			r.Get("/", getRunHandler(store))
			r.Post("/report", reportCaseHandler(store, shots, logger))
			r.Get("/checkpoint", checkpointHandler(store))
			r.Post("/finish", finishRunHandler(store))
			r.Get("/stats", runStatsHandler(store))
			r.Get("/cases", listCasesHandler(store))
		})
	})

	r.Route("/cases/{caseId}", func(r chi.Router) {
		r.Get("/", getCaseHandler(store))
		r.Delete("/", deleteCaseHandler(store))
	})

	r.Get("/stats", globalStatsHandler(store))
}

// NewRouter creates a standalone router with the run routes, used by
// tests.
func NewRouter(store *RunStore, shots ScreenshotSaver, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	RegisterRoutes(r, store, shots, logger)
	return r
}
