package catalog

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes adds the catalog management routes to the given router.
// The server mounts them under /api.
func RegisterRoutes(r chi.Router, store *CatalogStore) {
	r.Route("/projects", func(r chi.Router) {
		r.Post("/", createProjectHandler(store))
		r.Get("/", listProjectsHandler(store))

		r.Route("/{projectId}", func(r chi.Router) {
			r.Get("/", getProjectHandler(store))
			r.Put("/", updateProjectHandler(store))
			r.Delete("/", deleteProjectHandler(store))

			r.Post("/epics", createEpicHandler(store))
			r.Get("/epics", listEpicsHandler(store))

			r.Get("/test-cases", listProjectDefinitionsHandler(store))
		})
	})

	r.Route("/epics/{epicId}", func(r chi.Router) {
		r.Get("/", getEpicHandler(store))
		r.Put("/", updateEpicHandler(store))
		r.Delete("/", deleteEpicHandler(store))

		r.Post("/features", createFeatureHandler(store))
		r.Get("/features", listFeaturesHandler(store))
	})

	r.Route("/features/{featureId}", func(r chi.Router) {
		r.Get("/", getFeatureHandler(store))
		r.Put("/", updateFeatureHandler(store))
		r.Delete("/", deleteFeatureHandler(store))

		r.Post("/test-cases", createDefinitionHandler(store))
		r.Get("/test-cases", listFeatureDefinitionsHandler(store))
	})

	// DELETE deactivates: catalog data is preserved, never hard-deleted.
	r.Route("/test-cases/{definitionId}", func(r chi.Router) {
		r.Get("/", getDefinitionHandler(store))
		r.Put("/", updateDefinitionHandler(store))
		r.Delete("/", deactivateDefinitionHandler(store))
	})
}

// NewRouter creates a standalone router with the catalog routes, used
// by tests.
func NewRouter(store *CatalogStore) chi.Router {
	r := chi.NewRouter()
	RegisterRoutes(r, store)
	return r
}
