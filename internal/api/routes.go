package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Plans
	mux.Handle("GET /api/v1/plans", chain(http.HandlerFunc(h.ListPlans)))
	mux.Handle("POST /api/v1/plans", chain(http.HandlerFunc(h.CreatePlan)))
	mux.Handle("POST /api/v1/plans/generate", chain(http.HandlerFunc(h.GeneratePlan)))
	mux.Handle("GET /api/v1/plans/{id}", chain(http.HandlerFunc(h.GetPlan)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/runs", chain(http.HandlerFunc(h.StartRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("GET /api/v1/runs/{id}/outcomes", chain(http.HandlerFunc(h.ListRunOutcomes)))
	mux.Handle("POST /api/v1/runs/{id}/advance", chain(http.HandlerFunc(h.AdvanceRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))
}
