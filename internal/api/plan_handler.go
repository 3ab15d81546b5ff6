package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/thechetan9/SO-PatchPilot/internal/engine"
)

// ListPlans возвращает список планов.
// GET /api/v1/plans?client_id=...&limit=...&offset=...
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := int(mustParseInt(q.Get("limit"), 50))
	offset := int(mustParseInt(q.Get("offset"), 0))

	plans, err := h.plans.List(r.Context(), q.Get("client_id"), limit, offset)
	if HandleError(w, h.logger, err, nil) {
		return
	}

	result := make([]PlanResponse, len(plans))
	for i, p := range plans {
		result[i] = PlanFromDomain(p)
	}

	List(w, result, len(result))
}

// CreatePlan создаёт одобренный план.
// POST /api/v1/plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.ClientID == "" {
		HandleError(w, h.logger, engine.NewInvalidPlanError("client_id", "is required"), nil)
		return
	}

	plan := req.ToDomain(time.Now().UTC())
	if HandleError(w, h.logger, engine.ValidatePlan(plan), nil) {
		return
	}

	if HandleError(w, h.logger, h.plans.Create(r.Context(), plan), nil) {
		return
	}

	h.logger.Info("plan created", "plan_id", plan.ID, "client_id", plan.ClientID)
	Created(w, PlanFromDomain(*plan))
}

// GeneratePlan составляет план для клиента и сохраняет его.
// POST /api/v1/plans/generate
//
// Если генератор не смог предложить валидный план, возвращается
// дефолтный с source=defaulted и причиной.
func (h *Handler) GeneratePlan(w http.ResponseWriter, r *http.Request) {
	if h.generator == nil {
		NotFound(w, "plan generation is not configured")
		return
	}

	var req GeneratePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	res, err := h.generator.Generate(r.Context(), req.ClientID, req.PatchIDs)
	if HandleError(w, h.logger, err, nil) {
		return
	}

	if HandleError(w, h.logger, h.plans.Create(r.Context(), res.Plan), nil) {
		return
	}

	if res.IsDefaulted() {
		h.logger.Warn("plan defaulted", "client_id", req.ClientID, "plan_id", res.Plan.ID, "reason", res.Reason)
	} else {
		h.logger.Info("plan generated", "client_id", req.ClientID, "plan_id", res.Plan.ID)
	}

	Created(w, GeneratePlanFromResult(res))
}

// GetPlan возвращает план по ID.
// GET /api/v1/plans/{id}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid plan id")
		return
	}

	plan, err := h.plans.GetPlan(r.Context(), id)
	if HandleError(w, h.logger, err, nil) {
		return
	}

	Success(w, PlanFromDomain(*plan))
}

