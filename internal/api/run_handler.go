package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/thechetan9/SO-PatchPilot/internal/domain"
	"github.com/thechetan9/SO-PatchPilot/internal/orchestrator"
	"github.com/thechetan9/SO-PatchPilot/internal/repo"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?client_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.RunFilter{
		ClientID: q.Get("client_id"),
		Limit:    int(mustParseInt(q.Get("limit"), 50)),
		Offset:   int(mustParseInt(q.Get("offset"), 0)),
	}

	if status := q.Get("status"); status != "" {
		filter.Status = domain.RunStatus(status)
		if !filter.Status.IsValid() {
			BadRequest(w, "invalid status")
			return
		}
	}

	runs, err := h.runs.ListRuns(r.Context(), filter)
	if HandleError(w, h.logger, err, nil) {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// StartRun создаёт run по одобренному плану.
// POST /api/v1/runs
//
// Если коллаборатор недоступен, run создаётся в FAILED и отдаётся
// вместе с ошибкой 503.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.PlanID == uuid.Nil {
		BadRequest(w, "plan_id is required")
		return
	}

	run, err := h.runs.StartRun(r.Context(), req.PlanID, req.ClientID)
	if err != nil {
		var data any
		if run != nil && errors.Is(err, orchestrator.ErrCollaboratorUnavailable) {
			data = RunFromDomain(*run)
		}
		HandleError(w, h.logger, err, data)
		return
	}

	// Публикуем событие в очередь
	if h.events != nil && !run.IsFinished() {
		if err := h.events.PublishRunPending(r.Context(), run.ID); err != nil {
			h.logger.Warn("failed to publish run.pending", "run_id", run.ID, "error", err)
		}
	}

	Created(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if HandleError(w, h.logger, err, nil) {
		return
	}

	Success(w, RunFromDomain(*run))
}

// ListRunOutcomes возвращает журнал результатов стадий.
// GET /api/v1/runs/{id}/outcomes?stage=...
func (h *Handler) ListRunOutcomes(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if HandleError(w, h.logger, err, nil) {
		return
	}

	outcomes := run.Outcomes
	if s := r.URL.Query().Get("stage"); s != "" {
		stage, err := strconv.Atoi(s)
		if err != nil || stage < 0 {
			BadRequest(w, "invalid stage")
			return
		}
		outcomes = run.OutcomesForStage(stage)
	}

	result := make([]OutcomeResponse, len(outcomes))
	for i, o := range outcomes {
		result[i] = OutcomeFromDomain(o)
	}

	List(w, result, len(result))
}

// AdvanceRun продвигает run до следующей точки ожидания.
// POST /api/v1/runs/{id}/advance
func (h *Handler) AdvanceRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := h.runs.Advance(r.Context(), id)
	if err != nil {
		var data any
		if run != nil {
			data = RunFromDomain(*run)
		}
		HandleError(w, h.logger, err, data)
		return
	}

	Success(w, RunFromDomain(*run))
}

// CancelRun запрашивает отмену run.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := h.runs.CancelRun(r.Context(), id)
	if err != nil {
		var data any
		if run != nil {
			data = RunFromDomain(*run)
		}
		HandleError(w, h.logger, err, data)
		return
	}

	Success(w, RunFromDomain(*run))
}

func runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return uuid.Nil, false
	}
	return id, true
}

// mustParseInt парсит строку в int с дефолтным значением.
func mustParseInt(s string, defaultVal int64) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
