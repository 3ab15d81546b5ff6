package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/thechetan9/SO-PatchPilot/internal/domain"
	"github.com/thechetan9/SO-PatchPilot/internal/planning"
)

// Plan DTOs

// CreatePlanRequest — запрос на создание плана.
type CreatePlanRequest struct {
	ClientID               string                    `json:"client_id"`
	CanarySize             int                       `json:"canary_size"`
	BatchSizes             []int                     `json:"batch_sizes"`
	HealthThresholdPercent float64                   `json:"health_threshold_percent"`
	HealthCheckIntervalSec int                       `json:"health_check_interval_sec"`
	PatchIDs               []string                  `json:"patch_ids,omitempty"`
	MaintenanceWindow      *domain.MaintenanceWindow `json:"maintenance_window,omitempty"`
	EstimatedDurationHours float64                   `json:"estimated_duration_hours,omitempty"`
	Notes                  string                    `json:"notes,omitempty"`
}

// ToDomain строит domain.Plan с новым ID.
func (req CreatePlanRequest) ToDomain(now time.Time) *domain.Plan {
	return &domain.Plan{
		ID:                     uuid.New(),
		ClientID:               req.ClientID,
		CanarySize:             req.CanarySize,
		BatchSizes:             req.BatchSizes,
		HealthThresholdPercent: req.HealthThresholdPercent,
		HealthCheckIntervalSec: req.HealthCheckIntervalSec,
		PatchIDs:               req.PatchIDs,
		MaintenanceWindow:      req.MaintenanceWindow,
		EstimatedDurationHours: req.EstimatedDurationHours,
		Notes:                  req.Notes,
		CreatedAt:              now,
	}
}

// PlanResponse — ответ с планом.
type PlanResponse struct {
	ID                     uuid.UUID                 `json:"id"`
	ClientID               string                    `json:"client_id"`
	CanarySize             int                       `json:"canary_size"`
	BatchSizes             []int                     `json:"batch_sizes"`
	HealthThresholdPercent float64                   `json:"health_threshold_percent"`
	HealthCheckIntervalSec int                       `json:"health_check_interval_sec"`
	PatchIDs               []string                  `json:"patch_ids,omitempty"`
	MaintenanceWindow      *domain.MaintenanceWindow `json:"maintenance_window,omitempty"`
	EstimatedDurationHours float64                   `json:"estimated_duration_hours,omitempty"`
	Notes                  string                    `json:"notes,omitempty"`
	CreatedAt              time.Time                 `json:"created_at"`
}

// PlanFromDomain конвертирует domain.Plan в PlanResponse.
func PlanFromDomain(p domain.Plan) PlanResponse {
	return PlanResponse{
		ID:                     p.ID,
		ClientID:               p.ClientID,
		CanarySize:             p.CanarySize,
		BatchSizes:             p.BatchSizes,
		HealthThresholdPercent: p.HealthThresholdPercent,
		HealthCheckIntervalSec: p.HealthCheckIntervalSec,
		PatchIDs:               p.PatchIDs,
		MaintenanceWindow:      p.MaintenanceWindow,
		EstimatedDurationHours: p.EstimatedDurationHours,
		Notes:                  p.Notes,
		CreatedAt:              p.CreatedAt,
	}
}

// GeneratePlanRequest — запрос на генерацию плана.
type GeneratePlanRequest struct {
	ClientID string   `json:"client_id"`
	PatchIDs []string `json:"patch_ids,omitempty"`
}

// GeneratePlanResponse — сгенерированный (или дефолтный) план.
type GeneratePlanResponse struct {
	Source string       `json:"source"`
	Reason string       `json:"reason,omitempty"`
	Plan   PlanResponse `json:"plan"`
}

// GeneratePlanFromResult конвертирует planning.Result в GeneratePlanResponse.
func GeneratePlanFromResult(res planning.Result) GeneratePlanResponse {
	return GeneratePlanResponse{
		Source: string(res.Source),
		Reason: res.Reason,
		Plan:   PlanFromDomain(*res.Plan),
	}
}

// Run DTOs

// CreateRunRequest — запрос на старт run.
type CreateRunRequest struct {
	PlanID   uuid.UUID `json:"plan_id"`
	ClientID string    `json:"client_id,omitempty"`
}

// StageResponse — стадия run.
type StageResponse struct {
	ID        int      `json:"stage_id"`
	Kind      string   `json:"kind"`
	Size      int      `json:"size"`
	DeviceIDs []string `json:"device_ids"`
}

// HealthResponse — состояние ожидания health gate.
type HealthResponse struct {
	State       string    `json:"state"`
	Attempts    int       `json:"attempts"`
	NextProbeAt time.Time `json:"next_probe_at"`
	LastPercent *float64  `json:"last_percent,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID              uuid.UUID       `json:"id"`
	PlanID          uuid.UUID       `json:"plan_id"`
	ClientID        string          `json:"client_id"`
	Status          string          `json:"status"`
	CurrentStage    int             `json:"current_stage"`
	Stages          []StageResponse `json:"stages"`
	DeviceCount     int             `json:"device_count"`
	Health          *HealthResponse `json:"health,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	stages := make([]StageResponse, len(r.Stages))
	for i, s := range r.Stages {
		stages[i] = StageResponse{
			ID:        s.ID,
			Kind:      string(s.Kind),
			Size:      s.Size(),
			DeviceIDs: s.DeviceIDs,
		}
	}

	resp := RunResponse{
		ID:              r.ID,
		PlanID:          r.PlanID,
		ClientID:        r.ClientID,
		Status:          string(r.Status),
		CurrentStage:    r.CurrentStage,
		Stages:          stages,
		DeviceCount:     r.DeviceCount(),
		CancelRequested: r.CancelRequested,
		Reason:          r.Reason,
		StartedAt:       r.StartedAt,
		EndedAt:         r.EndedAt,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
	}
	if r.Health != nil {
		resp.Health = &HealthResponse{
			State:       string(r.Health.State),
			Attempts:    r.Health.Attempts,
			NextProbeAt: r.Health.NextProbeAt,
			LastPercent: r.Health.LastPercent,
		}
	}
	return resp
}

// OutcomeResponse — запись журнала результатов стадии.
type OutcomeResponse struct {
	StageID       int                            `json:"stage_id"`
	Kind          string                         `json:"kind"`
	Attempted     int                            `json:"attempted"`
	Succeeded     int                            `json:"succeeded"`
	Failed        int                            `json:"failed"`
	HealthPercent *float64                       `json:"health_percent,omitempty"`
	Verdict       string                         `json:"verdict"`
	DeviceResults map[string]domain.DeviceResult `json:"device_results,omitempty"`
	RecordedAt    time.Time                      `json:"recorded_at"`
}

// OutcomeFromDomain конвертирует domain.StageOutcome в OutcomeResponse.
func OutcomeFromDomain(o domain.StageOutcome) OutcomeResponse {
	return OutcomeResponse{
		StageID:       o.StageID,
		Kind:          string(o.Kind),
		Attempted:     o.Attempted,
		Succeeded:     o.Succeeded,
		Failed:        o.Failed,
		HealthPercent: o.HealthPercent,
		Verdict:       string(o.Verdict),
		DeviceResults: o.DeviceResults,
		RecordedAt:    o.RecordedAt,
	}
}
