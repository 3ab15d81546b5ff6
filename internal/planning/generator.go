package planning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/thechetan9/SO-PatchPilot/internal/domain"
	"github.com/thechetan9/SO-PatchPilot/internal/engine"
)

// Значения плана по умолчанию.
const (
	DefaultHealthThresholdPercent = 95
	DefaultHealthCheckIntervalSec = 600
	DefaultEstimatedHours         = 6
)

// Request — контекст для предложения плана.
type Request struct {
	ClientID  string   `json:"client_id"`
	DeviceIDs []string `json:"device_ids"`
	PatchIDs  []string `json:"patch_ids,omitempty"`
}

// Proposer предлагает план для клиента.
type Proposer interface {
	Propose(ctx context.Context, req Request) (*domain.Plan, error)
}

// DeviceDirectory возвращает устройства клиента.
type DeviceDirectory interface {
	ResolveDevices(ctx context.Context, clientID string) ([]string, error)
}

// Generator генерирует планы.
type Generator struct {
	proposer Proposer
	devices  DeviceDirectory
	now      func() time.Time
	logger   *slog.Logger
}

// NewGenerator создаёт Generator. proposer может быть nil —
// тогда всегда используется план по умолчанию.
func NewGenerator(proposer Proposer, devices DeviceDirectory, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		proposer: proposer,
		devices:  devices,
		now:      time.Now,
		logger:   logger,
	}
}

// Generate составляет план для клиента.
//
// Ошибка возвращается только если не удалось получить устройства клиента;
// любые проблемы Proposer дают Defaulted.
func (g *Generator) Generate(ctx context.Context, clientID string, patchIDs []string) (Result, error) {
	if clientID == "" {
		return Result{}, engine.NewInvalidPlanError("client_id", "is required")
	}

	deviceIDs, err := g.devices.ResolveDevices(ctx, clientID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve devices: %w", err)
	}

	req := Request{ClientID: clientID, DeviceIDs: deviceIDs, PatchIDs: patchIDs}
	result := g.propose(ctx, req)
	g.finish(result.Plan, req)

	g.logger.Info("plan generated",
		"client_id", clientID,
		"source", result.Source,
		"reason", result.Reason,
		"devices", len(deviceIDs),
		"canary_size", result.Plan.CanarySize,
		"batches", len(result.Plan.BatchSizes),
	)

	return result, nil
}

func (g *Generator) propose(ctx context.Context, req Request) Result {
	fallback := func(reason string) Result {
		return Defaulted(DefaultPlan(len(req.DeviceIDs)), reason)
	}

	if g.proposer == nil {
		return fallback("no proposer configured")
	}

	plan, err := g.proposer.Propose(ctx, req)
	if err != nil {
		g.logger.Warn("proposer failed, using default plan", "client_id", req.ClientID, "error", err)
		return fallback(fmt.Sprintf("proposer failed: %v", err))
	}
	if plan == nil {
		return fallback("proposer returned no plan")
	}
	if err := engine.ValidatePlan(plan); err != nil {
		g.logger.Warn("proposed plan is invalid, using default plan", "client_id", req.ClientID, "error", err)
		return fallback(fmt.Sprintf("invalid proposal: %v", err))
	}

	return Generated(plan)
}

// finish заполняет поля, которые Proposer не задаёт.
func (g *Generator) finish(plan *domain.Plan, req Request) {
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	plan.ClientID = req.ClientID
	if len(plan.PatchIDs) == 0 && len(req.PatchIDs) > 0 {
		plan.PatchIDs = append([]string(nil), req.PatchIDs...)
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = g.now().UTC()
	}
}

// DefaultPlan — план по умолчанию для n устройств: canary ~10%,
// затем три примерно равных batch.
func DefaultPlan(n int) *domain.Plan {
	third := n / 3
	return &domain.Plan{
		CanarySize:             max(1, n/10),
		BatchSizes:             []int{third, third, n - 2*third},
		HealthThresholdPercent: DefaultHealthThresholdPercent,
		HealthCheckIntervalSec: DefaultHealthCheckIntervalSec,
		EstimatedDurationHours: DefaultEstimatedHours,
		Notes:                  "Default plan - canary first, then phased rollout",
	}
}
