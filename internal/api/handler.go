package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/thechetan9/SO-PatchPilot/internal/domain"
	"github.com/thechetan9/SO-PatchPilot/internal/planning"
	"github.com/thechetan9/SO-PatchPilot/internal/repo"
)

// RunService — операции над runs (orchestrator.Controller).
type RunService interface {
	StartRun(ctx context.Context, planID uuid.UUID, clientID string) (*domain.Run, error)
	Advance(ctx context.Context, runID uuid.UUID) (*domain.Run, error)
	CancelRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error)
	ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
}

// PlanStore — хранилище планов (repo.PlanRepo).
type PlanStore interface {
	Create(ctx context.Context, plan *domain.Plan) error
	GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error)
	List(ctx context.Context, clientID string, limit, offset int) ([]domain.Plan, error)
}

// PlanGenerator составляет план для клиента (planning.Generator).
type PlanGenerator interface {
	Generate(ctx context.Context, clientID string, patchIDs []string) (planning.Result, error)
}

// RunEvents публикует события о runs (mq.Publisher).
type RunEvents interface {
	PublishRunPending(ctx context.Context, runID uuid.UUID) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runs      RunService
	plans     PlanStore
	generator PlanGenerator
	events    RunEvents
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Runs      RunService
	Plans     PlanStore
	Generator PlanGenerator // опционально: без него /plans/generate отвечает 404
	Events    RunEvents     // опционально: без него orchestrator найдёт run polling'ом
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runs:      cfg.Runs,
		plans:     cfg.Plans,
		generator: cfg.Generator,
		events:    cfg.Events,
		logger:    logger,
	}
}
