package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"github.com/thechetan9/SO-PatchPilot/internal/domain"
	"github.com/thechetan9/SO-PatchPilot/internal/repo"
)

// PlanSource возвращает одобренный план.
// Неизвестный план — repo.ErrNotFound, любая другая ошибка считается временной.
type PlanSource interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error)
}

// DeviceDirectory возвращает устройства клиента в стабильном порядке.
type DeviceDirectory interface {
	ResolveDevices(ctx context.Context, clientID string) ([]string, error)
}

// RunStore — хранилище runs с compare-and-set.
//
// Save возвращает repo.ErrVersionConflict, если версия в хранилище
// не равна expectedVersion. Реализации: repo.RunRepo, repo.MemoryRunRepo.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	Load(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	Save(ctx context.Context, run *domain.Run, expectedVersion int64) error
	ListActive(ctx context.Context, limit int) ([]domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
}

// TicketNotifier получает человекочитаемые сообщения о ходе run.
// Ошибки логируются и никогда не влияют на run.
type TicketNotifier interface {
	Notify(ctx context.Context, runID uuid.UUID, message string) error
}

// Archiver сохраняет отчёт о завершённом run. Best-effort.
type Archiver interface {
	Archive(ctx context.Context, run *domain.Run) error
}
