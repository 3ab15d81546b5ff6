package rollout

import (
	"context"
	"errors"
	"fmt"

	"github.com/thechetan9/SO-PatchPilot/internal/domain"
	"github.com/thechetan9/SO-PatchPilot/internal/telemetry"
)

// RollbackCoordinator откатывает стадию.
//
// Каждый вызов возвращает новый outcome типа rollback; повторный вызов
// для той же стадии безопасен для журнала run (outcome добавляется, а не
// перезаписывается). Идемпотентность на уровне устройства зависит от PatchExecutor.
type RollbackCoordinator struct {
	executor PatchExecutor
	cfg      Config
}

// NewRollbackCoordinator создаёт RollbackCoordinator.
func NewRollbackCoordinator(executor PatchExecutor, cfg Config) *RollbackCoordinator {
	return &RollbackCoordinator{executor: executor, cfg: cfg.withDefaults()}
}

// Rollback отправляет команду отката на каждое устройство стадии.
func (r *RollbackCoordinator) Rollback(ctx context.Context, stage domain.Stage, patchIDs []string) domain.StageOutcome {
	results := make([]domain.DeviceResult, len(stage.DeviceIDs))

	forEachDevice(ctx, stage.DeviceIDs, r.cfg.Concurrency, func(ctx context.Context, i int, deviceID string) {
		results[i] = r.revert(ctx, deviceID, patchIDs)
	})

	outcome := domain.StageOutcome{
		StageID:       stage.ID,
		Kind:          domain.OutcomeKindRollback,
		Verdict:       domain.VerdictRollback,
		DeviceResults: make(map[string]domain.DeviceResult, len(stage.DeviceIDs)),
		RecordedAt:    r.cfg.Now(),
	}
	for i, id := range stage.DeviceIDs {
		outcome.Record(id, results[i])
	}

	r.cfg.Logger.Info("stage rolled back",
		"stage", stage.ID,
		"attempted", outcome.Attempted,
		"succeeded", outcome.Succeeded,
		"failed", outcome.Failed,
	)

	return outcome
}

func (r *RollbackCoordinator) revert(ctx context.Context, deviceID string, patchIDs []string) domain.DeviceResult {
	ctx, cancel := r.cfg.deviceContext(ctx)
	defer cancel()

	receipt, err := r.executor.Revert(ctx, deviceID, patchIDs)
	if err != nil && !errors.Is(err, ErrDispatch) {
		err = fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	if err == nil && !receipt.Accepted {
		err = fmt.Errorf("%w: rollback rejected: %s", ErrDispatch, receipt.Detail)
	}

	telemetry.ObserveDeviceOperation("revert", err == nil)

	if err != nil {
		r.cfg.Logger.Warn("rollback failed", "device_id", deviceID, "error", err)
		return domain.DeviceResult{Status: domain.DeviceStatusRollbackFailed, Detail: err.Error()}
	}
	return domain.DeviceResult{
		Status: domain.DeviceStatusRollingBack,
		Detail: receipt.Detail,
		Handle: receipt.Handle,
	}
}
