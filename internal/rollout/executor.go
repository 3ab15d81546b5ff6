package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thechetan9/SO-PatchPilot/internal/domain"
	"github.com/thechetan9/SO-PatchPilot/internal/telemetry"
)

// Config — общая конфигурация компонентов rollout.
type Config struct {
	// Concurrency — сколько устройств обрабатывается одновременно (default: 16).
	Concurrency int

	// DeviceTimeout — таймаут одного вызова коллаборатора (0 — без таймаута).
	DeviceTimeout time.Duration

	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// deviceContext ограничивает вызов по одному устройству таймаутом.
func (c Config) deviceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.DeviceTimeout > 0 {
		return context.WithTimeout(ctx, c.DeviceTimeout)
	}
	return context.WithCancel(ctx)
}

// BatchExecutor отправляет патч-операции на все устройства стадии.
type BatchExecutor struct {
	executor PatchExecutor
	cfg      Config
}

// NewBatchExecutor создаёт BatchExecutor.
func NewBatchExecutor(executor PatchExecutor, cfg Config) *BatchExecutor {
	return &BatchExecutor{executor: executor, cfg: cfg.withDefaults()}
}

// Execute отправляет patchIDs на каждое устройство стадии.
//
// Возвращает outcome типа execute с вердиктом unknown. Успех на этом уровне
// означает только принятую команду; установку подтверждает HealthGate.
func (b *BatchExecutor) Execute(ctx context.Context, stage domain.Stage, patchIDs []string) domain.StageOutcome {
	results := make([]domain.DeviceResult, len(stage.DeviceIDs))

	forEachDevice(ctx, stage.DeviceIDs, b.cfg.Concurrency, func(ctx context.Context, i int, deviceID string) {
		results[i] = b.dispatch(ctx, deviceID, patchIDs)
	})

	outcome := domain.StageOutcome{
		StageID:       stage.ID,
		Kind:          domain.OutcomeKindExecute,
		Verdict:       domain.VerdictUnknown,
		DeviceResults: make(map[string]domain.DeviceResult, len(stage.DeviceIDs)),
		RecordedAt:    b.cfg.Now(),
	}
	for i, id := range stage.DeviceIDs {
		outcome.Record(id, results[i])
	}

	b.cfg.Logger.Info("stage dispatched",
		"stage", stage.ID,
		"kind", stage.Kind,
		"attempted", outcome.Attempted,
		"succeeded", outcome.Succeeded,
		"failed", outcome.Failed,
	)

	return outcome
}

func (b *BatchExecutor) dispatch(ctx context.Context, deviceID string, patchIDs []string) domain.DeviceResult {
	ctx, cancel := b.cfg.deviceContext(ctx)
	defer cancel()

	receipt, err := b.executor.Dispatch(ctx, deviceID, patchIDs)
	if err != nil && !errors.Is(err, ErrDispatch) {
		err = fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	if err == nil && !receipt.Accepted {
		err = fmt.Errorf("%w: rejected: %s", ErrDispatch, receipt.Detail)
	}

	telemetry.ObserveDeviceOperation("dispatch", err == nil)

	if err != nil {
		b.cfg.Logger.Warn("dispatch failed", "device_id", deviceID, "error", err)
		return domain.DeviceResult{Status: domain.DeviceStatusFailed, Detail: err.Error()}
	}
	return domain.DeviceResult{
		Status: domain.DeviceStatusDispatched,
		Detail: receipt.Detail,
		Handle: receipt.Handle,
	}
}
