package orchestrator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/thechetan9/SO-PatchPilot/internal/domain"
	"github.com/thechetan9/SO-PatchPilot/internal/mq"
)

// handleRunMessage обрабатывает run.pending и run.advance.
//
// Сообщение — только подсказка: источник истины — run в хранилище,
// поэтому дубли и устаревшие сообщения безопасны.
func (o *Orchestrator) handleRunMessage(ctx context.Context, delivery *mq.Delivery) error {
	runID, err := mq.ParseRunID(&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse run message", "type", delivery.Message.Type, "error", err)
		return err
	}

	o.logger.Debug("received run event", "type", delivery.Message.Type, "run_id", runID)

	if o.controller.IsActive(runID) {
		o.logger.Debug("run already active, skipping", "run_id", runID)
		return nil
	}

	_, err = o.advance(ctx, runID)
	return err
}

// advance продвигает run и решает, какие ошибки стоит повторять.
func (o *Orchestrator) advance(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	run, err := o.controller.Advance(ctx, runID)
	switch {
	case err == nil:
		return run, nil
	case errors.Is(err, ErrRunNotFound), errors.Is(err, ErrRunAlreadyActive):
		o.logger.Debug("run not advanced", "run_id", runID, "reason", err)
		return run, nil
	case errors.Is(err, context.Canceled):
		return run, nil
	default:
		return run, err
	}
}
