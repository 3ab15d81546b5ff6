package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/thechetan9/SO-PatchPilot/internal/domain"
	"github.com/thechetan9/SO-PatchPilot/internal/window"
)

// ValidatePlan проверяет параметры плана, не зависящие от популяции устройств.
//
// Проверяет:
// - canary_size >= 0
// - каждый batch_sizes[i] >= 0
// - health_threshold_percent в диапазоне [0, 100] с точностью до 0.01
// - health_check_interval_sec >= 0
// - окно обслуживания (если задано) разбирается
func ValidatePlan(plan *domain.Plan) error {
	if plan == nil {
		return NewInvalidPlanError("", "plan is nil")
	}

	if plan.CanarySize < 0 {
		return NewInvalidPlanError("canary_size", fmt.Sprintf("must be >= 0, got %d", plan.CanarySize))
	}

	for i, size := range plan.BatchSizes {
		if size < 0 {
			return NewInvalidPlanError(fmt.Sprintf("batch_sizes[%d]", i), fmt.Sprintf("must be >= 0, got %d", size))
		}
	}

	if plan.HealthThresholdPercent < 0 || plan.HealthThresholdPercent > 100 {
		return NewInvalidPlanError("health_threshold_percent",
			fmt.Sprintf("must be within [0, 100], got %v", plan.HealthThresholdPercent))
	}

	// Порог хранится в базисных пунктах: более точное значение после
	// перезагрузки run округлилось бы и могло изменить вердикт
	if bp := plan.HealthThresholdPercent * 100; math.Abs(bp-math.Round(bp)) > 1e-6 {
		return NewInvalidPlanError("health_threshold_percent",
			fmt.Sprintf("must have at most 2 decimal places, got %v", plan.HealthThresholdPercent))
	}

	if plan.HealthCheckIntervalSec < 0 {
		return NewInvalidPlanError("health_check_interval_sec", "must be >= 0")
	}

	if w := plan.MaintenanceWindow; w != nil {
		if w.Cron == "" {
			return NewInvalidPlanError("maintenance_window.cron", "is required")
		}
		if w.DurationMin <= 0 {
			return NewInvalidPlanError("maintenance_window.duration_min", "must be > 0")
		}
		if err := window.Validate(w); err != nil {
			if errors.Is(err, window.ErrUnknownTimezone) {
				return NewInvalidPlanError("maintenance_window.timezone", err.Error())
			}
			return NewInvalidPlanError("maintenance_window.cron", err.Error())
		}
	}

	return nil
}
