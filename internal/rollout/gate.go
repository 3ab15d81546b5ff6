package rollout

import (
	"context"
	"errors"
	"fmt"

	"github.com/thechetan9/SO-PatchPilot/internal/domain"
	"github.com/thechetan9/SO-PatchPilot/internal/telemetry"
)

// HealthGate опрашивает Health Prober по всем устройствам стадии
// и сравнивает процент здоровых с порогом.
//
// HealthGate сам не повторяет опрос: политика повторов (attempts,
// backoff) принадлежит Run Controller'у.
type HealthGate struct {
	prober HealthProber
	cfg    Config
}

// NewHealthGate создаёт HealthGate.
func NewHealthGate(prober HealthProber, cfg Config) *HealthGate {
	return &HealthGate{prober: prober, cfg: cfg.withDefaults()}
}

// Evaluate опрашивает устройства стадии и возвращает процент здоровых и вердикт.
//
// Устройство без ответа, с ошибкой опроса или с сигналом "не online /
// не compliant" считается нездоровым.
func (g *HealthGate) Evaluate(ctx context.Context, stage domain.Stage, thresholdPercent float64) (float64, domain.Verdict) {
	healthy := make([]bool, len(stage.DeviceIDs))

	forEachDevice(ctx, stage.DeviceIDs, g.cfg.Concurrency, func(ctx context.Context, i int, deviceID string) {
		healthy[i] = g.probe(ctx, deviceID)
	})

	count := 0
	for _, ok := range healthy {
		if ok {
			count++
		}
	}

	percent, verdict := Judge(count, len(stage.DeviceIDs), thresholdPercent)
	telemetry.StageHealthPercent.Observe(percent)

	g.cfg.Logger.Info("health evaluated",
		"stage", stage.ID,
		"healthy", count,
		"total", len(stage.DeviceIDs),
		"health_percent", percent,
		"threshold", thresholdPercent,
		"verdict", verdict,
	)

	return percent, verdict
}

func (g *HealthGate) probe(ctx context.Context, deviceID string) bool {
	ctx, cancel := g.cfg.deviceContext(ctx)
	defer cancel()

	result, err := g.prober.Probe(ctx, deviceID)
	if err != nil && !errors.Is(err, ErrProbe) {
		err = fmt.Errorf("%w: %v", ErrProbe, err)
	}

	telemetry.ObserveDeviceOperation("probe", err == nil)

	if err != nil {
		g.cfg.Logger.Debug("probe failed", "device_id", deviceID, "error", err)
		return false
	}
	if !result.Healthy {
		g.cfg.Logger.Debug("device unhealthy", "device_id", deviceID, "detail", result.Detail)
	}
	return result.Healthy
}

// Judge вычисляет процент здоровых устройств и вердикт.
//
// Пустая стадия всегда проходит (100%, proceed). Сравнение с порогом
// включительное.
func Judge(healthy, total int, thresholdPercent float64) (float64, domain.Verdict) {
	if total == 0 {
		return 100.0, domain.VerdictProceed
	}

	percent := float64(healthy*100) / float64(total)
	if percent >= thresholdPercent {
		return percent, domain.VerdictProceed
	}
	return percent, domain.VerdictRollback
}
