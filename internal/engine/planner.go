package engine

import "github.com/thechetan9/SO-PatchPilot/internal/domain"

// PlanStages разбивает популяцию устройств на упорядоченные стадии.
//
// Функция детерминированная и чистая. Порядок deviceIDs задаёт вызывающий
// (например, сначала наименее критичные устройства), планировщик
// никакой логики риска не применяет.
//
// Правила:
//   - стадия 0 (canary) получает первые min(max(1, canary_size), len(deviceIDs)) устройств
//   - остальные устройства раскладываются по batch_sizes по порядку
//   - если batch_sizes в сумме меньше остатка, лишние устройства добавляются в последний batch
//   - если batch_sizes пустой, создаётся один batch со всеми оставшимися устройствами
//   - повторяющиеся ID устройств учитываются один раз (первое вхождение)
//
// Пустая популяция — ошибка: вызывающий обрабатывает run без устройств сам.
func PlanStages(plan *domain.Plan, deviceIDs []string) ([]domain.Stage, error) {
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}

	devices := dedupe(deviceIDs)
	if len(devices) == 0 {
		return nil, NewInvalidPlanError("device_ids", "device population is empty")
	}

	canarySize := min(max(1, plan.CanarySize), len(devices))

	stages := []domain.Stage{{
		ID:        0,
		Kind:      domain.StageKindCanary,
		DeviceIDs: devices[:canarySize:canarySize],
	}}

	rest := devices[canarySize:]

	sizes := plan.BatchSizes
	if len(sizes) == 0 {
		// Синтезируем один batch из всего остатка (если остаток есть)
		if len(rest) == 0 {
			return stages, nil
		}
		sizes = []int{len(rest)}
	}

	offset := 0
	for i, size := range sizes {
		take := min(size, len(rest)-offset)
		end := offset + take

		// Последний batch забирает всё, что осталось
		if i == len(sizes)-1 {
			end = len(rest)
		}

		batch := make([]string, end-offset)
		copy(batch, rest[offset:end])

		stages = append(stages, domain.Stage{
			ID:        len(stages),
			Kind:      domain.StageKindBatch,
			DeviceIDs: batch,
		})
		offset = end
	}

	return stages, nil
}

// dedupe удаляет повторы, сохраняя порядок первого вхождения.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
