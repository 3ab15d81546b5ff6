package domain

import "time"

// Stage — одна стадия rollout: группа устройств, которые патчатся
// и проверяются вместе.
//
// Стадии создаются один раз Stage Planner'ом при создании run и дальше
// не изменяются. Стадия 0 всегда canary.
type Stage struct {
	// ID — порядковый индекс стадии внутри run (0 = canary).
	ID int `json:"stage_id"`

	// Kind — canary или batch.
	Kind StageKind `json:"kind"`

	// DeviceIDs — устройства стадии. Множества устройств разных стадий не пересекаются.
	DeviceIDs []string `json:"device_ids"`
}

// Size возвращает количество устройств в стадии.
func (s *Stage) Size() int {
	return len(s.DeviceIDs)
}

// DeviceResult — результат операции над одним устройством.
type DeviceResult struct {
	Status DeviceStatus `json:"status"`

	// Detail — текст ошибки или пояснение коллаборатора.
	Detail string `json:"detail,omitempty"`

	// Handle — идентификатор команды у Patch Executor (например, command id).
	Handle string `json:"handle,omitempty"`
}

// StageOutcome — результат выполнения (или отката) стадии.
//
// Добавляется в журнал run один раз. Единственное допустимое изменение после
// добавления — заполнение HealthPercent и Verdict Health Gate'ом
// для outcome типа execute (unknown → proceed/rollback).
type StageOutcome struct {
	StageID int         `json:"stage_id"`
	Kind    OutcomeKind `json:"kind"`

	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// HealthPercent — процент здоровых устройств (nil — health gate ещё не выносил решение).
	HealthPercent *float64 `json:"health_percent,omitempty"`

	Verdict Verdict `json:"verdict"`

	DeviceResults map[string]DeviceResult `json:"device_results"`

	RecordedAt time.Time `json:"recorded_at"`
}

// Record добавляет результат по устройству и обновляет счётчики.
func (o *StageOutcome) Record(deviceID string, result DeviceResult) {
	if o.DeviceResults == nil {
		o.DeviceResults = make(map[string]DeviceResult)
	}
	o.DeviceResults[deviceID] = result
	o.Attempted++

	switch result.Status {
	case DeviceStatusDispatched, DeviceStatusRollingBack:
		o.Succeeded++
	default:
		o.Failed++
	}
}

// Decide записывает решение Health Gate.
func (o *StageOutcome) Decide(healthPercent float64, verdict Verdict) {
	p := healthPercent
	o.HealthPercent = &p
	o.Verdict = verdict
}

// Clone возвращает глубокую копию outcome.
func (o StageOutcome) Clone() StageOutcome {
	c := o
	if o.HealthPercent != nil {
		p := *o.HealthPercent
		c.HealthPercent = &p
	}
	if o.DeviceResults != nil {
		c.DeviceResults = make(map[string]DeviceResult, len(o.DeviceResults))
		for k, v := range o.DeviceResults {
			c.DeviceResults[k] = v
		}
	}
	return c
}
