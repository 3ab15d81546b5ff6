package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — изменяемая запись выполнения плана по всем стадиям.
//
// Run создаётся при старте одобренного плана и изменяется только
// Run Controller'ом после каждого перехода. Каждая запись сохраняется
// с проверкой Version (compare-and-set), поэтому два контроллера не могут
// дважды продвинуть один и тот же run. После перехода в финальный статус
// run больше не изменяется.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// PlanID — план, по которому выполняется run.
	PlanID uuid.UUID `json:"plan_id"`

	// ClientID — клиент, чьи устройства патчатся.
	ClientID string `json:"client_id"`

	// Policy — снимок политики из плана на момент старта.
	Policy RunPolicy `json:"policy"`

	// Stages — упорядоченный список стадий (неизменяемый).
	Stages []Stage `json:"stages"`

	// CurrentStage — индекс текущей стадии.
	CurrentStage int `json:"current_stage"`

	// Status — текущий статус.
	Status RunStatus `json:"status"`

	// Outcomes — журнал результатов стадий (только добавление).
	Outcomes []StageOutcome `json:"outcomes"`

	// Health — состояние ожидания health gate для текущей стадии.
	// Заполнено только в HEALTH_CHECK и сохраняется после решения.
	Health *HealthCheck `json:"health,omitempty"`

	// CancelRequested — оператор запросил отмену; контроллер завершит run
	// в FAILED(cancelled) на ближайшей границе стадии.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// Dispatch — заявка контроллера, который сейчас отправляет патчи
	// текущей стадии. Снимается вместе с записью outcome стадии.
	Dispatch *DispatchClaim `json:"dispatch,omitempty"`

	// Reason — причина FAILED (cancelled, collaborator_unavailable: ..., ...).
	Reason string `json:"reason,omitempty"`

	// StartedAt — время перехода в RUNNING(0).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// EndedAt — время перехода в финальный статус.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// Version — версия записи для optimistic concurrency.
	// Увеличивается хранилищем при каждом сохранении.
	Version int64 `json:"version"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// RunPolicy — параметры выполнения, скопированные из Plan.
type RunPolicy struct {
	PatchIDs               []string           `json:"patch_ids,omitempty"`
	HealthThresholdPercent float64            `json:"health_threshold_percent"`
	HealthCheckInterval    time.Duration      `json:"health_check_interval"`
	MaintenanceWindow      *MaintenanceWindow `json:"maintenance_window,omitempty"`
}

// PolicyFromPlan строит RunPolicy из плана.
func PolicyFromPlan(p *Plan) RunPolicy {
	policy := RunPolicy{
		HealthThresholdPercent: p.HealthThresholdPercent,
		HealthCheckInterval:    p.HealthCheckInterval(),
	}
	if len(p.PatchIDs) > 0 {
		policy.PatchIDs = append([]string(nil), p.PatchIDs...)
	}
	if p.MaintenanceWindow != nil {
		w := *p.MaintenanceWindow
		policy.MaintenanceWindow = &w
	}
	return policy
}

// HealthCheck — явная машина состояний ожидания подтверждения здоровья.
type HealthCheck struct {
	State HealthState `json:"state"`

	// Attempts — сколько раз уже опрашивался Health Gate.
	Attempts int `json:"attempts"`

	// NextProbeAt — не раньше этого момента выполняется следующий опрос.
	NextProbeAt time.Time `json:"next_probe_at"`

	// LastPercent — результат последнего опроса.
	LastPercent *float64 `json:"last_percent,omitempty"`
}

// DispatchClaim — заявка на отправку патчей стадии.
//
// Пока заявка не истекла, другие контроллеры не отправляют стадию повторно
// и не завершают run по отмене: владелец сам запишет outcome.
type DispatchClaim struct {
	Owner     string    `json:"owner"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DispatchHeldByOther проверяет, что стадию сейчас отправляет другой
// контроллер и его заявка ещё действует.
func (r *Run) DispatchHeldByOther(owner string, now time.Time) bool {
	return r.Status == RunStatusRunning &&
		r.Dispatch != nil &&
		r.Dispatch.Owner != owner &&
		now.Before(r.Dispatch.ExpiresAt)
}

// IsFinished возвращает true, если run завершён (в любом финальном статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.StartedAt)
}

// IsLastStage проверяет, является ли текущая стадия последней.
func (r *Run) IsLastStage() bool {
	return r.CurrentStage >= len(r.Stages)-1
}

// Stage возвращает текущую стадию (nil, если стадий нет).
func (r *Run) Stage() *Stage {
	if r.CurrentStage < 0 || r.CurrentStage >= len(r.Stages) {
		return nil
	}
	return &r.Stages[r.CurrentStage]
}

// DeviceCount возвращает общее количество устройств во всех стадиях.
func (r *Run) DeviceCount() int {
	n := 0
	for i := range r.Stages {
		n += r.Stages[i].Size()
	}
	return n
}

// LastOutcome возвращает последний outcome заданного типа для стадии.
func (r *Run) LastOutcome(stageID int, kind OutcomeKind) *StageOutcome {
	for i := len(r.Outcomes) - 1; i >= 0; i-- {
		o := &r.Outcomes[i]
		if o.StageID == stageID && o.Kind == kind {
			return o
		}
	}
	return nil
}

// OutcomesForStage возвращает все outcomes стадии в порядке добавления.
func (r *Run) OutcomesForStage(stageID int) []StageOutcome {
	var result []StageOutcome
	for _, o := range r.Outcomes {
		if o.StageID == stageID {
			result = append(result, o)
		}
	}
	return result
}

// AppendOutcome добавляет outcome в журнал.
func (r *Run) AppendOutcome(o StageOutcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// MarkRunning переводит run в RUNNING для стадии stage.
func (r *Run) MarkRunning(stage int, now time.Time) {
	r.Status = RunStatusRunning
	r.CurrentStage = stage
	r.Health = nil
	r.Dispatch = nil
	if r.StartedAt == nil {
		t := now
		r.StartedAt = &t
	}
}

// MarkHealthCheck переводит run в HEALTH_CHECK; первый опрос — сразу.
func (r *Run) MarkHealthCheck(now time.Time) {
	r.Status = RunStatusHealthCheck
	r.Dispatch = nil
	r.Health = &HealthCheck{
		State:       HealthStateAwaiting,
		NextProbeAt: now,
	}
}

// MarkRollingBack переводит run в ROLLING_BACK.
func (r *Run) MarkRollingBack() {
	r.Status = RunStatusRollingBack
}

// MarkCompleted переводит run в COMPLETED.
func (r *Run) MarkCompleted(now time.Time) {
	r.finish(RunStatusCompleted, now)
}

// MarkRolledBack переводит run в ROLLED_BACK.
func (r *Run) MarkRolledBack(now time.Time) {
	r.finish(RunStatusRolledBack, now)
}

// MarkFailed переводит run в FAILED с причиной.
func (r *Run) MarkFailed(reason string, now time.Time) {
	r.Reason = reason
	r.finish(RunStatusFailed, now)
}

func (r *Run) finish(status RunStatus, now time.Time) {
	t := now
	r.Status = status
	r.EndedAt = &t
	r.Dispatch = nil
}

// Clone возвращает глубокую копию run.
//
// Контроллер всегда изменяет копию и сохраняет её с проверкой версии,
// чтобы при конфликте исходное состояние оставалось нетронутым.
func (r *Run) Clone() *Run {
	c := *r

	if r.Stages != nil {
		c.Stages = make([]Stage, len(r.Stages))
		for i, s := range r.Stages {
			c.Stages[i] = Stage{ID: s.ID, Kind: s.Kind, DeviceIDs: append([]string(nil), s.DeviceIDs...)}
		}
	}
	if r.Outcomes != nil {
		c.Outcomes = make([]StageOutcome, len(r.Outcomes))
		for i, o := range r.Outcomes {
			c.Outcomes[i] = o.Clone()
		}
	}
	if r.Health != nil {
		h := *r.Health
		if r.Health.LastPercent != nil {
			p := *r.Health.LastPercent
			h.LastPercent = &p
		}
		c.Health = &h
	}
	if r.Dispatch != nil {
		d := *r.Dispatch
		c.Dispatch = &d
	}
	if r.Policy.PatchIDs != nil {
		c.Policy.PatchIDs = append([]string(nil), r.Policy.PatchIDs...)
	}
	if r.Policy.MaintenanceWindow != nil {
		w := *r.Policy.MaintenanceWindow
		c.Policy.MaintenanceWindow = &w
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	return &c
}
