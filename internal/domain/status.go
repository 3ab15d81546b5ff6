package domain

// RunStatus — статус выполнения rollout run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING(i) → HEALTH_CHECK(i) → RUNNING(i+1) → ... → COMPLETED
//	                                      ↘ ROLLING_BACK(i) → ROLLED_BACK
//	(любой нефинальный) → FAILED (отмена, недоступность коллабораторов, ошибка записи)
type RunStatus string

const (
	// RunStatusPending — run создан, стадии спланированы, ни одна стадия не начата.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — Batch Executor запущен для текущей стадии.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusHealthCheck — Health Gate оценивает текущую стадию.
	RunStatusHealthCheck RunStatus = "HEALTH_CHECK"

	// RunStatusRollingBack — откат текущей стадии.
	RunStatusRollingBack RunStatus = "ROLLING_BACK"

	// RunStatusCompleted — все стадии прошли health gate.
	RunStatusCompleted RunStatus = "COMPLETED"

	// RunStatusRolledBack — стадия не прошла health gate и была откачена.
	RunStatusRolledBack RunStatus = "ROLLED_BACK"

	// RunStatusFailed — run прерван (отмена или неустранимая ошибка).
	RunStatusFailed RunStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusRolledBack, RunStatusFailed:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус известен.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusHealthCheck, RunStatusRollingBack,
		RunStatusCompleted, RunStatusRolledBack, RunStatusFailed:
		return true
	default:
		return false
	}
}

// StageKind — тип стадии.
type StageKind string

const (
	StageKindCanary StageKind = "canary"
	StageKindBatch  StageKind = "batch"
)

// OutcomeKind — что именно записано в StageOutcome: выкатка или откат.
type OutcomeKind string

const (
	OutcomeKindExecute  OutcomeKind = "execute"
	OutcomeKindRollback OutcomeKind = "rollback"
)

// Verdict — решение Health Gate.
type Verdict string

const (
	VerdictUnknown  Verdict = "unknown"
	VerdictProceed  Verdict = "proceed"
	VerdictRollback Verdict = "rollback"
)

// HealthState — состояние ожидания подтверждения здоровья стадии.
//
//	awaiting → confirmed
//	         ↘ timed_out (попытки исчерпаны)
type HealthState string

const (
	HealthStateAwaiting  HealthState = "awaiting"
	HealthStateConfirmed HealthState = "confirmed"
	HealthStateTimedOut  HealthState = "timed_out"
)

// DeviceStatus — результат операции над одним устройством.
type DeviceStatus string

const (
	// DeviceStatusDispatched — команда принята коллаборатором (не означает, что патч установлен).
	DeviceStatusDispatched DeviceStatus = "dispatched"

	// DeviceStatusFailed — отправка команды не удалась.
	DeviceStatusFailed DeviceStatus = "failed"

	// DeviceStatusRollingBack — команда отката принята.
	DeviceStatusRollingBack DeviceStatus = "rolling_back"

	// DeviceStatusRollbackFailed — откат на устройстве не удалось отправить.
	DeviceStatusRollbackFailed DeviceStatus = "rollback_failed"
)

// Причины перехода в FAILED.
const (
	ReasonCancelled               = "cancelled"
	ReasonCollaboratorUnavailable = "collaborator_unavailable"
	ReasonPersistence             = "persistence_failed"
)
