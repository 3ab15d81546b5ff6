package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в хранилище.
	ErrRunNotFound = errors.New("run not found")

	// ErrPlanNotFound — Plan Source не знает такого плана.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrCollaboratorUnavailable — Plan Source или Device Directory
	// недоступны после всех повторов.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrRunFinished — run уже в финальном статусе.
	ErrRunFinished = errors.New("run already finished")

	// ErrRunNotCancellable — run нельзя отменить в текущем статусе (идёт откат).
	ErrRunNotCancellable = errors.New("run cannot be cancelled in current status")

	// ErrRunAlreadyActive — run уже продвигается в этом процессе.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrPersistence — переход не удалось записать после всех повторов.
	ErrPersistence = errors.New("persist run transition")
)
