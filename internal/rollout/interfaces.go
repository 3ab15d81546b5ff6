package rollout

import "context"

// Receipt — ответ Patch Executor на команду.
type Receipt struct {
	// Accepted — команда принята агентом.
	Accepted bool

	// Handle — идентификатор команды у коллаборатора.
	Handle string

	// Detail — пояснение (причина отказа и т.п.).
	Detail string
}

// PatchExecutor применяет или откатывает патч-операции на одном устройстве.
//
// Ошибка означает, что команду не удалось отправить (DispatchError).
// Accepted=false без ошибки — агент отказался принять команду.
type PatchExecutor interface {
	Dispatch(ctx context.Context, deviceID string, patchIDs []string) (Receipt, error)
	Revert(ctx context.Context, deviceID string, patchIDs []string) (Receipt, error)
}

// ProbeResult — состояние одного устройства.
type ProbeResult struct {
	Healthy bool
	Detail  string
}

// HealthProber сообщает здоровье одного устройства.
type HealthProber interface {
	Probe(ctx context.Context, deviceID string) (ProbeResult, error)
}
