package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thechetan9/SO-PatchPilot/internal/domain"
	"github.com/thechetan9/SO-PatchPilot/internal/engine"
	"github.com/thechetan9/SO-PatchPilot/internal/repo"
	"github.com/thechetan9/SO-PatchPilot/internal/rollout"
	"github.com/thechetan9/SO-PatchPilot/internal/telemetry"
	"github.com/thechetan9/SO-PatchPilot/internal/window"
)

// Default configuration values.
const (
	defaultHealthMaxAttempts   = 3
	defaultHealthMaxBackoff    = 30 * time.Minute
	defaultCollaboratorRetries = 3
	defaultCollaboratorBackoff = time.Second
	defaultPersistRetries      = 5
	defaultDispatchLease       = 30 * time.Minute
	defaultMaxSteps            = 64
)

// Controller — Run Controller: машина состояний run.
//
// Controller последовательно вызывает BatchExecutor, HealthGate и
// RollbackCoordinator и записывает каждый переход через RunStore.Save
// с проверкой версии. Сам Controller состояния не хранит: всё, что нужно
// для продолжения после падения, лежит в run.
type Controller struct {
	store    RunStore
	plans    PlanSource
	devices  DeviceDirectory
	notifier TicketNotifier
	archiver Archiver

	executor *rollout.BatchExecutor
	gate     *rollout.HealthGate
	rollback *rollout.RollbackCoordinator

	healthMaxAttempts   int
	healthMaxBackoff    time.Duration
	collaboratorRetries int
	collaboratorBackoff time.Duration
	persistRetries      int
	maxSteps            int

	// id — владелец заявок на отправку стадий (см. domain.DispatchClaim).
	id            string
	dispatchLease time.Duration

	// activeRuns — runs, которые сейчас продвигаются в этом процессе.
	activeRuns map[uuid.UUID]struct{}
	mu         sync.Mutex

	now    func() time.Time
	logger *slog.Logger
}

// ControllerConfig — конфигурация Controller.
type ControllerConfig struct {
	// Collaborators
	Store    RunStore
	Plans    PlanSource
	Devices  DeviceDirectory
	Executor rollout.PatchExecutor
	Prober   rollout.HealthProber

	// Notifier и Archiver опциональны.
	Notifier TicketNotifier
	Archiver Archiver

	// Per-device
	Concurrency   int           // параллельных операций над устройствами (default: 16)
	DeviceTimeout time.Duration // таймаут одной операции (default: без таймаута)

	// Health gate
	HealthMaxAttempts int           // опросов до решения rollback (default: 3)
	HealthMaxBackoff  time.Duration // максимальная пауза между опросами (default: 30m)

	// Retries
	CollaboratorRetries int           // повторов Plan Source / Device Directory (default: 3)
	CollaboratorBackoff time.Duration // начальная пауза между повторами (default: 1s)
	PersistRetries      int           // повторов записи перехода (default: 5)

	// MaxSteps — предел переходов за один вызов Advance (default: 64).
	MaxSteps int

	// ID — имя контроллера в заявках на отправку стадии (default: случайный UUID).
	// DispatchLease — срок заявки; после него стадию может подхватить
	// другой контроллер (default: 30m).
	ID            string
	DispatchLease time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// NewController создаёт новый Controller.
func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	healthMaxAttempts := cfg.HealthMaxAttempts
	if healthMaxAttempts <= 0 {
		healthMaxAttempts = defaultHealthMaxAttempts
	}

	healthMaxBackoff := cfg.HealthMaxBackoff
	if healthMaxBackoff <= 0 {
		healthMaxBackoff = defaultHealthMaxBackoff
	}

	collaboratorRetries := cfg.CollaboratorRetries
	if collaboratorRetries <= 0 {
		collaboratorRetries = defaultCollaboratorRetries
	}

	collaboratorBackoff := cfg.CollaboratorBackoff
	if collaboratorBackoff <= 0 {
		collaboratorBackoff = defaultCollaboratorBackoff
	}

	persistRetries := cfg.PersistRetries
	if persistRetries <= 0 {
		persistRetries = defaultPersistRetries
	}

	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}

	dispatchLease := cfg.DispatchLease
	if dispatchLease <= 0 {
		dispatchLease = defaultDispatchLease
	}

	rcfg := rollout.Config{
		Concurrency:   cfg.Concurrency,
		DeviceTimeout: cfg.DeviceTimeout,
		Logger:        logger,
		Now:           now,
	}

	return &Controller{
		store:               cfg.Store,
		plans:               cfg.Plans,
		devices:             cfg.Devices,
		notifier:            cfg.Notifier,
		archiver:            cfg.Archiver,
		executor:            rollout.NewBatchExecutor(cfg.Executor, rcfg),
		gate:                rollout.NewHealthGate(cfg.Prober, rcfg),
		rollback:            rollout.NewRollbackCoordinator(cfg.Executor, rcfg),
		healthMaxAttempts:   healthMaxAttempts,
		healthMaxBackoff:    healthMaxBackoff,
		collaboratorRetries: collaboratorRetries,
		collaboratorBackoff: collaboratorBackoff,
		persistRetries:      persistRetries,
		maxSteps:            maxSteps,
		id:                  id,
		dispatchLease:       dispatchLease,
		activeRuns:          make(map[uuid.UUID]struct{}),
		now:                 now,
		logger:              logger,
	}
}

// StartRun создаёт run по одобренному плану.
//
// Неизвестный или невалидный план — ошибка, run не создаётся.
// Если Plan Source или Device Directory недоступны после повторов, run
// создаётся сразу в FAILED и возвращается вместе с ErrCollaboratorUnavailable.
// Клиент без устройств даёт run в COMPLETED без стадий.
//
// clientID может быть пустым — тогда берётся клиент из плана.
func (c *Controller) StartRun(ctx context.Context, planID uuid.UUID, clientID string) (*domain.Run, error) {
	var plan *domain.Plan
	err := c.withRetry(ctx, "get plan", func(ctx context.Context) error {
		var err error
		plan, err = c.plans.GetPlan(ctx, planID)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		run := c.newRun(planID, clientID, nil)
		return c.createUnavailable(ctx, run, "plan source", err)
	}

	if clientID == "" {
		clientID = plan.ClientID
	}
	if clientID == "" {
		return nil, engine.NewInvalidPlanError("client_id", "is required")
	}
	if err := engine.ValidatePlan(plan); err != nil {
		return nil, err
	}

	run := c.newRun(planID, clientID, plan)

	var deviceIDs []string
	err = c.withRetry(ctx, "resolve devices", func(ctx context.Context) error {
		var err error
		deviceIDs, err = c.devices.ResolveDevices(ctx, clientID)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return c.createUnavailable(ctx, run, "device directory", err)
	}

	if len(deviceIDs) == 0 {
		now := c.now()
		run.StartedAt = &now
		run.MarkCompleted(now)
	} else {
		stages, err := engine.PlanStages(plan, deviceIDs)
		if err != nil {
			return nil, err
		}
		run.Stages = stages
	}

	if err := c.create(ctx, run); err != nil {
		return nil, err
	}

	c.logger.Info("run started",
		"run_id", run.ID,
		"plan_id", run.PlanID,
		"client_id", run.ClientID,
		"status", run.Status,
		"stages", len(run.Stages),
		"devices", run.DeviceCount(),
	)

	if run.IsFinished() {
		c.finalize(ctx, run, nil)
	} else {
		c.notify(ctx, run, nil)
	}
	return run, nil
}

// Advance продвигает run, пока есть что делать.
//
// Останавливается в финальном статусе или в точке ожидания (окно
// обслуживания закрыто, следующий опрос здоровья ещё не наступил).
// Повторный вызов в том же состоянии ничего не меняет; вызов для
// завершённого run возвращает его без изменений.
func (c *Controller) Advance(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	if !c.acquire(runID) {
		return nil, fmt.Errorf("%w: %s", ErrRunAlreadyActive, runID)
	}
	defer c.release(runID)

	run, err := c.load(ctx, runID)
	if err != nil {
		return nil, err
	}

	for i := 0; i < c.maxSteps && !run.IsFinished(); i++ {
		next, progressed, err := c.step(ctx, run)
		if err != nil {
			return next, err
		}
		run = next
		if !progressed {
			break
		}
	}

	return run, nil
}

// GetRun возвращает run.
func (c *Controller) GetRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	return c.load(ctx, runID)
}

// ListRuns возвращает runs с фильтрацией.
func (c *Controller) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	return c.store.List(ctx, filter)
}

// ListActive возвращает нефинальные runs.
func (c *Controller) ListActive(ctx context.Context, limit int) ([]domain.Run, error) {
	return c.store.ListActive(ctx, limit)
}

// CancelRun запрашивает отмену run.
//
// Отмена кооперативная: запрос записывается в run, и на ближайшей
// границе шага run переходит в FAILED(cancelled). Уже начатые операции
// над устройствами доработают, новая стадия не начнётся.
// Если стадию сейчас отправляет другой контроллер, CancelRun только
// записывает запрос: владелец сначала запишет outcome стадии, затем
// завершит run. Откат (ROLLING_BACK) отменить нельзя.
func (c *Controller) CancelRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	for attempt := 0; ; attempt++ {
		run, err := c.load(ctx, runID)
		if err != nil {
			return nil, err
		}

		switch {
		case run.IsFinished():
			return run, fmt.Errorf("%w: %s", ErrRunFinished, run.Status)
		case run.Status == domain.RunStatusRollingBack:
			return run, fmt.Errorf("%w: %s", ErrRunNotCancellable, run.Status)
		case run.CancelRequested:
			return c.advanceAfterCancel(ctx, run)
		}

		next := run.Clone()
		next.CancelRequested = true
		err = c.store.Save(ctx, next, run.Version)
		if err == nil {
			c.logger.Info("run cancel requested", "run_id", run.ID, "status", run.Status)
			return c.advanceAfterCancel(ctx, next)
		}
		if !errors.Is(err, repo.ErrVersionConflict) || attempt >= c.persistRetries {
			return run, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
}

// advanceAfterCancel доводит отменённый run до FAILED, если им
// сейчас не занят другой вызов Advance в этом процессе.
func (c *Controller) advanceAfterCancel(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	advanced, err := c.Advance(ctx, run.ID)
	if errors.Is(err, ErrRunAlreadyActive) {
		return run, nil
	}
	return advanced, err
}

// step выполняет один переход run.
//
// Возвращает актуальный run и признак того, что переход сделан.
// progressed=false — точка ожидания или run продвинул кто-то другой.
func (c *Controller) step(ctx context.Context, run *domain.Run) (*domain.Run, bool, error) {
	now := c.now()

	if run.CancelRequested && run.Status != domain.RunStatusRollingBack {
		if run.DispatchHeldByOther(c.id, now) {
			c.logger.Info("cancel deferred until stage dispatch is recorded",
				"run_id", run.ID,
				"stage", run.CurrentStage,
				"owner", run.Dispatch.Owner,
			)
			return run, false, nil
		}
		return c.transition(ctx, run, nil, func(r *domain.Run) {
			r.MarkFailed(domain.ReasonCancelled, now)
		})
	}

	switch run.Status {
	case domain.RunStatusPending:
		if len(run.Stages) == 0 {
			return c.transition(ctx, run, nil, func(r *domain.Run) {
				r.MarkCompleted(now)
			})
		}
		return c.transition(ctx, run, nil, func(r *domain.Run) {
			r.MarkRunning(0, now)
		})

	case domain.RunStatusRunning:
		return c.runStage(ctx, run, now)

	case domain.RunStatusHealthCheck:
		return c.checkHealth(ctx, run, now)

	case domain.RunStatusRollingBack:
		return c.rollbackStage(ctx, run)

	default:
		return run, false, nil
	}
}

// runStage отправляет патчи на устройства текущей стадии.
func (c *Controller) runStage(ctx context.Context, run *domain.Run, now time.Time) (*domain.Run, bool, error) {
	stage := run.Stage()
	if stage == nil {
		return c.transition(ctx, run, nil, func(r *domain.Run) {
			r.MarkFailed(fmt.Sprintf("stage %d out of range", run.CurrentStage), now)
		})
	}

	if open, next := c.windowOpen(run, now); !open {
		c.logger.Debug("maintenance window closed, waiting",
			"run_id", run.ID,
			"stage", stage.ID,
			"next_open", next,
		)
		return run, false, nil
	}

	if run.DispatchHeldByOther(c.id, now) {
		c.logger.Debug("stage is being dispatched by another controller",
			"run_id", run.ID,
			"stage", stage.ID,
			"owner", run.Dispatch.Owner,
			"expires_at", run.Dispatch.ExpiresAt,
		)
		return run, false, nil
	}

	claimed, ok, err := c.claimDispatch(ctx, run, now)
	if err != nil {
		return claimed, false, err
	}
	if !ok {
		// Свежее состояние разбирает следующий шаг Advance
		return claimed, !claimed.IsFinished(), nil
	}

	outcome := c.executor.Execute(ctx, *stage, run.Policy.PatchIDs)

	return c.transition(ctx, claimed, &outcome, func(r *domain.Run) {
		r.AppendOutcome(outcome.Clone())
		r.MarkHealthCheck(c.now())
	})
}

// claimDispatch записывает заявку на отправку текущей стадии.
//
// ok=false без ошибки — run изменился до записи заявки; возвращается
// свежее состояние без заявки.
func (c *Controller) claimDispatch(ctx context.Context, run *domain.Run, now time.Time) (*domain.Run, bool, error) {
	for attempt := 0; ; attempt++ {
		next := run.Clone()
		next.Dispatch = &domain.DispatchClaim{
			Owner:     c.id,
			StartedAt: now,
			ExpiresAt: now.Add(c.dispatchLease),
		}

		err := c.store.Save(ctx, next, run.Version)
		if err == nil {
			c.logger.Debug("stage dispatch claimed", "run_id", run.ID, "stage", run.CurrentStage, "owner", c.id)
			return next, true, nil
		}
		if ctx.Err() != nil {
			return run, false, ctx.Err()
		}

		if errors.Is(err, repo.ErrVersionConflict) {
			fresh, lerr := c.store.Load(ctx, run.ID)
			if lerr == nil {
				return fresh, false, nil
			}
			err = errors.Join(err, lerr)
		}

		if attempt >= c.persistRetries {
			return c.persistFailed(ctx, run, err)
		}
		if werr := sleep(ctx, rollout.Backoff(attempt+1, c.collaboratorBackoff, 30*time.Second)); werr != nil {
			return run, false, werr
		}
	}
}

// checkHealth опрашивает HealthGate и решает судьбу стадии.
//
// Неудачный опрос повторяется с backoff, пока не исчерпаны попытки;
// после этого стадия откатывается (timed_out).
func (c *Controller) checkHealth(ctx context.Context, run *domain.Run, now time.Time) (*domain.Run, bool, error) {
	stage := run.Stage()
	if stage == nil {
		return c.transition(ctx, run, nil, func(r *domain.Run) {
			r.MarkFailed(fmt.Sprintf("stage %d out of range", run.CurrentStage), now)
		})
	}

	if run.Health != nil && now.Before(run.Health.NextProbeAt) {
		return run, false, nil
	}

	percent, verdict := c.gate.Evaluate(ctx, *stage, run.Policy.HealthThresholdPercent)

	attempts := 1
	if run.Health != nil {
		attempts = run.Health.Attempts + 1
	}

	switch {
	case verdict == domain.VerdictProceed:
		decided := c.decidedOutcome(run, stage.ID, percent, verdict)
		return c.transition(ctx, run, decided, func(r *domain.Run) {
			c.recordProbe(r, attempts, percent, domain.HealthStateConfirmed, now)
			r.Outcomes[c.executeIndex(r, stage.ID)].Decide(percent, verdict)
			if r.IsLastStage() {
				r.MarkCompleted(now)
			} else {
				r.MarkRunning(r.CurrentStage+1, now)
			}
		})

	case attempts < c.healthMaxAttempts:
		delay := rollout.Backoff(attempts, run.Policy.HealthCheckInterval, c.healthMaxBackoff)
		c.logger.Info("stage unhealthy, will re-probe",
			"run_id", run.ID,
			"stage", stage.ID,
			"health_percent", percent,
			"attempt", attempts,
			"next_probe_in", delay,
		)
		return c.transition(ctx, run, nil, func(r *domain.Run) {
			c.recordProbe(r, attempts, percent, domain.HealthStateAwaiting, now)
			r.Health.NextProbeAt = now.Add(delay)
		})

	default:
		decided := c.decidedOutcome(run, stage.ID, percent, domain.VerdictRollback)
		return c.transition(ctx, run, decided, func(r *domain.Run) {
			c.recordProbe(r, attempts, percent, domain.HealthStateTimedOut, now)
			r.Outcomes[c.executeIndex(r, stage.ID)].Decide(percent, domain.VerdictRollback)
			r.MarkRollingBack()
		})
	}
}

// rollbackStage откатывает текущую стадию.
func (c *Controller) rollbackStage(ctx context.Context, run *domain.Run) (*domain.Run, bool, error) {
	stage := run.Stage()
	if stage == nil {
		now := c.now()
		return c.transition(ctx, run, nil, func(r *domain.Run) {
			r.MarkFailed(fmt.Sprintf("stage %d out of range", run.CurrentStage), now)
		})
	}

	outcome := c.rollback.Rollback(ctx, *stage, run.Policy.PatchIDs)

	return c.transition(ctx, run, &outcome, func(r *domain.Run) {
		r.AppendOutcome(outcome.Clone())
		r.MarkRolledBack(c.now())
	})
}

// recordProbe записывает результат опроса здоровья в run.
func (c *Controller) recordProbe(r *domain.Run, attempts int, percent float64, state domain.HealthState, now time.Time) {
	p := percent
	if r.Health == nil {
		r.Health = &domain.HealthCheck{NextProbeAt: now}
	}
	r.Health.State = state
	r.Health.Attempts = attempts
	r.Health.LastPercent = &p
}

// executeIndex возвращает индекс outcome выполнения стадии в журнале.
//
// Такой outcome всегда есть: HEALTH_CHECK(i) записывается вместе с ним.
func (c *Controller) executeIndex(r *domain.Run, stageID int) int {
	for i := len(r.Outcomes) - 1; i >= 0; i-- {
		if r.Outcomes[i].StageID == stageID && r.Outcomes[i].Kind == domain.OutcomeKindExecute {
			return i
		}
	}

	// Журнал без outcome выполнения (запись из старой версии) — добавляем пустой
	r.AppendOutcome(domain.StageOutcome{
		StageID:    stageID,
		Kind:       domain.OutcomeKindExecute,
		Verdict:    domain.VerdictUnknown,
		RecordedAt: c.now(),
	})
	return len(r.Outcomes) - 1
}

// decidedOutcome — копия outcome стадии с вердиктом, для сообщения в тикет.
func (c *Controller) decidedOutcome(run *domain.Run, stageID int, percent float64, verdict domain.Verdict) *domain.StageOutcome {
	o := run.LastOutcome(stageID, domain.OutcomeKindExecute)
	if o == nil {
		return nil
	}
	decided := o.Clone()
	decided.Decide(percent, verdict)
	return &decided
}

// windowOpen проверяет окно обслуживания run.
func (c *Controller) windowOpen(run *domain.Run, now time.Time) (bool, time.Time) {
	if run.Policy.MaintenanceWindow == nil {
		return true, now
	}

	w, err := window.Parse(run.Policy.MaintenanceWindow)
	if err != nil {
		// План валидируется при старте; сломанное окно не должно блокировать run навсегда
		c.logger.Warn("invalid maintenance window, ignoring", "run_id", run.ID, "error", err)
		return true, now
	}
	return w.IsOpen(now), w.NextOpen(now)
}

// --- Persistence ---

// transition применяет mutate к копии run и записывает её с проверкой версии.
//
// При конфликте версий run перечитывается: если он всё ещё в той же точке
// (статус, стадия, попытки, длина журнала), mutate применяется к свежему
// состоянию. Иначе run продвинул кто-то другой, и transition возвращает
// свежее состояние с progressed=false.
func (c *Controller) transition(ctx context.Context, run *domain.Run, outcome *domain.StageOutcome, mutate func(*domain.Run)) (*domain.Run, bool, error) {
	from := run.Status
	current := run

	for attempt := 0; ; attempt++ {
		next := current.Clone()
		mutate(next)

		err := c.store.Save(ctx, next, current.Version)
		if err != nil && ctx.Err() != nil {
			// Остановка сервиса: run продолжит следующий вызов Advance
			return current, false, ctx.Err()
		}
		if err == nil {
			c.logTransition(from, next)
			if next.IsFinished() {
				c.finalize(ctx, next, outcome)
			} else if outcome != nil || next.Status != from {
				c.notify(ctx, next, outcome)
			}
			return next, true, nil
		}

		if errors.Is(err, repo.ErrVersionConflict) {
			fresh, lerr := c.store.Load(ctx, run.ID)
			if lerr == nil {
				if fresh.IsFinished() || position(fresh) != position(run) {
					c.logger.Info("run advanced concurrently",
						"run_id", run.ID,
						"status", fresh.Status,
						"stage", fresh.CurrentStage,
					)
					return fresh, false, nil
				}
				current = fresh
				if attempt < c.persistRetries {
					continue
				}
			}
			err = errors.Join(err, lerr)
		}

		if attempt >= c.persistRetries {
			return c.persistFailed(ctx, current, err)
		}

		c.logger.Warn("failed to persist transition, retrying",
			"run_id", run.ID,
			"attempt", attempt+1,
			"error", err,
		)
		if werr := sleep(ctx, rollout.Backoff(attempt+1, c.collaboratorBackoff, 30*time.Second)); werr != nil {
			return current, false, werr
		}
	}
}

// persistFailed пытается перевести run в FAILED после исчерпания повторов записи.
func (c *Controller) persistFailed(ctx context.Context, run *domain.Run, cause error) (*domain.Run, bool, error) {
	c.logger.Error("failed to persist transition", "run_id", run.ID, "error", cause)

	failed := run.Clone()
	failed.MarkFailed(fmt.Sprintf("%s: %v", domain.ReasonPersistence, cause), c.now())

	if err := c.store.Save(context.WithoutCancel(ctx), failed, run.Version); err != nil {
		return run, false, fmt.Errorf("%w: %v", ErrPersistence, errors.Join(cause, err))
	}

	c.logTransition(run.Status, failed)
	c.finalize(ctx, failed, nil)
	return failed, false, fmt.Errorf("%w: %v", ErrPersistence, cause)
}

// position — точка машины состояний, в которой находится run.
type runPosition struct {
	status   domain.RunStatus
	stage    int
	attempts int
	outcomes int
}

func position(r *domain.Run) runPosition {
	p := runPosition{status: r.Status, stage: r.CurrentStage, outcomes: len(r.Outcomes)}
	if r.Health != nil {
		p.attempts = r.Health.Attempts
	}
	return p
}

func (c *Controller) create(ctx context.Context, run *domain.Run) error {
	var err error
	for attempt := 0; attempt <= c.persistRetries; attempt++ {
		if err = c.store.Create(ctx, run); err == nil || errors.Is(err, repo.ErrAlreadyExists) {
			break
		}
		if werr := sleep(ctx, rollout.Backoff(attempt+1, c.collaboratorBackoff, 30*time.Second)); werr != nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("%w: create run: %v", ErrPersistence, err)
	}
	telemetry.ObserveTransition("NEW", string(run.Status))
	return nil
}

// createUnavailable создаёт run сразу в FAILED с причиной недоступности коллаборатора.
func (c *Controller) createUnavailable(ctx context.Context, run *domain.Run, collaborator string, cause error) (*domain.Run, error) {
	now := c.now()
	run.MarkFailed(fmt.Sprintf("%s: %s: %v", domain.ReasonCollaboratorUnavailable, collaborator, cause), now)

	if err := c.create(ctx, run); err != nil {
		return nil, errors.Join(fmt.Errorf("%w: %s: %v", ErrCollaboratorUnavailable, collaborator, cause), err)
	}

	c.logger.Error("run failed: collaborator unavailable",
		"run_id", run.ID,
		"plan_id", run.PlanID,
		"collaborator", collaborator,
		"error", cause,
	)
	c.finalize(ctx, run, nil)

	return run, fmt.Errorf("%w: %s: %v", ErrCollaboratorUnavailable, collaborator, cause)
}

func (c *Controller) newRun(planID uuid.UUID, clientID string, plan *domain.Plan) *domain.Run {
	run := &domain.Run{
		ID:        uuid.New(),
		PlanID:    planID,
		ClientID:  clientID,
		Status:    domain.RunStatusPending,
		CreatedAt: c.now(),
	}
	if plan != nil {
		run.Policy = domain.PolicyFromPlan(plan)
	}
	return run
}

func (c *Controller) load(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	run, err := c.store.Load(ctx, runID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	return run, nil
}

// withRetry вызывает fn с повторами и экспоненциальной паузой.
// repo.ErrNotFound не повторяется.
func (c *Controller) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= c.collaboratorRetries; attempt++ {
		if err = fn(ctx); err == nil || errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if attempt == c.collaboratorRetries {
			break
		}

		delay := rollout.Backoff(attempt+1, c.collaboratorBackoff, 30*time.Second)
		c.logger.Warn("collaborator call failed, retrying",
			"op", op,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		if werr := sleep(ctx, delay); werr != nil {
			return err
		}
	}
	return err
}

// --- Side effects ---

func (c *Controller) logTransition(from domain.RunStatus, run *domain.Run) {
	telemetry.ObserveTransition(string(from), string(run.Status))
	c.logger.Info("run transition",
		"run_id", run.ID,
		"stage", run.CurrentStage,
		"from", from,
		"to", run.Status,
		"version", run.Version,
	)
}

// finalize выполняет побочные эффекты финального статуса: метрики,
// архив отчёта и сообщение в тикет. Ошибки не влияют на run.
func (c *Controller) finalize(ctx context.Context, run *domain.Run, outcome *domain.StageOutcome) {
	telemetry.RunsFinished.WithLabelValues(string(run.Status)).Inc()

	c.logger.Info("run finished",
		"run_id", run.ID,
		"status", run.Status,
		"reason", run.Reason,
		"outcomes", len(run.Outcomes),
		"duration", run.Duration(),
	)

	if c.archiver != nil {
		if err := c.archiver.Archive(ctx, run); err != nil {
			c.logger.Warn("failed to archive run report", "run_id", run.ID, "error", err)
		}
	}

	c.notify(ctx, run, outcome)
}

// notify отправляет сообщение в тикет. Ошибка только логируется.
func (c *Controller) notify(ctx context.Context, run *domain.Run, outcome *domain.StageOutcome) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, run.ID, statusMessage(run, outcome, c.now())); err != nil {
		c.logger.Warn("failed to notify ticket", "run_id", run.ID, "error", err)
	}
}

// --- Active runs ---

func (c *Controller) acquire(runID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.activeRuns[runID]; exists {
		return false
	}
	c.activeRuns[runID] = struct{}{}
	return true
}

func (c *Controller) release(runID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.activeRuns, runID)
}

// IsActive проверяет, продвигается ли run в этом процессе.
func (c *Controller) IsActive(runID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exists := c.activeRuns[runID]
	return exists
}

// ActiveRunsCount возвращает количество runs в обработке.
func (c *Controller) ActiveRunsCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.activeRuns)
}

// sleep ждёт d с учётом ctx.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
