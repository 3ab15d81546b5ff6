package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thechetan9/SO-PatchPilot/internal/domain"
)

// RunRepo — репозиторий runs в Postgres.
//
// Все изменения run идут через Save с проверкой version (compare-and-set).
// Stages, outcomes, policy и health хранятся в JSONB; проценты внутри
// них — в базисных пунктах.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const runColumns = `
	id, plan_id, client_id, status, current_stage, policy, stages, outcomes,
	health, cancel_requested, reason, started_at, ended_at, version, created_at,
	dispatch`

// Create сохраняет новый run с version = 1.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	rec, err := encodeRun(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.PlanID,
		run.ClientID,
		run.Status,
		run.CurrentStage,
		rec.policy,
		rec.stages,
		rec.outcomes,
		rec.health,
		run.CancelRequested,
		nullString(run.Reason),
		run.StartedAt,
		run.EndedAt,
		run.CreatedAt,
		rec.dispatch,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert run: %w", err)
	}

	run.Version = 1
	return nil
}

// Load возвращает run по ID.
func (r *RunRepo) Load(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// Save сохраняет run, если версия в БД равна expectedVersion.
//
// При успехе run.Version = expectedVersion + 1. Если запись изменил
// кто-то другой, возвращает ErrVersionConflict и run не трогает.
func (r *RunRepo) Save(ctx context.Context, run *domain.Run, expectedVersion int64) error {
	rec, err := encodeRun(run)
	if err != nil {
		return err
	}

	query := `
		UPDATE runs
		SET status = $3, current_stage = $4, policy = $5, stages = $6, outcomes = $7,
		    health = $8, cancel_requested = $9, reason = $10, started_at = $11,
		    ended_at = $12, dispatch = $13, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`
	var newVersion int64
	err = r.pool.QueryRow(ctx, query,
		run.ID,
		expectedVersion,
		run.Status,
		run.CurrentStage,
		rec.policy,
		rec.stages,
		rec.outcomes,
		rec.health,
		run.CancelRequested,
		nullString(run.Reason),
		run.StartedAt,
		run.EndedAt,
		rec.dispatch,
	).Scan(&newVersion)

	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, run.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check run: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	run.Version = newVersion
	return nil
}

// ListActive возвращает нефинальные runs, самые старые первыми.
func (r *RunRepo) ListActive(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status IN ('PENDING', 'RUNNING', 'HEALTH_CHECK', 'ROLLING_BACK')
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}
	return scanRuns(rows)
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	ClientID string
	Status   domain.RunStatus
	Limit    int
	Offset   int
}

// List возвращает runs с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::text IS NULL OR client_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.ClientID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return scanRuns(rows)
}

// --- Кодирование ---

// storedPolicy — RunPolicy в БД (порог в базисных пунктах).
type storedPolicy struct {
	PatchIDs            []string                  `json:"patch_ids,omitempty"`
	HealthThresholdBP   int64                     `json:"health_threshold_bp"`
	HealthCheckInterval time.Duration             `json:"health_check_interval_ns"`
	MaintenanceWindow   *domain.MaintenanceWindow `json:"maintenance_window,omitempty"`
}

type storedOutcome struct {
	StageID         int                            `json:"stage_id"`
	Kind            domain.OutcomeKind             `json:"kind"`
	Attempted       int                            `json:"attempted"`
	Succeeded       int                            `json:"succeeded"`
	Failed          int                            `json:"failed"`
	HealthPercentBP *int64                         `json:"health_percent_bp,omitempty"`
	Verdict         domain.Verdict                 `json:"verdict"`
	DeviceResults   map[string]domain.DeviceResult `json:"device_results"`
	RecordedAt      time.Time                      `json:"recorded_at"`
}

type storedHealth struct {
	State         domain.HealthState `json:"state"`
	Attempts      int                `json:"attempts"`
	NextProbeAt   time.Time          `json:"next_probe_at"`
	LastPercentBP *int64             `json:"last_percent_bp,omitempty"`
}

type runRecord struct {
	policy   []byte
	stages   []byte
	outcomes []byte
	health   []byte
	dispatch []byte
}

func encodeRun(run *domain.Run) (runRecord, error) {
	var rec runRecord
	var err error

	policy := storedPolicy{
		PatchIDs:            run.Policy.PatchIDs,
		HealthThresholdBP:   toBasisPoints(run.Policy.HealthThresholdPercent),
		HealthCheckInterval: run.Policy.HealthCheckInterval,
		MaintenanceWindow:   run.Policy.MaintenanceWindow,
	}
	if rec.policy, err = json.Marshal(policy); err != nil {
		return rec, fmt.Errorf("marshal policy: %w", err)
	}

	stages := run.Stages
	if stages == nil {
		stages = []domain.Stage{}
	}
	if rec.stages, err = json.Marshal(stages); err != nil {
		return rec, fmt.Errorf("marshal stages: %w", err)
	}

	outcomes := make([]storedOutcome, len(run.Outcomes))
	for i, o := range run.Outcomes {
		outcomes[i] = storedOutcome{
			StageID:         o.StageID,
			Kind:            o.Kind,
			Attempted:       o.Attempted,
			Succeeded:       o.Succeeded,
			Failed:          o.Failed,
			HealthPercentBP: toBasisPointsPtr(o.HealthPercent),
			Verdict:         o.Verdict,
			DeviceResults:   o.DeviceResults,
			RecordedAt:      o.RecordedAt,
		}
	}
	if rec.outcomes, err = json.Marshal(outcomes); err != nil {
		return rec, fmt.Errorf("marshal outcomes: %w", err)
	}

	if run.Health != nil {
		health := storedHealth{
			State:         run.Health.State,
			Attempts:      run.Health.Attempts,
			NextProbeAt:   run.Health.NextProbeAt,
			LastPercentBP: toBasisPointsPtr(run.Health.LastPercent),
		}
		if rec.health, err = json.Marshal(health); err != nil {
			return rec, fmt.Errorf("marshal health: %w", err)
		}
	}

	if run.Dispatch != nil {
		if rec.dispatch, err = json.Marshal(run.Dispatch); err != nil {
			return rec, fmt.Errorf("marshal dispatch: %w", err)
		}
	}

	return rec, nil
}

func decodeRun(run *domain.Run, rec runRecord) error {
	var policy storedPolicy
	if err := json.Unmarshal(rec.policy, &policy); err != nil {
		return fmt.Errorf("unmarshal policy: %w", err)
	}
	run.Policy = domain.RunPolicy{
		PatchIDs:               policy.PatchIDs,
		HealthThresholdPercent: fromBasisPoints(policy.HealthThresholdBP),
		HealthCheckInterval:    policy.HealthCheckInterval,
		MaintenanceWindow:      policy.MaintenanceWindow,
	}

	if err := json.Unmarshal(rec.stages, &run.Stages); err != nil {
		return fmt.Errorf("unmarshal stages: %w", err)
	}

	var outcomes []storedOutcome
	if err := json.Unmarshal(rec.outcomes, &outcomes); err != nil {
		return fmt.Errorf("unmarshal outcomes: %w", err)
	}
	run.Outcomes = make([]domain.StageOutcome, len(outcomes))
	for i, o := range outcomes {
		run.Outcomes[i] = domain.StageOutcome{
			StageID:       o.StageID,
			Kind:          o.Kind,
			Attempted:     o.Attempted,
			Succeeded:     o.Succeeded,
			Failed:        o.Failed,
			HealthPercent: fromBasisPointsPtr(o.HealthPercentBP),
			Verdict:       o.Verdict,
			DeviceResults: o.DeviceResults,
			RecordedAt:    o.RecordedAt,
		}
	}

	if rec.health != nil {
		var health storedHealth
		if err := json.Unmarshal(rec.health, &health); err != nil {
			return fmt.Errorf("unmarshal health: %w", err)
		}
		run.Health = &domain.HealthCheck{
			State:       health.State,
			Attempts:    health.Attempts,
			NextProbeAt: health.NextProbeAt,
			LastPercent: fromBasisPointsPtr(health.LastPercentBP),
		}
	}

	if rec.dispatch != nil {
		run.Dispatch = &domain.DispatchClaim{}
		if err := json.Unmarshal(rec.dispatch, run.Dispatch); err != nil {
			return fmt.Errorf("unmarshal dispatch: %w", err)
		}
	}

	return nil
}

// scanRun сканирует одну строку в Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var rec runRecord
	var reason *string

	err := row.Scan(
		&run.ID,
		&run.PlanID,
		&run.ClientID,
		&run.Status,
		&run.CurrentStage,
		&rec.policy,
		&rec.stages,
		&rec.outcomes,
		&rec.health,
		&run.CancelRequested,
		&reason,
		&run.StartedAt,
		&run.EndedAt,
		&run.Version,
		&run.CreatedAt,
		&rec.dispatch,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if reason != nil {
		run.Reason = *reason
	}
	if err := decodeRun(&run, rec); err != nil {
		return nil, err
	}
	return &run, nil
}

func scanRuns(rows pgx.Rows) ([]domain.Run, error) {
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}
