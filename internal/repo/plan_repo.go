package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thechetan9/SO-PatchPilot/internal/domain"
)

// PlanRepo — хранилище одобренных планов (Plan Source).
//
// Планы только создаются и читаются: ядро никогда их не изменяет.
type PlanRepo struct {
	pool *pgxpool.Pool
}

// NewPlanRepo создаёт новый PlanRepo.
func NewPlanRepo(pool *pgxpool.Pool) *PlanRepo {
	return &PlanRepo{pool: pool}
}

const planColumns = `
	id, client_id, canary_size, batch_sizes, health_threshold_bp,
	health_check_interval_sec, patch_ids, maintenance_window,
	estimated_duration_hours, notes, created_at`

// Create сохраняет новый план.
func (r *PlanRepo) Create(ctx context.Context, plan *domain.Plan) error {
	batchJSON, err := json.Marshal(plan.BatchSizes)
	if err != nil {
		return fmt.Errorf("marshal batch_sizes: %w", err)
	}

	var windowJSON []byte
	if plan.MaintenanceWindow != nil {
		if windowJSON, err = json.Marshal(plan.MaintenanceWindow); err != nil {
			return fmt.Errorf("marshal maintenance_window: %w", err)
		}
	}

	patchIDs := plan.PatchIDs
	if patchIDs == nil {
		patchIDs = []string{}
	}

	query := `
		INSERT INTO plans (` + planColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.pool.Exec(ctx, query,
		plan.ID,
		plan.ClientID,
		plan.CanarySize,
		batchJSON,
		toBasisPoints(plan.HealthThresholdPercent),
		plan.HealthCheckIntervalSec,
		patchIDs,
		windowJSON,
		toBasisPoints(plan.EstimatedDurationHours),
		nullString(plan.Notes),
		plan.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// GetPlan возвращает план по ID.
func (r *PlanRepo) GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`
	return scanPlan(r.pool.QueryRow(ctx, query, id))
}

// List возвращает планы клиента (все, если clientID пустой), новые первыми.
func (r *PlanRepo) List(ctx context.Context, clientID string, limit, offset int) ([]domain.Plan, error) {
	query := `
		SELECT ` + planColumns + `
		FROM plans
		WHERE ($1::text IS NULL OR client_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, nullString(clientID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

func scanPlan(row pgx.Row) (*domain.Plan, error) {
	var plan domain.Plan
	var batchJSON, windowJSON []byte
	var thresholdBP, durationBP int64
	var notes *string

	err := row.Scan(
		&plan.ID,
		&plan.ClientID,
		&plan.CanarySize,
		&batchJSON,
		&thresholdBP,
		&plan.HealthCheckIntervalSec,
		&plan.PatchIDs,
		&windowJSON,
		&durationBP,
		&notes,
		&plan.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan: %w", err)
	}

	if err := json.Unmarshal(batchJSON, &plan.BatchSizes); err != nil {
		return nil, fmt.Errorf("unmarshal batch_sizes: %w", err)
	}
	if windowJSON != nil {
		plan.MaintenanceWindow = &domain.MaintenanceWindow{}
		if err := json.Unmarshal(windowJSON, plan.MaintenanceWindow); err != nil {
			return nil, fmt.Errorf("unmarshal maintenance_window: %w", err)
		}
	}

	plan.HealthThresholdPercent = fromBasisPoints(thresholdBP)
	plan.EstimatedDurationHours = fromBasisPoints(durationBP)
	if notes != nil {
		plan.Notes = *notes
	}
	return &plan, nil
}
