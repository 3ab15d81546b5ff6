package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thechetan9/SO-PatchPilot/internal/domain"
)

// DeviceRepo — Device Directory поверх таблицы devices.
type DeviceRepo struct {
	pool *pgxpool.Pool
}

// NewDeviceRepo создаёт новый DeviceRepo.
func NewDeviceRepo(pool *pgxpool.Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

// ResolveDevices возвращает device id клиента в стабильном порядке:
// сначала наименее критичные, затем по id.
func (r *DeviceRepo) ResolveDevices(ctx context.Context, clientID string) ([]string, error) {
	query := `
		SELECT id
		FROM devices
		WHERE client_id = $1
		ORDER BY criticality ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("resolve devices: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Upsert создаёт или обновляет устройство.
func (r *DeviceRepo) Upsert(ctx context.Context, d *domain.Device) error {
	query := `
		INSERT INTO devices (id, client_id, hostname, criticality)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET client_id = EXCLUDED.client_id,
		    hostname = EXCLUDED.hostname,
		    criticality = EXCLUDED.criticality
	`
	_, err := r.pool.Exec(ctx, query, d.ID, d.ClientID, nullString(d.Hostname), d.Criticality)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}
