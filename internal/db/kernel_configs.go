package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hawker-score/internal/apperr"
	"hawker-score/internal/models"
)

const kernelColumns = `id, name, kernel, bandwidth_m, weight_field, active, created_at, updated_at`

// ListKernelConfigs returns all kernel configs ordered by name
func (db *DB) ListKernelConfigs(ctx context.Context) ([]models.KernelConfig, error) {
	cfgs := make([]models.KernelConfig, 0)
	query := `SELECT ` + kernelColumns + ` FROM kernel_configs ORDER BY name`
	if err := db.SelectContext(ctx, &cfgs, query); err != nil {
		return nil, fmt.Errorf("failed to list kernel configs: %w", err)
	}
	return cfgs, nil
}

// GetKernelConfig returns one kernel config by id
func (db *DB) GetKernelConfig(ctx context.Context, id string) (*models.KernelConfig, error) {
	var k models.KernelConfig
	query := `SELECT ` + kernelColumns + ` FROM kernel_configs WHERE id = ?`
	if err := db.GetContext(ctx, &k, db.Rebind(query), id); err != nil {
		return nil, fmt.Errorf("failed to get kernel config: %w", notFound(err, "kernel config %q not found", id))
	}
	return &k, nil
}

// ActiveKernelConfig returns the active config, or nil when none is active
func (db *DB) ActiveKernelConfig(ctx context.Context) (*models.KernelConfig, error) {
	cfgs := make([]models.KernelConfig, 0, 1)
	query := `SELECT ` + kernelColumns + ` FROM kernel_configs WHERE active = ? LIMIT 1`
	if err := db.SelectContext(ctx, &cfgs, db.Rebind(query), true); err != nil {
		return nil, fmt.Errorf("failed to get active kernel config: %w", err)
	}
	if len(cfgs) == 0 {
		return nil, nil
	}
	return &cfgs[0], nil
}

// CreateKernelConfig inserts a new, inactive kernel config
func (db *DB) CreateKernelConfig(ctx context.Context, k *models.KernelConfig) error {
	if err := k.Validate(); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	var taken int
	if err := db.GetContext(ctx, &taken, db.Rebind(`SELECT COUNT(*) FROM kernel_configs WHERE name = ?`), k.Name); err != nil {
		return fmt.Errorf("failed to check kernel config name: %w", err)
	}
	if taken > 0 {
		return apperr.Validation("kernel config %q already exists", k.Name)
	}

	now := time.Now().UTC()
	k.ID = uuid.NewString()
	k.Active = false
	k.CreatedAt = now
	k.UpdatedAt = now

	query := `INSERT INTO kernel_configs (` + kernelColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, db.Rebind(query),
		k.ID, k.Name, string(k.Kernel), k.BandwidthM, string(k.WeightField), k.Active, k.CreatedAt, k.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create kernel config: %w", err)
	}
	return nil
}

// UpdateKernelConfig replaces the editable fields of a kernel config
func (db *DB) UpdateKernelConfig(ctx context.Context, k *models.KernelConfig) error {
	if err := k.Validate(); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	k.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE kernel_configs
		SET name = ?, kernel = ?, bandwidth_m = ?, weight_field = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := db.ExecContext(ctx, db.Rebind(query),
		k.Name, string(k.Kernel), k.BandwidthM, string(k.WeightField), k.UpdatedAt, k.ID)
	if err != nil {
		return fmt.Errorf("failed to update kernel config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("kernel config %q not found", k.ID)
	}
	return nil
}

// ActivateKernelConfig makes id the only active kernel config
func (db *DB) ActivateKernelConfig(ctx context.Context, id string) (*models.KernelConfig, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE kernel_configs SET active = ?, updated_at = ? WHERE id = ?`), true, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to activate kernel config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.NotFound("kernel config %q not found", id)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE kernel_configs SET active = ? WHERE id <> ? AND active = ?`), false, id, true); err != nil {
		return nil, fmt.Errorf("failed to deactivate kernel configs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit activation: %w", err)
	}

	return db.GetKernelConfig(ctx, id)
}
