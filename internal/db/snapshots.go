package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"hawker-score/internal/models"
)

// InsertSnapshot appends a dataset snapshot. Snapshots are never updated, so
// the record must be complete (finished, with status) when inserted.
func (db *DB) InsertSnapshot(ctx context.Context, s *models.DatasetSnapshot) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Metadata == "" {
		s.Metadata = "{}"
	}
	if s.Status != models.SnapshotSuccess && s.Status != models.SnapshotFailure {
		return fmt.Errorf("invalid snapshot status %q", s.Status)
	}

	query := `
		INSERT INTO dataset_snapshots
			(id, kind, status, started_at, finished_at, duration_ms, records, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, db.Rebind(query),
		s.ID, string(s.Kind), string(s.Status), s.StartedAt, s.FinishedAt,
		s.DurationMs, s.Records, s.Error, s.Metadata)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	s.Meta = models.RawJSON(s.Metadata)
	return nil
}

const snapshotColumns = `id, kind, status, started_at, finished_at, duration_ms, records, error, metadata`

// ListSnapshots returns snapshots newest first
func (db *DB) ListSnapshots(ctx context.Context, limit, offset int) ([]models.DatasetSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	query := fmt.Sprintf(`SELECT %s FROM dataset_snapshots ORDER BY started_at DESC, id DESC LIMIT %d`, snapshotColumns, limit)
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", offset)
	}

	snaps := make([]models.DatasetSnapshot, 0)
	if err := db.SelectContext(ctx, &snaps, query); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	for i := range snaps {
		snaps[i].Meta = models.RawJSON(snaps[i].Metadata)
	}
	return snaps, nil
}

// GetSnapshot returns one snapshot by id
func (db *DB) GetSnapshot(ctx context.Context, id string) (*models.DatasetSnapshot, error) {
	var s models.DatasetSnapshot
	query := fmt.Sprintf(`SELECT %s FROM dataset_snapshots WHERE id = ?`, snapshotColumns)
	if err := db.GetContext(ctx, &s, db.Rebind(query), id); err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", notFound(err, "snapshot %q not found", id))
	}
	s.Meta = models.RawJSON(s.Metadata)
	return &s, nil
}

// LatestSnapshot returns the most recent snapshot, or nil when none exist
func (db *DB) LatestSnapshot(ctx context.Context) (*models.DatasetSnapshot, error) {
	snaps, err := db.ListSnapshots(ctx, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}
