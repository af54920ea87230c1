package db

import (
	"context"
	"fmt"

	"hawker-score/internal/models"
)

// GetSystemStats returns the admin dashboard counters
func (db *DB) GetSystemStats(ctx context.Context) (*models.SystemStats, error) {
	stats := &models.SystemStats{}

	counts := []struct {
		table string
		dest  *int
	}{
		{"subzones", &stats.Subzones},
		{"populations", &stats.Populations},
		{"scores", &stats.Scores},
		{"users", &stats.Users},
		{"dataset_snapshots", &stats.Snapshots},
		{"kernel_configs", &stats.KernelConfigs},
	}
	for _, c := range counts {
		if err := db.GetContext(ctx, c.dest, "SELECT COUNT(*) FROM "+c.table); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	latest, err := db.LatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	stats.LatestSnapshot = latest

	return stats, nil
}
