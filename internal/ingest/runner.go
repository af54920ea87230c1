package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hawker-score/internal/apperr"
	"hawker-score/internal/db"
	"hawker-score/internal/metrics"
	"hawker-score/internal/models"
)

// Config holds the source dataset locations
type Config struct {
	SubzonesURL   string
	PopulationURL string
	ScoresURL     string
	// DefaultYear applies to population sources without a year column
	DefaultYear int
}

// DefaultConfig returns settings with no sources configured
func DefaultConfig() Config {
	return Config{
		DefaultYear: time.Now().Year(),
	}
}

// sourceURL returns the configured URL for a single dataset kind
func (c Config) sourceURL(kind models.DatasetKind) string {
	switch kind {
	case models.DatasetSubzones:
		return c.SubzonesURL
	case models.DatasetPopulation:
		return c.PopulationURL
	case models.DatasetScores:
		return c.ScoresURL
	}
	return ""
}

// Runner executes dataset refreshes. Runs are serialized; each run writes
// exactly one snapshot.
type Runner struct {
	db      *db.DB
	fetcher Fetcher
	config  Config
	logger  *zap.Logger
	mu      sync.Mutex
	now     func() time.Time
}

// New creates a Runner
func New(database *db.DB, fetcher Fetcher, config Config, logger *zap.Logger) *Runner {
	if config.DefaultYear == 0 {
		config.DefaultYear = time.Now().Year()
	}
	return &Runner{
		db:      database,
		fetcher: fetcher,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// RunMetadata is stored as the snapshot metadata JSON
type RunMetadata struct {
	Fetcher string                        `json:"fetcher"`
	Sources map[models.DatasetKind]string `json:"sources"`
	Counts  map[models.DatasetKind]int    `json:"counts"`
	Skipped map[models.DatasetKind]int    `json:"skipped,omitempty"`
	Unknown map[models.DatasetKind]int    `json:"unknown_subzones,omitempty"`
}

// parsed holds the datasets fetched by one run
type parsed struct {
	subzones    []models.Subzone
	populations []models.Population
	scores      []models.Score
}

var datasetKinds = []models.DatasetKind{models.DatasetSubzones, models.DatasetPopulation, models.DatasetScores}

// Run refreshes the datasets covered by kind. The returned snapshot is
// always non-nil once the run has started, also when err is non-nil.
func (r *Runner) Run(ctx context.Context, kind models.DatasetKind) (*models.DatasetSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := r.now().UTC()
	meta := RunMetadata{
		Fetcher: r.fetcher.Name(),
		Sources: make(map[models.DatasetKind]string),
		Counts:  make(map[models.DatasetKind]int),
		Skipped: make(map[models.DatasetKind]int),
		Unknown: make(map[models.DatasetKind]int),
	}

	r.logger.Info("dataset refresh started", zap.String("kind", string(kind)))

	records, runErr := r.run(ctx, kind, &meta)

	finished := r.now().UTC()
	snap := &models.DatasetSnapshot{
		Kind:       kind,
		Status:     models.SnapshotSuccess,
		StartedAt:  started,
		FinishedAt: finished,
		DurationMs: finished.Sub(started).Milliseconds(),
		Records:    records,
	}
	if runErr != nil {
		msg := runErr.Error()
		snap.Status = models.SnapshotFailure
		snap.Error = &msg
		snap.Records = 0
	}
	if raw, err := json.Marshal(meta); err == nil {
		snap.Metadata = string(raw)
	}

	// The snapshot must be written even if the request was cancelled
	if err := r.db.InsertSnapshot(context.WithoutCancel(ctx), snap); err != nil {
		r.logger.Error("failed to record snapshot", zap.Error(err))
		return snap, fmt.Errorf("failed to record snapshot: %w", errors.Join(err, runErr))
	}

	metrics.RefreshTotal.WithLabelValues(string(kind), string(snap.Status)).Inc()
	if runErr != nil {
		r.logger.Warn("dataset refresh failed",
			zap.String("kind", string(kind)),
			zap.String("snapshot_id", snap.ID),
			zap.Error(runErr))
		return snap, runErr
	}

	for k, n := range meta.Counts {
		metrics.RefreshRecords.WithLabelValues(string(k)).Add(float64(n))
	}
	r.logger.Info("dataset refresh complete",
		zap.String("kind", string(kind)),
		zap.String("snapshot_id", snap.ID),
		zap.Int("records", snap.Records),
		zap.Int64("duration_ms", snap.DurationMs))
	return snap, nil
}

func (r *Runner) run(ctx context.Context, kind models.DatasetKind, meta *RunMetadata) (int, error) {
	data, err := r.fetchAll(ctx, kind, meta)
	if err != nil {
		return 0, err
	}
	return r.store(ctx, data, meta)
}

// fetchAll downloads and parses every dataset in kind concurrently
func (r *Runner) fetchAll(ctx context.Context, kind models.DatasetKind, meta *RunMetadata) (*parsed, error) {
	var (
		out parsed
		mu  sync.Mutex
	)

	for _, k := range datasetKinds {
		if !kind.Includes(k) {
			continue
		}
		url := r.config.sourceURL(k)
		if url == "" {
			return nil, apperr.New(apperr.KindUpstreamFailure, "no source configured for %s", k)
		}
		meta.Sources[k] = url
	}

	g, gctx := errgroup.WithContext(ctx)
	for k, url := range meta.Sources {
		g.Go(func() error {
			body, err := r.fetcher.Fetch(gctx, url)
			if err != nil {
				return apperr.Wrap(apperr.KindUpstreamFailure, err, "fetching %s", k)
			}

			mu.Lock()
			defer mu.Unlock()
			switch k {
			case models.DatasetSubzones:
				out.subzones, err = ParseSubzones(body)
			case models.DatasetPopulation:
				var res ParseResult[models.Population]
				res, err = ParsePopulationCSV(body, r.config.DefaultYear)
				out.populations = res.Rows
				meta.Skipped[k] = res.Skipped
			case models.DatasetScores:
				var res ParseResult[models.Score]
				res, err = ParseScoresCSV(body)
				out.scores = res.Rows
				meta.Skipped[k] = res.Skipped
			}
			if err != nil {
				return apperr.Wrap(apperr.KindUpstreamFailure, err, "parsing %s", k)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// store upserts all parsed rows in one transaction. Population and score
// rows for subzones that do not exist are counted and skipped.
func (r *Runner) store(ctx context.Context, data *parsed, meta *RunMetadata) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.now().UTC()
	records := 0

	for i := range data.subzones {
		data.subzones[i].UpdatedAt = now
		if err := r.db.UpsertSubzone(ctx, tx, &data.subzones[i]); err != nil {
			return 0, err
		}
	}
	if data.subzones != nil {
		meta.Counts[models.DatasetSubzones] = len(data.subzones)
		records += len(data.subzones)
	}

	known, err := r.db.SubzoneIDs(ctx, tx)
	if err != nil {
		return 0, err
	}

	if data.populations != nil {
		n := 0
		for i := range data.populations {
			p := &data.populations[i]
			if !known[p.SubzoneID] {
				meta.Unknown[models.DatasetPopulation]++
				continue
			}
			p.UpdatedAt = now
			if err := r.db.UpsertPopulation(ctx, tx, p); err != nil {
				return 0, err
			}
			n++
		}
		meta.Counts[models.DatasetPopulation] = n
		records += n
	}

	if data.scores != nil {
		n := 0
		for i := range data.scores {
			s := &data.scores[i]
			if !known[s.SubzoneID] {
				meta.Unknown[models.DatasetScores]++
				continue
			}
			s.ComputedAt = now
			if err := r.db.UpsertScore(ctx, tx, s); err != nil {
				return 0, err
			}
			n++
		}
		meta.Counts[models.DatasetScores] = n
		records += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit refresh: %w", err)
	}
	return records, nil
}
