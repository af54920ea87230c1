package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hawker-score/internal/apperr"
	"hawker-score/internal/db"
	"hawker-score/internal/db/dbtest"
	"hawker-score/internal/models"
)

func TestListSubzonesRegionFilter(t *testing.T) {
	d := dbtest.Seeded(t)
	ctx := context.Background()

	east := models.RegionEast
	items, total, err := d.ListSubzones(ctx, db.SubzoneFilter{Region: &east})
	require.NoError(t, err)

	assert.Equal(t, 3, total)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, models.RegionEast, it.Region)
	}
	// ordered by name
	assert.Equal(t, "Bedok North", items[0].Name)
	assert.Equal(t, "Tampines East", items[2].Name)
}

func TestListSubzonesQueryAndPaging(t *testing.T) {
	d := dbtest.Seeded(t)
	ctx := context.Background()

	items, total, err := d.ListSubzones(ctx, db.SubzoneFilter{Query: "central"})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, items, 4)

	page, total, err := d.ListSubzones(ctx, db.SubzoneFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, len(db.SampleSubzones), total)
	require.Len(t, page, 2)

	all, _, err := d.ListSubzones(ctx, db.SubzoneFilter{})
	require.NoError(t, err)
	assert.Equal(t, all[2].ID, page[0].ID)

	floor := 80.0
	top, _, err := d.ListSubzones(ctx, db.SubzoneFilter{PercentileMin: &floor})
	require.NoError(t, err)
	for _, it := range top {
		require.NotNil(t, it.Percentile)
		assert.GreaterOrEqual(t, *it.Percentile, 80.0)
	}
}

func TestGetSubzone(t *testing.T) {
	d := dbtest.Seeded(t)
	ctx := context.Background()

	sz, err := d.GetSubzone(ctx, "TMSZ01")
	require.NoError(t, err)
	assert.Equal(t, "Tampines East", sz.Name)
	require.NotNil(t, sz.Population)
	assert.Equal(t, int64(110240), sz.Population.Total)
	assert.Equal(t, dbtest.SampleYear, sz.Population.Year)
	require.NotNil(t, sz.Score)
	assert.InDelta(t, 0.88, sz.Score.Composite, 1e-9)
	assert.NotEmpty(t, sz.Geometry)

	_, err = d.GetSubzone(ctx, "NOPE")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGetSubzonesByIDs(t *testing.T) {
	d := dbtest.Seeded(t)

	got, err := d.GetSubzonesByIDs(context.Background(), []string{"BDSZ01", "MISSING", "CKSZ01"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "BDSZ01")
	assert.Contains(t, got, "CKSZ01")
	assert.Empty(t, got["BDSZ01"].Geometry)
}

func TestUpsertSubzoneKeepsGeometry(t *testing.T) {
	d := dbtest.Seeded(t)
	ctx := context.Background()

	err := d.UpsertSubzone(ctx, d, &models.Subzone{ID: "BDSZ01", Name: "Bedok North", Region: models.RegionEast})
	require.NoError(t, err)

	sz, err := d.GetSubzone(ctx, "BDSZ01")
	require.NoError(t, err)
	assert.NotEmpty(t, sz.Geometry)
	assert.Equal(t, "BEDOK", sz.PlanningArea)

	err = d.UpsertSubzone(ctx, d, &models.Subzone{ID: "X", Name: "X", Region: "SOUTH"})
	assert.Error(t, err)
}

func TestSnapshotsAreAppendOnly(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()

	start := time.Now().UTC()
	snap := &models.DatasetSnapshot{
		Kind:       models.DatasetAll,
		Status:     models.SnapshotSuccess,
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		DurationMs: 1000,
		Records:    12,
	}
	require.NoError(t, d.InsertSnapshot(ctx, snap))
	require.NotEmpty(t, snap.ID)

	_, err := d.ExecContext(ctx, `UPDATE dataset_snapshots SET records = 0 WHERE id = ?`, snap.ID)
	assert.Error(t, err)
	_, err = d.ExecContext(ctx, `DELETE FROM dataset_snapshots WHERE id = ?`, snap.ID)
	assert.Error(t, err)

	got, err := d.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Records)
	assert.Equal(t, models.SnapshotSuccess, got.Status)
	assert.JSONEq(t, `{}`, string(got.Meta))
}

func TestListSnapshotsNewestFirst(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()

	latest, err := d.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := "upstream returned 503"
	require.NoError(t, d.InsertSnapshot(ctx, &models.DatasetSnapshot{
		Kind:       models.DatasetPopulation,
		Status:     models.SnapshotSuccess,
		StartedAt:  base,
		FinishedAt: base.Add(time.Minute),
	}))
	require.NoError(t, d.InsertSnapshot(ctx, &models.DatasetSnapshot{
		Kind:       models.DatasetPopulation,
		Status:     models.SnapshotFailure,
		StartedAt:  base.Add(time.Hour),
		FinishedAt: base.Add(time.Hour + time.Minute),
		Error:      &msg,
	}))

	snaps, err := d.ListSnapshots(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, models.SnapshotFailure, snaps[0].Status)
	require.NotNil(t, snaps[0].Error)
	assert.Equal(t, msg, *snaps[0].Error)

	err = d.InsertSnapshot(ctx, &models.DatasetSnapshot{Status: "running"})
	assert.Error(t, err)
}

func TestKernelConfigActivation(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()

	active, err := d.ActiveKernelConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	a := &models.KernelConfig{Name: "wide", Kernel: models.KernelGaussian, BandwidthM: 3000, WeightField: models.WeightPopulation}
	b := &models.KernelConfig{Name: "tight", Kernel: models.KernelEpanechnikov, BandwidthM: 800, WeightField: models.WeightDemand}
	require.NoError(t, d.CreateKernelConfig(ctx, a))
	require.NoError(t, d.CreateKernelConfig(ctx, b))
	assert.False(t, a.Active)

	_, err = d.ActivateKernelConfig(ctx, a.ID)
	require.NoError(t, err)
	got, err := d.ActivateKernelConfig(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)

	cfgs, err := d.ListKernelConfigs(ctx)
	require.NoError(t, err)
	activeCount := 0
	for _, c := range cfgs {
		if c.Active {
			activeCount++
			assert.Equal(t, b.ID, c.ID)
		}
	}
	assert.Equal(t, 1, activeCount)

	_, err = d.ActivateKernelConfig(ctx, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	bad := &models.KernelConfig{Name: "bad", Kernel: "triangle", BandwidthM: 10, WeightField: models.WeightDemand}
	err = d.CreateKernelConfig(ctx, bad)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	b.BandwidthM = 900
	require.NoError(t, d.UpdateKernelConfig(ctx, b))
	updated, err := d.GetKernelConfig(ctx, b.ID)
	require.NoError(t, err)
	assert.InDelta(t, 900, updated.BandwidthM, 1e-9)

	b.ID = "missing"
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(d.UpdateKernelConfig(ctx, b)))
}

func TestUsersAndStats(t *testing.T) {
	d := dbtest.Seeded(t)
	ctx := context.Background()

	u := &models.User{Email: " Admin@Example.com ", PasswordHash: "h1", Role: models.RoleAdmin}
	require.NoError(t, d.UpsertUser(ctx, u))
	require.NoError(t, d.UpsertUser(ctx, &models.User{Email: "admin@example.com", PasswordHash: "h2", Role: models.RoleAdmin}))

	got, err := d.GetUserByEmail(ctx, "ADMIN@example.com")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.PasswordHash)
	assert.Equal(t, u.ID, got.ID)

	_, err = d.GetUserByEmail(ctx, "nobody@example.com")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	stats, err := d.GetSystemStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(db.SampleSubzones), stats.Subzones)
	assert.Equal(t, len(db.SampleSubzones), stats.Populations)
	assert.Equal(t, 1, stats.Users)
	assert.Nil(t, stats.LatestSnapshot)

	values, err := d.PopulationValues(ctx)
	require.NoError(t, err)
	assert.Len(t, values, len(db.SampleSubzones))
}
