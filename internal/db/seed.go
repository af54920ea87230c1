package db

import (
	"context"
	"fmt"
	"time"

	"hawker-score/internal/models"
)

// SampleSubzone is one row of the built-in sample dataset
type SampleSubzone struct {
	ID           string
	Name         string
	Region       models.Region
	PlanningArea string
	Lat, Lng     float64
	Population   int64
	Demand       float64
	Supply       float64
	Access       float64
	Composite    float64
	Percentile   float64
}

// SampleSubzones is a small, realistic sample of Singapore subzones used by
// the seed command and tests
var SampleSubzones = []SampleSubzone{
	{"BMSZ02", "Alexandra Hill", models.RegionCentral, "BUKIT MERAH", 1.2870, 103.8150, 13540, 0.52, 0.61, 0.70, 0.48, 35},
	{"DTSZ05", "Cecil", models.RegionCentral, "DOWNTOWN CORE", 1.2795, 103.8480, 310, 0.20, 0.80, 0.90, 0.21, 8},
	{"TPSZ01", "Toa Payoh Central", models.RegionCentral, "TOA PAYOH", 1.3340, 103.8500, 23120, 0.63, 0.55, 0.82, 0.60, 52},
	{"BDSZ01", "Bedok North", models.RegionEast, "BEDOK", 1.3310, 103.9300, 67350, 0.81, 0.47, 0.75, 0.79, 85},
	{"TMSZ01", "Tampines East", models.RegionEast, "TAMPINES", 1.3560, 103.9550, 110240, 0.92, 0.41, 0.71, 0.88, 96},
	{"PRSZ01", "Pasir Ris Drive", models.RegionEast, "PASIR RIS", 1.3730, 103.9500, 48030, 0.70, 0.36, 0.58, 0.69, 70},
	{"WDSZ01", "Woodlands East", models.RegionNorth, "WOODLANDS", 1.4440, 103.7950, 89110, 0.88, 0.30, 0.62, 0.85, 92},
	{"YSSZ01", "Yishun West", models.RegionNorth, "YISHUN", 1.4300, 103.8300, 39470, 0.66, 0.44, 0.60, 0.63, 60},
	{"SKSZ01", "Sengkang Town Centre", models.RegionNorthEast, "SENGKANG", 1.3920, 103.8950, 52260, 0.75, 0.38, 0.77, 0.74, 78},
	{"HGSZ01", "Hougang Central", models.RegionNorthEast, "HOUGANG", 1.3710, 103.8930, 41050, 0.68, 0.52, 0.73, 0.62, 57},
	{"JWSZ01", "Jurong West Central", models.RegionWest, "JURONG WEST", 1.3400, 103.7050, 58680, 0.77, 0.33, 0.54, 0.76, 82},
	{"CKSZ01", "Choa Chu Kang Central", models.RegionWest, "CHOA CHU KANG", 1.3850, 103.7450, 44320, 0.71, 0.45, 0.66, 0.66, 65},
}

// squareGeometry returns a GeoJSON polygon of half-width d degrees around a point
func squareGeometry(lat, lng, d float64) string {
	return fmt.Sprintf(`{"type":"Polygon","coordinates":[[[%.4f,%.4f],[%.4f,%.4f],[%.4f,%.4f],[%.4f,%.4f],[%.4f,%.4f]]]}`,
		lng-d, lat-d, lng+d, lat-d, lng+d, lat+d, lng-d, lat+d, lng-d, lat-d)
}

// SeedSample upserts the sample subzones with population and scores
func (db *DB) SeedSample(ctx context.Context, year int) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, s := range SampleSubzones {
		geom := squareGeometry(s.Lat, s.Lng, 0.006)
		area := s.PlanningArea
		sz := &models.Subzone{
			ID:           s.ID,
			Name:         s.Name,
			Region:       s.Region,
			PlanningArea: &area,
			Geometry:     &geom,
			UpdatedAt:    now,
		}
		if err := db.UpsertSubzone(ctx, tx, sz); err != nil {
			return err
		}
		if err := db.UpsertPopulation(ctx, tx, &models.Population{
			SubzoneID: s.ID, Total: s.Population, Year: year, UpdatedAt: now,
		}); err != nil {
			return err
		}
		if err := db.UpsertScore(ctx, tx, &models.Score{
			SubzoneID:     s.ID,
			Demand:        s.Demand,
			Supply:        s.Supply,
			Accessibility: s.Access,
			Composite:     s.Composite,
			Percentile:    s.Percentile,
			ComputedAt:    now,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}
	return nil
}
