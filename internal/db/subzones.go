package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"hawker-score/internal/models"
)

// SubzoneFilter contains all filter parameters for subzone list queries
type SubzoneFilter struct {
	Region        *models.Region
	Query         string
	PercentileMin *float64
	// Pagination
	Limit  int
	Offset int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// where builds the shared WHERE clause for list and count queries
func (f SubzoneFilter) where() (string, []interface{}) {
	clauses := []string{"1=1"}
	args := make([]interface{}, 0)

	if f.Region != nil {
		clauses = append(clauses, "s.region = ?")
		args = append(args, string(*f.Region))
	}

	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		clauses = append(clauses, "(LOWER(s.name) LIKE ? OR LOWER(s.id) LIKE ?)")
		args = append(args, like, like)
	}

	if f.PercentileMin != nil {
		clauses = append(clauses, "sc.percentile >= ?")
		args = append(args, *f.PercentileMin)
	}

	return strings.Join(clauses, " AND "), args
}

// ListSubzones returns lightweight subzone records matching the filter, ordered
// by name then id, and the total number of matches ignoring pagination
func (db *DB) ListSubzones(ctx context.Context, f SubzoneFilter) ([]models.SubzoneListItem, int, error) {
	where, args := f.where()

	from := `
		FROM subzones s
		LEFT JOIN populations p ON p.subzone_id = s.id
		LEFT JOIN scores sc ON sc.subzone_id = s.id
		WHERE ` + where

	var total int
	if err := db.GetContext(ctx, &total, db.Rebind("SELECT COUNT(*) "+from), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count subzones: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `
		SELECT
			s.id,
			s.name,
			s.region,
			p.total AS population,
			p.year,
			sc.composite,
			sc.percentile
	` + from + fmt.Sprintf(" ORDER BY s.name, s.id LIMIT %d", limit)

	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	items := make([]models.SubzoneListItem, 0)
	if err := db.SelectContext(ctx, &items, db.Rebind(query), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list subzones: %w", err)
	}

	return items, total, nil
}

// detailRow is the flat join of subzone, population and score
type detailRow struct {
	ID            string     `db:"id"`
	Name          string     `db:"name"`
	Region        string     `db:"region"`
	PlanningArea  *string    `db:"planning_area"`
	Geometry      *string    `db:"geometry"`
	UpdatedAt     time.Time  `db:"updated_at"`
	Total         *int64     `db:"total"`
	Year          *int       `db:"year"`
	PopUpdatedAt  *time.Time `db:"pop_updated_at"`
	Demand        *float64   `db:"demand"`
	Supply        *float64   `db:"supply"`
	Accessibility *float64   `db:"accessibility"`
	Composite     *float64   `db:"composite"`
	Percentile    *float64   `db:"percentile"`
	ComputedAt    *time.Time `db:"computed_at"`
}

func (r detailRow) toDetail(withGeometry bool) models.SubzoneDetail {
	d := models.SubzoneDetail{
		ID:        r.ID,
		Name:      r.Name,
		Region:    models.Region(r.Region),
		UpdatedAt: r.UpdatedAt,
	}
	if r.PlanningArea != nil {
		d.PlanningArea = *r.PlanningArea
	}
	if withGeometry && r.Geometry != nil && *r.Geometry != "" {
		d.Geometry = models.RawJSON(*r.Geometry)
	}
	if r.Total != nil {
		p := &models.Population{SubzoneID: r.ID, Total: *r.Total}
		if r.Year != nil {
			p.Year = *r.Year
		}
		if r.PopUpdatedAt != nil {
			p.UpdatedAt = *r.PopUpdatedAt
		}
		d.Population = p
	}
	if r.Composite != nil {
		s := &models.Score{SubzoneID: r.ID, Composite: *r.Composite}
		if r.Demand != nil {
			s.Demand = *r.Demand
		}
		if r.Supply != nil {
			s.Supply = *r.Supply
		}
		if r.Accessibility != nil {
			s.Accessibility = *r.Accessibility
		}
		if r.Percentile != nil {
			s.Percentile = *r.Percentile
		}
		if r.ComputedAt != nil {
			s.ComputedAt = *r.ComputedAt
		}
		d.Score = s
	}
	return d
}

const detailSelect = `
	SELECT
		s.id, s.name, s.region, s.planning_area, s.geometry, s.updated_at,
		p.total, p.year, p.updated_at AS pop_updated_at,
		sc.demand, sc.supply, sc.accessibility, sc.composite, sc.percentile, sc.computed_at
	FROM subzones s
	LEFT JOIN populations p ON p.subzone_id = s.id
	LEFT JOIN scores sc ON sc.subzone_id = s.id
`

// GetSubzone returns a single subzone by ID with full details
func (db *DB) GetSubzone(ctx context.Context, id string) (*models.SubzoneDetail, error) {
	var row detailRow
	err := db.GetContext(ctx, &row, db.Rebind(detailSelect+" WHERE s.id = ?"), id)
	if err != nil {
		return nil, fmt.Errorf("failed to get subzone: %w", notFound(err, "subzone %q not found", id))
	}
	d := row.toDetail(true)
	return &d, nil
}

// GetSubzonesByIDs returns the subzones among ids that exist, keyed by id.
// Geometry is left out; batch callers only need metrics.
func (db *DB) GetSubzonesByIDs(ctx context.Context, ids []string) (map[string]models.SubzoneDetail, error) {
	out := make(map[string]models.SubzoneDetail, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	var rows []detailRow
	query := detailSelect + " WHERE s.id IN (" + inClause(len(ids)) + ")"
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get subzones: %w", err)
	}

	for _, r := range rows {
		out[r.ID] = r.toDetail(false)
	}
	return out, nil
}

// GeoRow is a subzone with geometry and display metrics for GeoJSON export
type GeoRow struct {
	ID         string   `db:"id"`
	Name       string   `db:"name"`
	Region     string   `db:"region"`
	Geometry   string   `db:"geometry"`
	Population *int64   `db:"population"`
	Year       *int     `db:"year"`
	Composite  *float64 `db:"composite"`
	Percentile *float64 `db:"percentile"`
	Demand     *float64 `db:"demand"`
}

// ListGeoRows returns every subzone that has a geometry, ordered by id
func (db *DB) ListGeoRows(ctx context.Context) ([]GeoRow, error) {
	query := `
		SELECT
			s.id, s.name, s.region, s.geometry,
			p.total AS population, p.year,
			sc.composite, sc.percentile, sc.demand
		FROM subzones s
		LEFT JOIN populations p ON p.subzone_id = s.id
		LEFT JOIN scores sc ON sc.subzone_id = s.id
		WHERE s.geometry IS NOT NULL AND s.geometry <> ''
		ORDER BY s.id
	`
	rows := make([]GeoRow, 0)
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list subzone geometries: %w", err)
	}
	return rows, nil
}

// PopulationValues returns every non-null population total
func (db *DB) PopulationValues(ctx context.Context) ([]float64, error) {
	var totals []int64
	if err := db.SelectContext(ctx, &totals, "SELECT total FROM populations WHERE total IS NOT NULL"); err != nil {
		return nil, fmt.Errorf("failed to load population values: %w", err)
	}
	values := make([]float64, len(totals))
	for i, t := range totals {
		values[i] = float64(t)
	}
	return values, nil
}

// SubzoneIDs returns the set of known subzone ids
func (db *DB) SubzoneIDs(ctx context.Context, q sqlx.QueryerContext) (map[string]bool, error) {
	var ids []string
	if err := sqlx.SelectContext(ctx, q, &ids, "SELECT id FROM subzones"); err != nil {
		return nil, fmt.Errorf("failed to list subzone ids: %w", err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// UpsertSubzone inserts or updates a subzone. Geometry and planning area are
// only overwritten when the new value is present.
func (db *DB) UpsertSubzone(ctx context.Context, ex sqlx.ExecerContext, s *models.Subzone) error {
	if !s.Region.Valid() {
		return fmt.Errorf("subzone %s: invalid region %q", s.ID, s.Region)
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO subzones (id, name, region, planning_area, geometry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			region = excluded.region,
			planning_area = COALESCE(excluded.planning_area, subzones.planning_area),
			geometry = COALESCE(excluded.geometry, subzones.geometry),
			updated_at = excluded.updated_at
	`
	_, err := ex.ExecContext(ctx, db.Rebind(query),
		s.ID, s.Name, string(s.Region), s.PlanningArea, s.Geometry, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subzone %s: %w", s.ID, err)
	}
	return nil
}

// UpsertPopulation replaces the single population row of a subzone
func (db *DB) UpsertPopulation(ctx context.Context, ex sqlx.ExecerContext, p *models.Population) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO populations (subzone_id, total, year, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subzone_id) DO UPDATE SET
			total = excluded.total,
			year = excluded.year,
			updated_at = excluded.updated_at
	`
	_, err := ex.ExecContext(ctx, db.Rebind(query), p.SubzoneID, p.Total, p.Year, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert population for %s: %w", p.SubzoneID, err)
	}
	return nil
}

// UpsertScore replaces the single score row of a subzone
func (db *DB) UpsertScore(ctx context.Context, ex sqlx.ExecerContext, s *models.Score) error {
	if s.ComputedAt.IsZero() {
		s.ComputedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO scores (subzone_id, demand, supply, accessibility, composite, percentile, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subzone_id) DO UPDATE SET
			demand = excluded.demand,
			supply = excluded.supply,
			accessibility = excluded.accessibility,
			composite = excluded.composite,
			percentile = excluded.percentile,
			computed_at = excluded.computed_at
	`
	_, err := ex.ExecContext(ctx, db.Rebind(query),
		s.SubzoneID, s.Demand, s.Supply, s.Accessibility, s.Composite, s.Percentile, s.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert score for %s: %w", s.SubzoneID, err)
	}
	return nil
}
