package geo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"hawker-score/internal/db"
)

const (
	// DefaultSimplifyTolerance is used for simplify=true, in degrees (~11m)
	DefaultSimplifyTolerance = 0.0001
	// MaxSimplifyTolerance keeps subzones recognizable (~1.1km)
	MaxSimplifyTolerance = 0.01
)

// FeatureProperties are the properties every subzone feature can carry
var FeatureProperties = []string{"id", "name", "region", "population", "year", "composite", "percentile"}

// ParseFields parses a comma separated property list. Empty input selects all
// properties; "id" is always included.
func ParseFields(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return FeatureProperties, nil
	}

	known := make(map[string]bool, len(FeatureProperties))
	for _, f := range FeatureProperties {
		known[f] = true
	}

	fields := []string{"id"}
	seen := map[string]bool{"id": true}
	for _, f := range strings.Split(raw, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		if !known[f] {
			return nil, fmt.Errorf("unknown field %q", f)
		}
		seen[f] = true
		fields = append(fields, f)
	}
	return fields, nil
}

// ParseSimplify parses the simplify query value into a tolerance in degrees.
// Absent or "false" means no simplification (0).
func ParseSimplify(raw string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "false", "0":
		return 0, nil
	case "true":
		return DefaultSimplifyTolerance, nil
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("simplify must be true, false or a tolerance in degrees")
	}
	if !(t > 0 && t <= MaxSimplifyTolerance) {
		return 0, fmt.Errorf("simplify tolerance must be in (0, %g]", MaxSimplifyTolerance)
	}
	return t, nil
}

// ParseGeometry decodes a stored GeoJSON geometry
func ParseGeometry(raw string) (orb.Geometry, error) {
	g, err := geojson.UnmarshalGeometry([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing geometry: %w", err)
	}
	switch g.Coordinates.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return g.Coordinates, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type: %s", g.Type)
	}
}

// Centroid returns the area-weighted centroid of a polygon or multipolygon
func Centroid(g orb.Geometry) (lat, lng float64, err error) {
	if g == nil {
		return 0, 0, fmt.Errorf("nil geometry")
	}
	c, area := planar.CentroidArea(g)
	if area == 0 {
		// Degenerate ring, fall back to the bound centre
		c = g.Bound().Center()
	}
	return c.Lat(), c.Lon(), nil
}

// Simplify applies Douglas-Peucker with the given tolerance. Rings that would
// collapse below a valid polygon are left as they were.
func Simplify(g orb.Geometry, tolerance float64) orb.Geometry {
	if tolerance <= 0 {
		return g
	}
	s := simplify.DouglasPeucker(tolerance)

	simplifyPolygon := func(p orb.Polygon) orb.Polygon {
		out := make(orb.Polygon, 0, len(p))
		for _, ring := range p {
			r := s.Ring(ring.Clone())
			if len(r) < 4 {
				r = ring
			}
			out = append(out, r)
		}
		return out
	}

	switch v := g.(type) {
	case orb.Polygon:
		return simplifyPolygon(v)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(v))
		for _, p := range v {
			out = append(out, simplifyPolygon(p))
		}
		return out
	default:
		return g
	}
}

// BuildOptions controls FeatureCollection output
type BuildOptions struct {
	Fields    []string
	Tolerance float64
}

// BuildFeatureCollection converts subzone rows into a FeatureCollection.
// Rows whose geometry cannot be parsed are skipped and counted.
func BuildFeatureCollection(rows []db.GeoRow, opts BuildOptions) (*geojson.FeatureCollection, int) {
	fields := opts.Fields
	if len(fields) == 0 {
		fields = FeatureProperties
	}

	fc := geojson.NewFeatureCollection()
	skipped := 0
	for _, r := range rows {
		g, err := ParseGeometry(r.Geometry)
		if err != nil {
			skipped++
			continue
		}

		f := geojson.NewFeature(Simplify(g, opts.Tolerance))
		f.ID = r.ID
		for _, name := range fields {
			f.Properties[name] = propertyValue(r, name)
		}
		fc.Append(f)
	}
	return fc, skipped
}

func propertyValue(r db.GeoRow, name string) interface{} {
	switch name {
	case "id":
		return r.ID
	case "name":
		return r.Name
	case "region":
		return r.Region
	case "population":
		if r.Population != nil {
			return *r.Population
		}
	case "year":
		if r.Year != nil {
			return *r.Year
		}
	case "composite":
		if r.Composite != nil {
			return *r.Composite
		}
	case "percentile":
		if r.Percentile != nil {
			return *r.Percentile
		}
	}
	return nil
}
