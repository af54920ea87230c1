package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"hawker-score/internal/geo"
	"hawker-score/internal/models"
)

// ParseSubzones reads a GeoJSON FeatureCollection of subzone boundaries.
// Property names follow the URA master plan dataset (SUBZONE_C, SUBZONE_N,
// REGION_N, PLN_AREA_N) with lower-case fallbacks.
func ParseSubzones(data []byte) ([]models.Subzone, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decoding subzone GeoJSON: %w", err)
	}

	subzones := make([]models.Subzone, 0, len(fc.Features))
	seen := make(map[string]bool, len(fc.Features))
	for i, f := range fc.Features {
		id := strings.ToUpper(strings.TrimSpace(firstString(f.Properties, "SUBZONE_C", "id", "subzone_id")))
		if id == "" {
			return nil, fmt.Errorf("feature %d: missing subzone id", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("feature %d: duplicate subzone id %s", i, id)
		}
		seen[id] = true

		name := titleCase(firstString(f.Properties, "SUBZONE_N", "name"))
		if name == "" {
			return nil, fmt.Errorf("subzone %s: missing name", id)
		}

		region, err := models.ParseRegion(firstString(f.Properties, "REGION_N", "region"))
		if err != nil {
			return nil, fmt.Errorf("subzone %s: %w", id, err)
		}

		sz := models.Subzone{ID: id, Name: name, Region: region}
		if area := firstString(f.Properties, "PLN_AREA_N", "planning_area"); area != "" {
			area = strings.ToUpper(area)
			sz.PlanningArea = &area
		}

		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
			if c := f.Geometry.Bound().Center(); !geo.InSingapore(c) {
				return nil, fmt.Errorf("subzone %s: boundary centre %.4f,%.4f is outside Singapore", id, c.Lat(), c.Lon())
			}
			raw, err := geojson.NewGeometry(f.Geometry).MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("subzone %s: encoding geometry: %w", id, err)
			}
			geom := string(raw)
			sz.Geometry = &geom
		case nil:
		default:
			return nil, fmt.Errorf("subzone %s: unsupported geometry %s", id, f.Geometry.GeoJSONType())
		}

		subzones = append(subzones, sz)
	}

	if len(subzones) == 0 {
		return nil, errors.New("subzone GeoJSON has no features")
	}
	return subzones, nil
}

func firstString(props geojson.Properties, keys ...string) string {
	for _, k := range keys {
		if v, ok := props[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// titleCase converts "TAMPINES EAST" to "Tampines East"
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(string(word[0])) + strings.ToLower(word[1:])
		}
	}
	return strings.Join(words, " ")
}

// csvTable is a CSV file with a discovered header
type csvTable struct {
	reader *csv.Reader
	cols   map[string]int
}

// openCSV reads the header row and maps each wanted column to its index.
// Each wanted column lists accepted header spellings.
func openCSV(data []byte, wanted map[string][]string) (*csvTable, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	cols := make(map[string]int)
	for i, col := range header {
		col = strings.ToLower(strings.TrimSpace(col))
		for name, spellings := range wanted {
			if _, done := cols[name]; done {
				continue
			}
			for _, s := range spellings {
				if col == s {
					cols[name] = i
					break
				}
			}
		}
	}
	return &csvTable{reader: reader, cols: cols}, nil
}

func (t *csvTable) has(name string) bool {
	_, ok := t.cols[name]
	return ok
}

func (t *csvTable) field(record []string, name string) string {
	i, ok := t.cols[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (t *csvTable) float(record []string, name string) (float64, error) {
	v := strings.ReplaceAll(t.field(record, name), ",", "")
	if v == "" || v == "-" {
		return 0, fmt.Errorf("missing %s", name)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return f, nil
}

// ParseResult carries parsed rows and the count of rows that were skipped
type ParseResult[T any] struct {
	Rows    []T
	Skipped int
}

var populationColumns = map[string][]string{
	"id":    {"subzone_id", "subzone_c", "subzone_code", "id", "code"},
	"total": {"total", "population", "pop", "total_population"},
	"year":  {"year", "time"},
}

// ParsePopulationCSV reads subzone population totals. Rows with an invalid
// total are skipped; a missing year column uses defaultYear.
func ParsePopulationCSV(data []byte, defaultYear int) (ParseResult[models.Population], error) {
	var res ParseResult[models.Population]

	t, err := openCSV(data, populationColumns)
	if err != nil {
		return res, err
	}
	if !t.has("id") || !t.has("total") {
		return res, errors.New("population CSV needs subzone id and total columns")
	}

	seen := make(map[string]int)
	for {
		record, err := t.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("reading population CSV: %w", err)
		}

		id := strings.ToUpper(t.field(record, "id"))
		total, terr := t.float(record, "total")
		if id == "" || terr != nil || total < 0 {
			res.Skipped++
			continue
		}

		year := defaultYear
		if t.has("year") {
			y, err := strconv.Atoi(t.field(record, "year"))
			if err != nil {
				res.Skipped++
				continue
			}
			year = y
		}

		p := models.Population{SubzoneID: id, Total: int64(total), Year: year}
		// Keep the most recent year when a source lists several
		if i, ok := seen[id]; ok {
			if year > res.Rows[i].Year {
				res.Rows[i] = p
			}
			continue
		}
		seen[id] = len(res.Rows)
		res.Rows = append(res.Rows, p)
	}

	if len(res.Rows) == 0 {
		return res, errors.New("population CSV has no valid rows")
	}
	return res, nil
}

var scoreColumns = map[string][]string{
	"id":            {"subzone_id", "subzone_c", "subzone_code", "id", "code"},
	"demand":        {"demand", "demand_score"},
	"supply":        {"supply", "supply_score"},
	"accessibility": {"accessibility", "access", "accessibility_score"},
	"composite":     {"composite", "h", "h_score", "score"},
	"percentile":    {"percentile", "pct", "rank_percentile"},
}

// ParseScoresCSV reads externally computed opportunity scores. When the
// source has no percentile column, percentiles are derived from composite
// rank (share of other subzones scoring strictly lower).
func ParseScoresCSV(data []byte) (ParseResult[models.Score], error) {
	var res ParseResult[models.Score]

	t, err := openCSV(data, scoreColumns)
	if err != nil {
		return res, err
	}
	for _, c := range []string{"id", "demand", "supply", "accessibility", "composite"} {
		if !t.has(c) {
			return res, fmt.Errorf("scores CSV missing %s column", c)
		}
	}

	seen := make(map[string]bool)
	for {
		record, err := t.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("reading scores CSV: %w", err)
		}

		id := strings.ToUpper(t.field(record, "id"))
		if id == "" || seen[id] {
			res.Skipped++
			continue
		}

		s := models.Score{SubzoneID: id}
		var ferr error
		for _, c := range []struct {
			name string
			dest *float64
		}{
			{"demand", &s.Demand},
			{"supply", &s.Supply},
			{"accessibility", &s.Accessibility},
			{"composite", &s.Composite},
		} {
			if *c.dest, ferr = t.float(record, c.name); ferr != nil {
				break
			}
		}
		if ferr == nil && t.has("percentile") {
			s.Percentile, ferr = t.float(record, "percentile")
			if ferr == nil && (s.Percentile < 0 || s.Percentile > 100) {
				ferr = fmt.Errorf("percentile out of range")
			}
		}
		if ferr != nil {
			res.Skipped++
			continue
		}

		seen[id] = true
		res.Rows = append(res.Rows, s)
	}

	if len(res.Rows) == 0 {
		return res, errors.New("scores CSV has no valid rows")
	}
	if !t.has("percentile") {
		rankPercentiles(res.Rows)
	}
	return res, nil
}

func rankPercentiles(scores []models.Score) {
	n := len(scores)
	if n == 1 {
		scores[0].Percentile = 100
		return
	}
	sorted := make([]float64, n)
	for i, s := range scores {
		sorted[i] = s.Composite
	}
	sort.Float64s(sorted)
	for i := range scores {
		lower := sort.SearchFloat64s(sorted, scores[i].Composite)
		scores[i].Percentile = 100 * float64(lower) / float64(n-1)
	}
}
