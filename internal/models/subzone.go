package models

import (
	"fmt"
	"strings"
	"time"
)

// Region is one of the five Singapore planning regions
type Region string

const (
	RegionCentral   Region = "CENTRAL"
	RegionEast      Region = "EAST"
	RegionNorth     Region = "NORTH"
	RegionNorthEast Region = "NORTH_EAST"
	RegionWest      Region = "WEST"
)

// Regions lists every valid region in display order
var Regions = []Region{RegionCentral, RegionEast, RegionNorth, RegionNorthEast, RegionWest}

// Valid reports whether r is one of the fixed regions
func (r Region) Valid() bool {
	for _, v := range Regions {
		if r == v {
			return true
		}
	}
	return false
}

// ParseRegion normalizes user and dataset spellings ("north-east region", "NORTH EAST")
// into a Region
func ParseRegion(s string) (Region, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.TrimSuffix(norm, " REGION")
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	r := Region(norm)
	if !r.Valid() {
		return "", fmt.Errorf("unknown region %q", s)
	}
	return r, nil
}

// Subzone is a planning subzone, the spatial key for every metric
type Subzone struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Region       Region    `db:"region" json:"region"`
	PlanningArea *string   `db:"planning_area" json:"planning_area,omitempty"`
	Geometry     *string   `db:"geometry" json:"-"` // GeoJSON geometry text
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Population is the latest population figure for a subzone
type Population struct {
	SubzoneID string    `db:"subzone_id" json:"subzone_id"`
	Total     int64     `db:"total" json:"total"`
	Year      int       `db:"year" json:"year"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Score holds externally computed opportunity metrics for a subzone
type Score struct {
	SubzoneID     string    `db:"subzone_id" json:"subzone_id"`
	Demand        float64   `db:"demand" json:"demand"`
	Supply        float64   `db:"supply" json:"supply"`
	Accessibility float64   `db:"accessibility" json:"accessibility"`
	Composite     float64   `db:"composite" json:"composite"`
	Percentile    float64   `db:"percentile" json:"percentile"`
	ComputedAt    time.Time `db:"computed_at" json:"computed_at"`
}

// SubzoneListItem is the lightweight record used by lists and filters
type SubzoneListItem struct {
	ID         string   `db:"id" json:"id"`
	Name       string   `db:"name" json:"name"`
	Region     Region   `db:"region" json:"region"`
	Population *int64   `db:"population" json:"population"`
	Year       *int     `db:"year" json:"year,omitempty"`
	Composite  *float64 `db:"composite" json:"composite,omitempty"`
	Percentile *float64 `db:"percentile" json:"percentile,omitempty"`
}

// SubzoneDetail is the full subzone record for detail and comparison views
type SubzoneDetail struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Region       Region      `json:"region"`
	PlanningArea string      `json:"planning_area,omitempty"`
	Population   *Population `json:"population,omitempty"`
	Score        *Score      `json:"score,omitempty"`
	Geometry     RawJSON     `json:"geometry,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// RawJSON is pre-encoded JSON embedded as-is in responses
type RawJSON []byte

// MarshalJSON returns the raw bytes, or null when empty
func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON keeps a copy of the raw bytes
func (r *RawJSON) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = nil
		return nil
	}
	*r = append((*r)[:0], b...)
	return nil
}
