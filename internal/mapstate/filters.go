package mapstate

import (
	"net/url"
	"strconv"
	"strings"

	"hawker-score/internal/models"
)

// Filters narrow the subzones shown on the map. Each filter is set and
// cleared independently.
type Filters struct {
	Region        *models.Region
	PercentileMin *float64
	Search        string
}

func (f *Filters) SetRegion(r models.Region) { f.Region = &r }

func (f *Filters) ClearRegion() { f.Region = nil }

func (f *Filters) SetPercentileMin(p float64) { f.PercentileMin = &p }

func (f *Filters) ClearPercentileMin() { f.PercentileMin = nil }

func (f *Filters) SetSearch(q string) { f.Search = strings.TrimSpace(q) }

func (f *Filters) ClearSearch() { f.Search = "" }

// Reset clears every filter
func (f *Filters) Reset() { *f = Filters{} }

// Active reports whether any filter is set
func (f Filters) Active() bool {
	return f.Region != nil || f.PercentileMin != nil || f.Search != ""
}

// Matches applies the filters to one record. Records without a percentile
// never match a percentile threshold.
func (f Filters) Matches(item models.SubzoneListItem) bool {
	if f.Region != nil && item.Region != *f.Region {
		return false
	}
	if f.PercentileMin != nil && (item.Percentile == nil || *item.Percentile < *f.PercentileMin) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(item.Name), q) && !strings.Contains(strings.ToLower(item.ID), q) {
			return false
		}
	}
	return true
}

// Apply returns the records matching every filter, preserving order
func (f Filters) Apply(items []models.SubzoneListItem) []models.SubzoneListItem {
	out := make([]models.SubzoneListItem, 0, len(items))
	for _, it := range items {
		if f.Matches(it) {
			out = append(out, it)
		}
	}
	return out
}

// Values encodes the filters as list query parameters
func (f Filters) Values() url.Values {
	v := url.Values{}
	if f.Region != nil {
		v.Set("region", string(*f.Region))
	}
	if f.PercentileMin != nil {
		v.Set("percentile_min", strconv.FormatFloat(*f.PercentileMin, 'f', -1, 64))
	}
	if f.Search != "" {
		v.Set("q", f.Search)
	}
	return v
}
