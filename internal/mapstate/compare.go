package mapstate

import (
	"fmt"

	"hawker-score/internal/models"
)

// MetricDelta compares one metric between two subzones. Delta is B minus A
// and is nil when either side is missing.
type MetricDelta struct {
	Metric string   `json:"metric"`
	A      *float64 `json:"a"`
	B      *float64 `json:"b"`
	Delta  *float64 `json:"delta"`
}

// Comparison is the side-by-side view of two subzones
type Comparison struct {
	A       models.SubzoneDetail `json:"a"`
	B       models.SubzoneDetail `json:"b"`
	Metrics []MetricDelta        `json:"metrics"`
}

// CompareMetrics is the metric order of the comparison table
var CompareMetrics = []string{"population", "demand", "supply", "accessibility", "composite", "percentile"}

// Compare builds a comparison from exactly two batch records
func Compare(records []models.SubzoneDetail) (*Comparison, error) {
	if len(records) != MaxSelection {
		return nil, fmt.Errorf("comparison needs %d subzones, got %d", MaxSelection, len(records))
	}
	c := &Comparison{A: records[0], B: records[1]}
	for _, m := range CompareMetrics {
		d := MetricDelta{Metric: m, A: metricOf(records[0], m), B: metricOf(records[1], m)}
		if d.A != nil && d.B != nil {
			v := *d.B - *d.A
			d.Delta = &v
		}
		c.Metrics = append(c.Metrics, d)
	}
	return c, nil
}

func metricOf(d models.SubzoneDetail, metric string) *float64 {
	var v float64
	switch metric {
	case "population":
		if d.Population == nil {
			return nil
		}
		v = float64(d.Population.Total)
	default:
		if d.Score == nil {
			return nil
		}
		switch metric {
		case "demand":
			v = d.Score.Demand
		case "supply":
			v = d.Score.Supply
		case "accessibility":
			v = d.Score.Accessibility
		case "composite":
			v = d.Score.Composite
		case "percentile":
			v = d.Score.Percentile
		default:
			return nil
		}
	}
	return &v
}
