package geo

import (
	"fmt"
	"sort"
)

const (
	DefaultQuantiles = 5
	MinQuantiles     = 2
	MaxQuantiles     = 10
)

// QuantileSummary is the response body of the population quantile endpoint
type QuantileSummary struct {
	K      int       `json:"k"`
	Count  int       `json:"count"`
	Min    *float64  `json:"min"`
	Max    *float64  `json:"max"`
	Breaks []float64 `json:"breaks"`
}

// ValidateQuantiles checks k is within the supported range
func ValidateQuantiles(k int) error {
	if k < MinQuantiles || k > MaxQuantiles {
		return fmt.Errorf("k must be between %d and %d", MinQuantiles, MaxQuantiles)
	}
	return nil
}

// Quantiles returns the k-1 class breaks of values. The values are sorted
// ascending and break i is the value at index i*n/k. An empty input yields
// an empty list. values is not modified.
func Quantiles(values []float64, k int) []float64 {
	n := len(values)
	breaks := make([]float64, 0, k)
	if n == 0 || k < 1 {
		return breaks
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	for i := 1; i < k; i++ {
		breaks = append(breaks, sorted[i*n/k])
	}
	return breaks
}

// Summarize computes breaks plus count, min and max
func Summarize(values []float64, k int) QuantileSummary {
	s := QuantileSummary{K: k, Count: len(values), Breaks: Quantiles(values, k)}
	for i, v := range values {
		if i == 0 || v < *s.Min {
			lo := v
			s.Min = &lo
		}
		if i == 0 || v > *s.Max {
			hi := v
			s.Max = &hi
		}
	}
	return s
}
