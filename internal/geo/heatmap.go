package geo

import (
	"math"

	"github.com/paulmach/orb"

	"hawker-score/internal/db"
	"hawker-score/internal/models"
)

// HeatPoint is one subzone centroid with its kernel density intensity
type HeatPoint struct {
	ID        string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Weight    float64 `json:"weight"`
	Intensity float64 `json:"intensity"`
}

// Heatmap is the response body of the heatmap endpoint
type Heatmap struct {
	Config models.KernelConfig `json:"config"`
	Points []HeatPoint         `json:"points"`
}

// KernelValue evaluates kernel k at normalized distance u = d / bandwidth
func KernelValue(k models.Kernel, u float64) float64 {
	switch k {
	case models.KernelEpanechnikov:
		if u >= 1 {
			return 0
		}
		return 0.75 * (1 - u*u)
	case models.KernelUniform:
		if u > 1 {
			return 0
		}
		return 0.5
	default:
		return math.Exp(-0.5 * u * u)
	}
}

func weightOf(r db.GeoRow, field models.WeightField) float64 {
	var v *float64
	switch field {
	case models.WeightComposite:
		v = r.Composite
	case models.WeightDemand:
		v = r.Demand
	default:
		if r.Population != nil {
			return float64(*r.Population)
		}
	}
	if v == nil {
		return 0
	}
	return *v
}

// BuildHeatmap computes a kernel density estimate over subzone centroids:
// intensity(s) = sum over t of weight(t) * K(haversine(s, t) / bandwidth).
// Intensities are scaled so the maximum is 1. Rows without a usable geometry
// are skipped.
func BuildHeatmap(rows []db.GeoRow, cfg models.KernelConfig) Heatmap {
	points := make([]HeatPoint, 0, len(rows))
	for _, r := range rows {
		g, err := ParseGeometry(r.Geometry)
		if err != nil {
			continue
		}
		lat, lng, err := Centroid(g)
		if err != nil {
			continue
		}
		points = append(points, HeatPoint{
			ID:     r.ID,
			Lat:    lat,
			Lng:    lng,
			Weight: weightOf(r, cfg.WeightField),
		})
	}

	maxIntensity := 0.0
	for i := range points {
		sum := 0.0
		for _, t := range points {
			d := HaversineMeters(orb.Point{points[i].Lng, points[i].Lat}, orb.Point{t.Lng, t.Lat})
			sum += t.Weight * KernelValue(cfg.Kernel, d/cfg.BandwidthM)
		}
		points[i].Intensity = sum
		if sum > maxIntensity {
			maxIntensity = sum
		}
	}

	if maxIntensity > 0 {
		for i := range points {
			points[i].Intensity /= maxIntensity
		}
	}

	return Heatmap{Config: cfg, Points: points}
}
