package models

import (
	"fmt"
	"time"
)

// SnapshotStatus is the outcome of a dataset refresh run
type SnapshotStatus string

const (
	SnapshotSuccess SnapshotStatus = "success"
	SnapshotFailure SnapshotStatus = "failure"
)

// DatasetKind names which datasets a refresh run ingests
type DatasetKind string

const (
	DatasetAll        DatasetKind = "all"
	DatasetSubzones   DatasetKind = "subzones"
	DatasetPopulation DatasetKind = "population"
	DatasetScores     DatasetKind = "scores"
)

// ParseDatasetKind validates a refresh kind; empty means all
func ParseDatasetKind(s string) (DatasetKind, error) {
	switch k := DatasetKind(s); k {
	case "":
		return DatasetAll, nil
	case DatasetAll, DatasetSubzones, DatasetPopulation, DatasetScores:
		return k, nil
	default:
		return "", fmt.Errorf("unknown dataset kind %q", s)
	}
}

// Includes reports whether a run of kind k covers dataset d
func (k DatasetKind) Includes(d DatasetKind) bool {
	return k == DatasetAll || k == d
}

// DatasetSnapshot is the immutable audit record of one refresh run
type DatasetSnapshot struct {
	ID         string         `db:"id" json:"id"`
	Kind       DatasetKind    `db:"kind" json:"kind"`
	Status     SnapshotStatus `db:"status" json:"status"`
	StartedAt  time.Time      `db:"started_at" json:"started_at"`
	FinishedAt time.Time      `db:"finished_at" json:"finished_at"`
	DurationMs int64          `db:"duration_ms" json:"duration_ms"`
	Records    int            `db:"records" json:"records"`
	Error      *string        `db:"error" json:"error,omitempty"`
	Metadata   string         `db:"metadata" json:"-"`
	Meta       RawJSON        `db:"-" json:"metadata,omitempty"`
}

// Kernel is a kernel density function shape
type Kernel string

const (
	KernelGaussian     Kernel = "gaussian"
	KernelEpanechnikov Kernel = "epanechnikov"
	KernelUniform      Kernel = "uniform"
)

// Valid reports whether k is a supported kernel
func (k Kernel) Valid() bool {
	switch k {
	case KernelGaussian, KernelEpanechnikov, KernelUniform:
		return true
	}
	return false
}

// WeightField is the metric a heatmap kernel is weighted by
type WeightField string

const (
	WeightPopulation WeightField = "population"
	WeightComposite  WeightField = "composite"
	WeightDemand     WeightField = "demand"
)

// Valid reports whether w is a supported weight field
func (w WeightField) Valid() bool {
	switch w {
	case WeightPopulation, WeightComposite, WeightDemand:
		return true
	}
	return false
}

// KernelConfig parameterizes the heatmap kernel density estimate
type KernelConfig struct {
	ID          string      `db:"id" json:"id"`
	Name        string      `db:"name" json:"name"`
	Kernel      Kernel      `db:"kernel" json:"kernel"`
	BandwidthM  float64     `db:"bandwidth_m" json:"bandwidth_m"`
	WeightField WeightField `db:"weight_field" json:"weight_field"`
	Active      bool        `db:"active" json:"active"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// DefaultKernelConfig is used when no config is active
var DefaultKernelConfig = KernelConfig{
	Name:        "default",
	Kernel:      KernelGaussian,
	BandwidthM:  1500,
	WeightField: WeightPopulation,
}

// Validate checks the kernel parameters
func (k KernelConfig) Validate() error {
	if k.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !k.Kernel.Valid() {
		return fmt.Errorf("unknown kernel %q", k.Kernel)
	}
	if k.BandwidthM <= 0 {
		return fmt.Errorf("bandwidth_m must be positive")
	}
	if !k.WeightField.Valid() {
		return fmt.Errorf("unknown weight_field %q", k.WeightField)
	}
	return nil
}

// Role is a user's authorization role
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleViewer Role = "VIEWER"
)

// User is an account that can sign in to the admin panel
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         Role      `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// SystemStats are the admin dashboard counters
type SystemStats struct {
	Subzones       int              `json:"subzones"`
	Populations    int              `json:"populations"`
	Scores         int              `json:"scores"`
	Users          int              `json:"users"`
	Snapshots      int              `json:"snapshots"`
	KernelConfigs  int              `json:"kernel_configs"`
	LatestSnapshot *DatasetSnapshot `json:"latest_snapshot,omitempty"`
}
