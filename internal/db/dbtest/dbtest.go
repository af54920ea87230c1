// Package dbtest opens throwaway in-memory databases for tests.
package dbtest

import (
	"context"
	"testing"

	"hawker-score/internal/db"
)

// SampleYear is the population year used by Seeded
const SampleYear = 2024

// New opens an empty, migrated in-memory SQLite database closed at test end
func New(tb testing.TB) *db.DB {
	tb.Helper()
	d, err := db.New("sqlite", ":memory:")
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}
	tb.Cleanup(func() { d.Close() })
	return d
}

// Seeded opens a test database loaded with db.SampleSubzones
func Seeded(tb testing.TB) *db.DB {
	tb.Helper()
	d := New(tb)
	if err := d.SeedSample(context.Background(), SampleYear); err != nil {
		tb.Fatalf("seed test db: %v", err)
	}
	return d
}
