package mapstate

import (
	"sync"

	"hawker-score/internal/models"
)

// Store is the page-level client state. It is safe for concurrent use and
// lives only in memory; Reset is called on navigation.
type Store struct {
	mu        sync.Mutex
	selection Selection
	filters   Filters
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// Select adds id to the comparison selection
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.Add(id)
}

// Deselect removes id from the selection
func (s *Store) Deselect(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.Remove(id)
}

// ToggleSelection flips the selection state of id
func (s *Store) ToggleSelection(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.Toggle(id)
}

// Selected returns the selected ids
func (s *Store) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.IDs()
}

// ReadyToCompare reports whether exactly two subzones are selected
func (s *Store) ReadyToCompare() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.Len() == MaxSelection
}

// UpdateFilters mutates the filters under the store lock
func (s *Store) UpdateFilters(fn func(*Filters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.filters)
}

// Filters returns a copy of the current filters
func (s *Store) Filters() Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.filters
	if f.Region != nil {
		r := *f.Region
		f.Region = &r
	}
	if f.PercentileMin != nil {
		p := *f.PercentileMin
		f.PercentileMin = &p
	}
	return f
}

// Visible applies the current filters to items
func (s *Store) Visible(items []models.SubzoneListItem) []models.SubzoneListItem {
	f := s.Filters()
	return f.Apply(items)
}

// Reset clears selection and filters
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.Clear()
	s.filters.Reset()
}
