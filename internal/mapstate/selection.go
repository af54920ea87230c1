// Package mapstate holds the map client's in-memory state: subzone
// selection, filters, layer control and the GeoJSON loading chain.
package mapstate

import (
	"errors"
	"slices"
)

// MaxSelection is the number of subzones that can be compared at once
const MaxSelection = 2

var (
	ErrSelectionFull   = errors.New("selection is full")
	ErrAlreadySelected = errors.New("subzone already selected")
)

// Selection is an ordered set of at most MaxSelection subzone ids
type Selection struct {
	ids []string
}

// Add appends id. A full selection or a duplicate is rejected and the
// selection is left unchanged.
func (s *Selection) Add(id string) error {
	if s.Has(id) {
		return ErrAlreadySelected
	}
	if len(s.ids) >= MaxSelection {
		return ErrSelectionFull
	}
	s.ids = append(s.ids, id)
	return nil
}

// Remove drops id and reports whether it was selected
func (s *Selection) Remove(id string) bool {
	i := slices.Index(s.ids, id)
	if i < 0 {
		return false
	}
	s.ids = slices.Delete(s.ids, i, i+1)
	return true
}

// Toggle removes id if selected, otherwise adds it. It returns whether id
// is selected afterwards.
func (s *Selection) Toggle(id string) (bool, error) {
	if s.Remove(id) {
		return false, nil
	}
	if err := s.Add(id); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Selection) Has(id string) bool { return slices.Contains(s.ids, id) }

func (s *Selection) Len() int { return len(s.ids) }

// Full reports whether another Add would be rejected
func (s *Selection) Full() bool { return len(s.ids) >= MaxSelection }

// IDs returns a copy of the selected ids in selection order
func (s *Selection) IDs() []string { return slices.Clone(s.ids) }

func (s *Selection) Clear() { s.ids = nil }
