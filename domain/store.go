package domain

import (
	"fmt"
	"maps"
	"slices"
)

// Store is the persisted aggregate: notes partitioned by folder name plus
// the ordered folder list. The two are kept in lock-step.
type Store struct {
	Notes   map[string][]Note `json:"notes" yaml:"notes"`
	Folders []string          `json:"folders" yaml:"folders"`
}

// NewStore returns the freshly installed state.
func NewStore() *Store {
	return &Store{
		Notes:   map[string][]Note{DefaultFolder: {}},
		Folders: []string{DefaultFolder},
	}
}

func (s *Store) Clone() *Store {
	out := &Store{
		Notes:   make(map[string][]Note, len(s.Notes)),
		Folders: slices.Clone(s.Folders),
	}
	if out.Folders == nil {
		out.Folders = []string{}
	}
	for name, list := range s.Notes {
		cloned := slices.Clone(list)
		if cloned == nil {
			cloned = []Note{}
		}
		out.Notes[name] = cloned
	}
	return out
}

func (s *Store) HasFolder(name string) bool {
	return slices.Contains(s.Folders, name)
}

// Validate reports the first broken invariant: Default must be present,
// folder names must be unique, and folders and notes keys must match.
func (s *Store) Validate() error {
	if !s.HasFolder(DefaultFolder) {
		return fmt.Errorf("folder %q missing from folders", DefaultFolder)
	}
	seen := make(map[string]struct{}, len(s.Folders))
	for _, name := range s.Folders {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate folder %q", name)
		}
		seen[name] = struct{}{}
		if _, ok := s.Notes[name]; !ok {
			return fmt.Errorf("folder %q has no notes entry", name)
		}
	}
	for name := range s.Notes {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("notes entry %q has no folder", name)
		}
	}
	return nil
}

// Repair restores the folder/notes lock-step: every folder gets a notes
// entry, orphan note lists become folders, and Default is re-added. It
// reports whether anything changed.
func (s *Store) Repair() bool {
	changed := false
	if s.Notes == nil {
		s.Notes = map[string][]Note{}
		changed = true
	}
	if !s.HasFolder(DefaultFolder) {
		s.Folders = append([]string{DefaultFolder}, s.Folders...)
		changed = true
	}
	deduped := make([]string, 0, len(s.Folders))
	for _, name := range s.Folders {
		if !slices.Contains(deduped, name) {
			deduped = append(deduped, name)
		}
	}
	if len(deduped) != len(s.Folders) {
		s.Folders = deduped
		changed = true
	}
	for _, name := range s.Folders {
		if _, ok := s.Notes[name]; !ok {
			s.Notes[name] = []Note{}
			changed = true
		}
	}
	orphans := slices.Sorted(maps.Keys(s.Notes))
	for _, name := range orphans {
		if !s.HasFolder(name) {
			s.Folders = append(s.Folders, name)
			changed = true
		}
	}
	return changed
}
