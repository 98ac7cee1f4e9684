// domain/note.go
package domain

import (
	"cmp"
	"slices"
	"time"
)

// DefaultFolder always exists and can never be deleted.
const DefaultFolder = "Default"

type Note struct {
	ID          string    `json:"id,omitempty" yaml:"id,omitempty"`
	Timestamp   int       `json:"timestamp" yaml:"timestamp"`
	Description string    `json:"description" yaml:"description"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
	// Folder is written by older page-agent saves and never read back.
	Folder string `json:"folder,omitempty" yaml:"folder,omitempty"`
}

// SortNotes returns a copy of notes ordered by ascending timestamp. Notes
// sharing a timestamp keep their insertion order.
func SortNotes(notes []Note) []Note {
	sorted := slices.Clone(notes)
	if sorted == nil {
		sorted = []Note{}
	}
	slices.SortStableFunc(sorted, func(a, b Note) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	return sorted
}

// IndexOf returns the storage position of the note with the given ID, or -1.
func IndexOf(notes []Note, id string) int {
	return slices.IndexFunc(notes, func(n Note) bool { return n.ID == id })
}
