package notes

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ViniZap4/ytnotes-server/domain"
	"github.com/ViniZap4/ytnotes-server/events"
	"github.com/ViniZap4/ytnotes-server/store"
)

// ResolveFolder maps an empty folder name to the Default folder.
func ResolveFolder(folder string) string {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return domain.DefaultFolder
	}
	return folder
}

// CreateNote appends a new note to folder. Several notes may share a
// timestamp.
func (s *Service) CreateNote(ctx context.Context, folder, description string, timestamp int) (domain.Note, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return domain.Note{}, domain.ErrEmptyDescription
	}
	if timestamp < 0 {
		return domain.Note{}, domain.ErrInvalidTimestamp
	}

	note := domain.Note{
		ID:          s.newID(),
		Timestamp:   timestamp,
		Description: description,
		CreatedAt:   s.now().UTC(),
	}
	if _, err := s.insert(ctx, "create note", ResolveFolder(folder), note); err != nil {
		return domain.Note{}, err
	}

	s.log.Debug().Str("folder", ResolveFolder(folder)).Str("note_id", note.ID).Int("timestamp", timestamp).Msg("note created")
	return note, nil
}

// ImportNote stores a note built elsewhere (a page-agent save or a peer),
// keeping its ID and creation time. A note whose ID is already present is
// skipped and reported as not inserted.
func (s *Service) ImportNote(ctx context.Context, folder string, note domain.Note) (domain.Note, bool, error) {
	note.Description = strings.TrimSpace(note.Description)
	if note.Description == "" {
		return domain.Note{}, false, domain.ErrEmptyDescription
	}
	if note.Timestamp < 0 {
		return domain.Note{}, false, domain.ErrInvalidTimestamp
	}
	if note.ID == "" {
		note.ID = s.newID()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = s.now().UTC()
	}

	inserted, err := s.insert(ctx, "import note", ResolveFolder(folder), note)
	if err != nil {
		return domain.Note{}, false, err
	}
	return note, inserted, nil
}

func (s *Service) insert(ctx context.Context, op, folder string, note domain.Note) (bool, error) {
	inserted := false
	_, _, err := s.mutate(ctx, op, func(st *domain.Store) ([]store.Key, []events.Event, error) {
		if !st.HasFolder(folder) {
			return nil, nil, fmt.Errorf("%w: %q", domain.ErrFolderNotFound, folder)
		}
		if domain.IndexOf(st.Notes[folder], note.ID) >= 0 {
			inserted = false
			return nil, nil, nil
		}
		st.Notes[folder] = append(st.Notes[folder], note)
		inserted = true
		n := note
		return []store.Key{store.KeyNotes},
			[]events.Event{{Type: events.NoteCreated, Folder: folder, Note: &n}}, nil
	})
	return inserted, err
}

// ListNotes returns the notes of folder ordered by timestamp, ties kept in
// insertion order. An unknown folder lists as empty.
func (s *Service) ListNotes(ctx context.Context, folder string) ([]domain.Note, error) {
	st, _, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return domain.SortNotes(st.Notes[ResolveFolder(folder)]), nil
}

// DeleteNote removes the note with the given ID from folder.
func (s *Service) DeleteNote(ctx context.Context, folder, id string) (domain.Note, error) {
	folder = ResolveFolder(folder)
	return s.remove(ctx, folder, func(list []domain.Note) int {
		return domain.IndexOf(list, id)
	})
}

// DeleteNoteAt removes the note at index in folder's storage order, which
// is not the sorted display order.
func (s *Service) DeleteNoteAt(ctx context.Context, folder string, index int) (domain.Note, error) {
	folder = ResolveFolder(folder)
	return s.remove(ctx, folder, func(list []domain.Note) int {
		if index < 0 || index >= len(list) {
			return -1
		}
		return index
	})
}

func (s *Service) remove(ctx context.Context, folder string, locate func([]domain.Note) int) (domain.Note, error) {
	var removed domain.Note
	_, _, err := s.mutate(ctx, "delete note", func(st *domain.Store) ([]store.Key, []events.Event, error) {
		list, ok := st.Notes[folder]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", domain.ErrFolderNotFound, folder)
		}
		idx := locate(list)
		if idx < 0 {
			return nil, nil, domain.ErrNoteNotFound
		}
		removed = list[idx]
		st.Notes[folder] = slices.Delete(list, idx, idx+1)
		n := removed
		return []store.Key{store.KeyNotes},
			[]events.Event{{Type: events.NoteDeleted, Folder: folder, Note: &n}}, nil
	})
	if err != nil {
		return domain.Note{}, err
	}

	s.log.Debug().Str("folder", folder).Str("note_id", removed.ID).Msg("note deleted")
	return removed, nil
}
