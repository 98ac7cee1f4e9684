package notes

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ViniZap4/ytnotes-server/domain"
	"github.com/ViniZap4/ytnotes-server/events"
	"github.com/ViniZap4/ytnotes-server/store"
)

func (s *Service) Folders(ctx context.Context) ([]string, error) {
	st, _, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return st.Folders, nil
}

// CreateFolder appends name to the folder list with an empty note list and
// returns the stored (trimmed) name.
func (s *Service) CreateFolder(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.ErrEmptyFolderName
	}

	_, _, err := s.mutate(ctx, "create folder", func(st *domain.Store) ([]store.Key, []events.Event, error) {
		if st.HasFolder(name) {
			return nil, nil, fmt.Errorf("%w: %q", domain.ErrFolderExists, name)
		}
		st.Folders = append(st.Folders, name)
		st.Notes[name] = []domain.Note{}
		return []store.Key{store.KeyNotes, store.KeyFolders},
			[]events.Event{{Type: events.FolderCreated, Folder: name}}, nil
	})
	if err != nil {
		return "", err
	}

	s.log.Info().Str("folder", name).Msg("folder created")
	return name, nil
}

// DeleteFolder removes name and discards every note in it.
func (s *Service) DeleteFolder(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == domain.DefaultFolder {
		return domain.ErrDefaultFolderProtected
	}
	if name == "" {
		return domain.ErrEmptyFolderName
	}

	var discarded int
	_, _, err := s.mutate(ctx, "delete folder", func(st *domain.Store) ([]store.Key, []events.Event, error) {
		_, hasNotes := st.Notes[name]
		if !st.HasFolder(name) && !hasNotes {
			return nil, nil, fmt.Errorf("%w: %q", domain.ErrFolderNotFound, name)
		}
		discarded = len(st.Notes[name])
		st.Folders = slices.DeleteFunc(st.Folders, func(f string) bool { return f == name })
		delete(st.Notes, name)
		return []store.Key{store.KeyNotes, store.KeyFolders},
			[]events.Event{{Type: events.FolderDeleted, Folder: name}}, nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("folder", name).Int("discarded_notes", discarded).Msg("folder deleted")
	return nil
}

// EnsureFolder creates name unless it already exists.
func (s *Service) EnsureFolder(ctx context.Context, name string) error {
	_, err := s.CreateFolder(ctx, name)
	if err != nil && !errors.Is(err, domain.ErrFolderExists) {
		return err
	}
	return nil
}
