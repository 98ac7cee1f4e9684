package notes

import (
	"context"
	"strconv"
	"time"

	"github.com/ViniZap4/ytnotes-server/domain"
	"github.com/ViniZap4/ytnotes-server/events"
	"github.com/ViniZap4/ytnotes-server/store"
)

// Merge unions incoming into the local store: missing folders are added
// and notes missing by ID are appended. Nothing is ever removed, so a
// delete on one side does not propagate through a merge. It reports
// whether the local store changed.
func (s *Service) Merge(ctx context.Context, incoming *domain.Store) (bool, error) {
	if incoming == nil {
		return false, nil
	}
	in := incoming.Clone()
	in.Repair()

	changed := false
	_, _, err := s.mutate(ctx, "merge", func(st *domain.Store) ([]store.Key, []events.Event, error) {
		changed = false
		for _, folder := range in.Folders {
			if !st.HasFolder(folder) {
				st.Folders = append(st.Folders, folder)
				changed = true
			}
			if _, ok := st.Notes[folder]; !ok {
				st.Notes[folder] = []domain.Note{}
				changed = true
			}

			have := make(map[string]struct{}, len(st.Notes[folder]))
			for _, n := range st.Notes[folder] {
				have[mergeKey(n)] = struct{}{}
			}
			for _, n := range in.Notes[folder] {
				if _, ok := have[mergeKey(n)]; ok {
					continue
				}
				if n.ID == "" {
					n.ID = s.newID()
				}
				st.Notes[folder] = append(st.Notes[folder], n)
				have[mergeKey(n)] = struct{}{}
				changed = true
			}
		}
		if !changed {
			return nil, nil, nil
		}
		return []store.Key{store.KeyNotes, store.KeyFolders},
			[]events.Event{{Type: events.StoreSynced}}, nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.log.Info().Msg("merged store snapshot")
	}
	return changed, nil
}

func mergeKey(n domain.Note) string {
	if n.ID != "" {
		return "id:" + n.ID
	}
	return "legacy:" + strconv.Itoa(n.Timestamp) + "\x00" + n.Description + "\x00" + n.CreatedAt.UTC().Format(time.RFC3339Nano)
}
