// notes/service.go
package notes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/ytnotes-server/domain"
	"github.com/ViniZap4/ytnotes-server/events"
	"github.com/ViniZap4/ytnotes-server/store"
)

const defaultMaxRetries = 5

// legacyNamespace seeds deterministic IDs for notes stored before notes
// carried identifiers.
var legacyNamespace = uuid.MustParse("6f1c1f0e-3f0a-4c55-9d57-0d1e6a4a7c21")

// Service owns every read-modify-write of the Store. Mutations from this
// process are serialized; mutations from other writers are detected by the
// bucket version and retried.
type Service struct {
	bucket     store.Bucket
	publisher  events.Publisher
	log        zerolog.Logger
	serverID   string
	maxRetries int
	now        func() time.Time
	newID      func() string

	mu sync.Mutex
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l.With().Str("component", "notes").Logger() }
}

func WithServerID(id string) Option {
	return func(s *Service) { s.serverID = id }
}

func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(bucket store.Bucket, opts ...Option) *Service {
	s := &Service{
		bucket:     bucket,
		log:        zerolog.Nop(),
		maxRetries: defaultMaxRetries,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// mutation edits st in place and returns the keys it changed plus the
// events describing the change. Returning no keys means nothing to write.
type mutation func(st *domain.Store) ([]store.Key, []events.Event, error)

type loaded struct {
	store   *domain.Store
	version int64
	absent  bool
	backfed bool
}

func (s *Service) load(ctx context.Context) (loaded, error) {
	snap, err := s.bucket.Get(ctx, store.KeyNotes, store.KeyFolders)
	if err != nil {
		return loaded{}, fmt.Errorf("read store: %w", err)
	}
	if snap.Notes == nil || snap.Folders == nil {
		return loaded{store: domain.NewStore(), version: snap.Version, absent: true}, nil
	}
	st := &domain.Store{Notes: snap.Notes, Folders: snap.Folders}
	return loaded{store: st, version: snap.Version, backfed: backfillIDs(st)}, nil
}

// backfillIDs gives ID-less notes a deterministic identifier derived from
// their folder, position and content, so repeated reads agree on it until
// the next write persists it.
func backfillIDs(st *domain.Store) bool {
	changed := false
	for folder, list := range st.Notes {
		for i := range list {
			if list[i].ID != "" {
				continue
			}
			seed := folder + "\x00" + strconv.Itoa(i) + "\x00" +
				strconv.Itoa(list[i].Timestamp) + "\x00" + list[i].Description + "\x00" +
				list[i].CreatedAt.UTC().Format(time.RFC3339Nano)
			list[i].ID = uuid.NewSHA1(legacyNamespace, []byte(seed)).String()
			changed = true
		}
	}
	return changed
}

func (s *Service) mutate(ctx context.Context, op string, fn mutation) (*domain.Store, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; ; attempt++ {
		cur, err := s.load(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}

		keys, evts, err := fn(cur.store)
		if err != nil {
			return nil, 0, err
		}

		var patch store.Patch
		if cur.absent {
			keys = []store.Key{store.KeyNotes, store.KeyFolders}
		} else if cur.backfed {
			keys = append(keys, store.KeyNotes)
		}
		for _, k := range keys {
			switch k {
			case store.KeyNotes:
				patch.Notes = cur.store.Notes
			case store.KeyFolders:
				patch.Folders = cur.store.Folders
			}
		}
		if patch.Notes == nil && patch.Folders == nil {
			return cur.store, cur.version, nil
		}

		next, err := s.bucket.Set(ctx, patch, cur.version)
		if err == nil {
			if cur.absent {
				s.log.Info().Str("op", op).Msg("initialized store with default folder")
			}
			s.publish(ctx, next, evts)
			return cur.store, next, nil
		}
		if errors.Is(err, store.ErrVersionConflict) && attempt < s.maxRetries {
			s.log.Warn().Str("op", op).Int("attempt", attempt+1).Err(err).Msg("store changed during update, retrying")
			continue
		}
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
}

func (s *Service) publish(ctx context.Context, version int64, evts []events.Event) {
	if s.publisher == nil || len(evts) == 0 {
		return
	}
	origin, ok := events.OriginFrom(ctx)
	if !ok {
		origin = s.serverID
	}
	ctx = context.WithoutCancel(ctx)
	for _, evt := range evts {
		evt.Version = version
		evt.Origin = origin
		evt.OccurredAt = s.now().UTC()
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.log.Warn().Err(err).Str("event", string(evt.Type)).Msg("failed to publish change event")
		}
	}
}

// Initialize writes the default store if either key is absent and returns
// the current contents.
func (s *Service) Initialize(ctx context.Context) (*domain.Store, error) {
	st, _, err := s.mutate(ctx, "initialize", func(*domain.Store) ([]store.Key, []events.Event, error) {
		return nil, nil, nil
	})
	return st, err
}

// Snapshot returns the whole store and its version, initializing it first
// when it has never been written.
func (s *Service) Snapshot(ctx context.Context) (*domain.Store, int64, error) {
	cur, err := s.load(ctx)
	if err != nil {
		return nil, 0, err
	}
	if !cur.absent {
		return cur.store, cur.version, nil
	}
	return s.mutate(ctx, "initialize", func(*domain.Store) ([]store.Key, []events.Event, error) {
		return nil, nil, nil
	})
}
