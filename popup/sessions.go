package popup

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/ViniZap4/ytnotes-server/host"
	"github.com/ViniZap4/ytnotes-server/notes"
)

// Sessions keeps one Controller per popup session. Idle sessions expire
// after ttl.
type Sessions struct {
	cache  *cache.Cache
	svc    *notes.Service
	tabs   host.Tabs
	player host.Player
}

func NewSessions(svc *notes.Service, tabs host.Tabs, player host.Player, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Sessions{
		cache:  cache.New(ttl, 10*time.Minute),
		svc:    svc,
		tabs:   tabs,
		player: player,
	}
}

// Controller returns the controller for id, starting a new session when id
// is empty or unknown. The returned id identifies the session.
func (s *Sessions) Controller(id string) (*Controller, string) {
	// id may alias a request buffer that is reused after the call.
	id = strings.Clone(id)
	if id != "" {
		if x, found := s.cache.Get(id); found {
			ctrl := x.(*Controller)
			s.cache.Set(id, ctrl, cache.DefaultExpiration)
			return ctrl, id
		}
	} else {
		id = uuid.NewString()
	}
	ctrl := NewController(s.svc, s.tabs, s.player)
	s.cache.Set(id, ctrl, cache.DefaultExpiration)
	return ctrl, id
}

// Delete ends the session; a later request with id starts over at Default.
func (s *Sessions) Delete(id string) {
	s.cache.Delete(id)
}

// Len is the number of live sessions.
func (s *Sessions) Len() int {
	return s.cache.ItemCount()
}
