// events/event.go
package events

import (
	"context"
	"errors"
	"time"

	"github.com/ViniZap4/ytnotes-server/domain"
)

type Type string

const (
	FolderCreated Type = "folder_created"
	FolderDeleted Type = "folder_deleted"
	NoteCreated   Type = "note_created"
	NoteDeleted   Type = "note_deleted"
	// StoreSynced carries a full snapshot when pushed to peers and no
	// snapshot when it only announces a local merge.
	StoreSynced Type = "store_synced"
)

// Event describes one committed Store mutation.
type Event struct {
	Type       Type          `json:"type"`
	Folder     string        `json:"folder,omitempty"`
	Note       *domain.Note  `json:"note,omitempty"`
	Snapshot   *domain.Store `json:"snapshot,omitempty"`
	Version    int64         `json:"version"`
	Origin     string        `json:"origin,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Fanout delivers each event to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type PublisherFunc func(ctx context.Context, evt Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

type originKey struct{}

// WithOrigin marks mutations made under ctx as originating from serverID,
// so replicated changes are not echoed back to the peer they came from.
func WithOrigin(ctx context.Context, serverID string) context.Context {
	return context.WithValue(ctx, originKey{}, serverID)
}

func OriginFrom(ctx context.Context) (string, bool) {
	origin, ok := ctx.Value(originKey{}).(string)
	return origin, ok && origin != ""
}
