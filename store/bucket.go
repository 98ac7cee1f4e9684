// store/bucket.go
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ViniZap4/ytnotes-server/domain"
)

// Key names a top-level value in the bucket.
type Key string

const (
	KeyNotes   Key = "notes"
	KeyFolders Key = "folders"
)

// AnyVersion disables the version precondition on Set.
const AnyVersion int64 = -1

var (
	ErrVersionConflict = errors.New("store version conflict")
	ErrUnknownKey      = errors.New("unknown store key")
)

type ConflictError struct {
	Expected int64
	Current  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store version conflict: expected %d, current %d", e.Expected, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// Snapshot is a partial read. Keys that were not requested or are absent
// from the bucket are nil. Version is bucket-wide; 0 means never written.
type Snapshot struct {
	Notes   map[string][]domain.Note
	Folders []string
	Version int64
}

// Patch replaces the whole value of every non-nil key.
type Patch struct {
	Notes   map[string][]domain.Note
	Folders []string
}

func (p Patch) empty() bool {
	return p.Notes == nil && p.Folders == nil
}

// Bucket is the persistent key-value store shared by every component.
// Get and Set operate on whole values; Set is atomic across the keys it
// carries and durable once it returns.
type Bucket interface {
	Get(ctx context.Context, keys ...Key) (Snapshot, error)
	// Set writes patch if the bucket is still at ifVersion (or ifVersion is
	// AnyVersion) and returns the new version.
	Set(ctx context.Context, patch Patch, ifVersion int64) (int64, error)
	Close() error
}

func checkKeys(keys []Key) error {
	for _, k := range keys {
		if k != KeyNotes && k != KeyFolders {
			return fmt.Errorf("%w: %q", ErrUnknownKey, k)
		}
	}
	return nil
}

func wants(keys []Key, k Key) bool {
	return slices.Contains(keys, k)
}

func copyNotes(in map[string][]domain.Note) map[string][]domain.Note {
	if in == nil {
		return nil
	}
	out := make(map[string][]domain.Note, len(in))
	for name, list := range in {
		cloned := slices.Clone(list)
		if cloned == nil {
			cloned = []domain.Note{}
		}
		out[name] = cloned
	}
	return out
}

func copyFolders(in []string) []string {
	if in == nil {
		return nil
	}
	out := slices.Clone(in)
	if out == nil {
		out = []string{}
	}
	return out
}
