package store

import (
	"context"
	"sync"

	"github.com/ViniZap4/ytnotes-server/domain"
)

// MemoryBucket keeps the bucket in process memory. Values are copied on
// the way in and out so callers never share slices with the bucket.
type MemoryBucket struct {
	mu      sync.RWMutex
	notes   map[string][]domain.Note
	folders []string
	version int64
}

func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{}
}

func (b *MemoryBucket) Get(ctx context.Context, keys ...Key) (Snapshot, error) {
	if err := checkKeys(keys); err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := Snapshot{Version: b.version}
	if wants(keys, KeyNotes) {
		snap.Notes = copyNotes(b.notes)
	}
	if wants(keys, KeyFolders) {
		snap.Folders = copyFolders(b.folders)
	}
	return snap, nil
}

func (b *MemoryBucket) Set(ctx context.Context, patch Patch, ifVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if ifVersion != AnyVersion && ifVersion != b.version {
		return b.version, &ConflictError{Expected: ifVersion, Current: b.version}
	}
	if patch.empty() {
		return b.version, nil
	}
	if patch.Notes != nil {
		b.notes = copyNotes(patch.Notes)
	}
	if patch.Folders != nil {
		b.folders = copyFolders(patch.Folders)
	}
	b.version++
	return b.version, nil
}

func (b *MemoryBucket) Close() error {
	return nil
}
