// store/file.go
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/ViniZap4/ytnotes-server/domain"
)

const lockRetryDelay = 25 * time.Millisecond

// fileDocument is the on-disk layout. Pointer fields distinguish an absent
// key from an empty value.
type fileDocument struct {
	Version int64                     `yaml:"version"`
	Folders *[]string                 `yaml:"folders,omitempty"`
	Notes   *map[string][]domain.Note `yaml:"notes,omitempty"`
}

// FileBucket stores the bucket as a single YAML document. A sidecar lock
// file serializes writers across processes; writes go through a temp file
// and rename so readers never see a partial document.
type FileBucket struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

func NewFileBucket(path string) (*FileBucket, error) {
	if path == "" {
		return nil, fmt.Errorf("file bucket: path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("file bucket: %w", err)
		}
	}
	return &FileBucket{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

func (b *FileBucket) Path() string {
	return b.path
}

func (b *FileBucket) Get(ctx context.Context, keys ...Key) (Snapshot, error) {
	if err := checkKeys(keys); err != nil {
		return Snapshot{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.lock.TryRLockContext(ctx, lockRetryDelay); err != nil {
		return Snapshot{}, fmt.Errorf("file bucket: read lock: %w", err)
	}
	defer b.lock.Unlock()

	doc, err := b.readDocument()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Version: doc.Version}
	if wants(keys, KeyNotes) && doc.Notes != nil {
		snap.Notes = copyNotes(*doc.Notes)
	}
	if wants(keys, KeyFolders) && doc.Folders != nil {
		snap.Folders = copyFolders(*doc.Folders)
	}
	return snap, nil
}

func (b *FileBucket) Set(ctx context.Context, patch Patch, ifVersion int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.lock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return 0, fmt.Errorf("file bucket: write lock: %w", err)
	}
	defer b.lock.Unlock()

	doc, err := b.readDocument()
	if err != nil {
		return 0, err
	}
	if ifVersion != AnyVersion && ifVersion != doc.Version {
		return doc.Version, &ConflictError{Expected: ifVersion, Current: doc.Version}
	}
	if patch.empty() {
		return doc.Version, nil
	}

	if patch.Notes != nil {
		notes := copyNotes(patch.Notes)
		doc.Notes = &notes
	}
	if patch.Folders != nil {
		folders := copyFolders(patch.Folders)
		doc.Folders = &folders
	}
	doc.Version++

	if err := b.writeDocument(doc); err != nil {
		return 0, err
	}
	return doc.Version, nil
}

func (b *FileBucket) Close() error {
	return nil
}

func (b *FileBucket) readDocument() (fileDocument, error) {
	var doc fileDocument
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("file bucket: read %s: %w", b.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("file bucket: parse %s: %w", b.path, err)
	}
	return doc, nil
}

func (b *FileBucket) writeDocument(doc fileDocument) error {
	var buf bytes.Buffer

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("file bucket: encode: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("file bucket: encode: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := writeSynced(tmp, buf.Bytes()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("file bucket: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("file bucket: replace %s: %w", b.path, err)
	}
	return nil
}

// writeSynced writes data to path and flushes it to disk before returning.
func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
