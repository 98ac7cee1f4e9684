// store/postgres.go
package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ViniZap4/ytnotes-server/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the bucket schema to the database at databaseURL.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// migrateURL rewrites a postgres URL to the scheme the pgx/v5 migrate
// driver registers.
func migrateURL(databaseURL string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

// PostgresBucket keeps each key as a JSONB row and the bucket version in a
// single-row meta table locked FOR UPDATE by writers.
type PostgresBucket struct {
	pool *pgxpool.Pool
}

func NewPostgresBucket(ctx context.Context, databaseURL string) (*PostgresBucket, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres bucket: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres bucket: ping: %w", err)
	}
	return &PostgresBucket{pool: pool}, nil
}

func (b *PostgresBucket) Get(ctx context.Context, keys ...Key) (Snapshot, error) {
	if err := checkKeys(keys); err != nil {
		return Snapshot{}, err
	}

	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("postgres bucket: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var snap Snapshot
	err = tx.QueryRow(ctx, `SELECT version FROM bucket_meta WHERE id`).Scan(&snap.Version)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("postgres bucket: read version: %w", err)
	}

	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k)
	}

	rows, err := tx.Query(ctx, `SELECT key, value FROM bucket_entries WHERE key = ANY($1)`, names)
	if err != nil {
		return Snapshot{}, fmt.Errorf("postgres bucket: read entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return Snapshot{}, fmt.Errorf("postgres bucket: scan: %w", err)
		}
		if err := decodeValue(&snap, Key(key), raw); err != nil {
			return Snapshot{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("postgres bucket: read entries: %w", err)
	}
	return snap, nil
}

func (b *PostgresBucket) Set(ctx context.Context, patch Patch, ifVersion int64) (int64, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres bucket: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current int64
	exists := true
	err = tx.QueryRow(ctx, `SELECT version FROM bucket_meta WHERE id FOR UPDATE`).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		exists = false
	} else if err != nil {
		return 0, fmt.Errorf("postgres bucket: lock version: %w", err)
	}

	if ifVersion != AnyVersion && ifVersion != current {
		return current, &ConflictError{Expected: ifVersion, Current: current}
	}
	if patch.empty() {
		return current, nil
	}

	next := current + 1
	if exists {
		_, err = tx.Exec(ctx, `UPDATE bucket_meta SET version = $1 WHERE id`, next)
	} else {
		_, err = tx.Exec(ctx, `INSERT INTO bucket_meta (id, version) VALUES (TRUE, $1)`, next)
	}
	if err != nil {
		// Two first writers raced to create the meta row.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return current, &ConflictError{Expected: ifVersion, Current: current}
		}
		return 0, fmt.Errorf("postgres bucket: write version: %w", err)
	}

	entries, err := encodePatch(patch)
	if err != nil {
		return 0, err
	}
	for key, raw := range entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO bucket_entries (key, value, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			string(key), raw)
		if err != nil {
			return 0, fmt.Errorf("postgres bucket: write %s: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres bucket: commit: %w", err)
	}
	return next, nil
}

func (b *PostgresBucket) Close() error {
	b.pool.Close()
	return nil
}

func encodePatch(patch Patch) (map[Key][]byte, error) {
	out := make(map[Key][]byte, 2)
	if patch.Notes != nil {
		raw, err := json.Marshal(copyNotes(patch.Notes))
		if err != nil {
			return nil, fmt.Errorf("encode notes: %w", err)
		}
		out[KeyNotes] = raw
	}
	if patch.Folders != nil {
		raw, err := json.Marshal(copyFolders(patch.Folders))
		if err != nil {
			return nil, fmt.Errorf("encode folders: %w", err)
		}
		out[KeyFolders] = raw
	}
	return out, nil
}

func decodeValue(snap *Snapshot, key Key, raw []byte) error {
	switch key {
	case KeyNotes:
		notes := map[string][]domain.Note{}
		if err := json.Unmarshal(raw, &notes); err != nil {
			return fmt.Errorf("decode notes: %w", err)
		}
		snap.Notes = copyNotes(notes)
	case KeyFolders:
		folders := []string{}
		if err := json.Unmarshal(raw, &folders); err != nil {
			return fmt.Errorf("decode folders: %w", err)
		}
		snap.Folders = copyFolders(folders)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}
