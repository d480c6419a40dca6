// Package sqlite persists the in-memory blood bank state to a SQLite database
// as JSON buckets, guarded by an optimistic revision counter so several
// processes can share one database file.
package sqlite

import (
	"bloodbank/internal/infra/persistence/memory"
	"bloodbank/pkg/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "bloodbank.db"

// Store persists the in-memory state to SQLite after every successful transaction.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
	// revision is only read or written under the memory store lock.
	revision int64
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	ctx := context.Background()
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{Store: memory.NewStore(engine, opts...), db: db, path: path}
	if err := s.Store.Refresh(func() (memory.Snapshot, bool, error) { return s.loadIfStale(ctx, true) }); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.Store.SetCommitHook(s.persist)
	return s, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS state (
			bucket TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS state_revision (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			revision INTEGER NOT NULL
		)`,
		`INSERT INTO state_revision(id, revision) VALUES (1, 0) ON CONFLICT(id) DO NOTHING`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// loadIfStale reads the stored revision and, when it differs from the cached
// one (or force is set), the full snapshot. Runs under the memory store lock.
func (s *Store) loadIfStale(ctx context.Context, force bool) (memory.Snapshot, bool, error) {
	var revision int64
	if err := s.db.QueryRowContext(ctx, `SELECT revision FROM state_revision WHERE id = 1`).Scan(&revision); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("select revision: %w", err)
	}
	if !force && revision == s.revision {
		return memory.Snapshot{}, false, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var snapshot memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("scan: %w", err)
		}
		if err := snapshot.DecodeBucket(bucket, payload); err != nil {
			return memory.Snapshot{}, false, err
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("iterate state: %w", err)
	}
	if err := snapshot.Verify(); err != nil {
		return memory.Snapshot{}, false, err
	}
	s.revision = revision
	return snapshot, true, nil
}

// persist writes the pending snapshot and bumps the revision in one SQLite
// transaction. A revision mismatch means another writer committed first.
func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) (retErr error) {
	payloads, err := snapshot.EncodeBuckets()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, `UPDATE state_revision SET revision = revision + 1 WHERE id = 1 AND revision = ?`, s.revision)
	if err != nil {
		return mapError(fmt.Errorf("bump revision: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sqlite: revision %d is stale: %w", s.revision, domain.ErrConcurrencyConflict)
	}
	for _, bucket := range memory.Buckets {
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, payloads[bucket]); err != nil {
			return mapError(fmt.Errorf("upsert %s: %w", bucket, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit: %w", err))
	}
	s.revision++
	return nil
}

// mapError reports lock contention as a concurrency conflict.
func mapError(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_BUSY {
		return fmt.Errorf("%w: %w", domain.ErrConcurrencyConflict, err)
	}
	return err
}

// RunInTransaction catches up with writes from other processes, applies fn and
// persists the result. On a lost race the cached state is reloaded before the
// conflict is returned, so a retry starts from the latest committed state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	if err := s.Store.Refresh(func() (memory.Snapshot, bool, error) { return s.loadIfStale(ctx, false) }); err != nil {
		return domain.Result{}, err
	}
	res, err := s.Store.RunInTransaction(ctx, fn)
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		if rErr := s.Store.Refresh(func() (memory.Snapshot, bool, error) { return s.loadIfStale(ctx, false) }); rErr != nil {
			return res, errors.Join(err, rErr)
		}
	}
	return res, err
}

// View refreshes from the database before reading.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	if err := s.Store.Refresh(func() (memory.Snapshot, bool, error) { return s.loadIfStale(ctx, false) }); err != nil {
		return err
	}
	return s.Store.View(ctx, fn)
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
