// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics while persisting every commit under serializable
// isolation and an optimistic revision check.
package postgres

import (
	"bloodbank/internal/infra/persistence/memory"
	"bloodbank/pkg/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/bloodbank?sslmode=disable"
)

// SQLSTATE codes Postgres returns when a serializable transaction loses a race.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS state_revision (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		revision BIGINT NOT NULL
	)`,
	`INSERT INTO state_revision(id, revision) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
}

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	// revision is only read or written under the memory store lock.
	revision int64
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It ensures the snapshot tables exist and hydrates the in-memory store.
func NewStore(dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}
	s := &Store{Store: memory.NewStore(engine, opts...), db: db}
	if err := s.Store.Refresh(func() (memory.Snapshot, bool, error) { return s.loadIfStale(ctx, true) }); err != nil {
		return nil, err
	}
	s.Store.SetCommitHook(s.persist)
	return s, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

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
			return memory.Snapshot{}, false, fmt.Errorf("scan state: %w", err)
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

func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) error {
	payloads, err := snapshot.EncodeBuckets()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError(fmt.Errorf("begin tx: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, `UPDATE state_revision SET revision = revision + 1 WHERE id = 1 AND revision = $1`, s.revision)
	if err != nil {
		return mapError(fmt.Errorf("bump revision: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("postgres: revision %d is stale: %w", s.revision, domain.ErrConcurrencyConflict)
	}
	for _, bucket := range memory.Buckets {
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, payloads[bucket]); err != nil {
			return mapError(fmt.Errorf("upsert %s: %w", bucket, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit: %w", err))
	}
	committed = true
	s.revision++
	return nil
}

// mapError reports serialization failures and deadlocks as concurrency conflicts.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %w", domain.ErrConcurrencyConflict, err)
		}
	}
	return err
}

// RunInTransaction catches up with other writers, applies fn and persists the
// result. A lost race reloads the cached state before returning the conflict.
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

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
