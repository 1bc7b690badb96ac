package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/rulegraph/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a distinct database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

const runColumns = `id, status, requested_by, roots, steps, started_at, completed_at, duration_ns, labels`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*engine.Run, error) {
	run := &engine.Run{}
	var (
		duration int64
		labels   string
	)
	err := row.Scan(
		&run.ID,
		&run.Status,
		&run.User,
		&run.Roots,
		&run.Steps,
		&run.StartedAt,
		&run.CompletedAt,
		&duration,
		&labels,
	)
	if err != nil {
		return nil, err
	}
	run.Duration = time.Duration(duration)
	if labels != "" && labels != "{}" {
		if err := json.Unmarshal([]byte(labels), &run.Labels); err != nil {
			return nil, fmt.Errorf("failed to decode labels of run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

func encodeLabels(labels map[string]string) (string, error) {
	if len(labels) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("failed to encode labels: %w", err)
	}
	return string(b), nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *engine.Run) error {
	if err := run.Status.Validate(); err != nil {
		return err
	}
	labels, err := encodeLabels(run.Labels)
	if err != nil {
		return err
	}

	query := `INSERT INTO runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.User,
		run.Roots,
		run.Steps,
		run.StartedAt,
		run.CompletedAt,
		int64(run.Duration),
		labels,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// UpdateRun saves the mutable fields of a run.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *engine.Run) error {
	return updateRun(ctx, s.db, run)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateRun(ctx context.Context, db execer, run *engine.Run) error {
	if err := run.Status.Validate(); err != nil {
		return err
	}
	labels, err := encodeLabels(run.Labels)
	if err != nil {
		return err
	}

	query := `
		UPDATE runs
		SET status = ?, steps = ?, completed_at = ?, duration_ns = ?, labels = ?
		WHERE id = ?
	`
	result, err := db.ExecContext(ctx, query,
		run.Status, run.Steps, run.CompletedAt, int64(run.Duration), labels, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}

	return nil
}

// ListRuns lists runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*engine.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, *filter.Status)
	}
	if filter.User != nil {
		query += ` AND requested_by = ?`
		args = append(args, *filter.User)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run and its root results.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// PruneRuns deletes runs started before the given time.
func (s *SQLiteStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

// SaveRootResults stores the root results of a run, replacing earlier ones.
func (s *SQLiteStore) SaveRootResults(ctx context.Context, runID string, results []RootRecord) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveRootResults(ctx, tx, runID, results); err != nil {
		return err
	}
	return tx.Commit()
}

func saveRootResults(ctx context.Context, tx *sql.Tx, runID string, results []RootRecord) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM root_results WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to clear root results: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO root_results (run_id, idx, root, outcome, value, message, trace)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare root result insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, runID, r.Index, r.Root, r.Outcome, r.Value, r.Message, r.Trace); err != nil {
			return fmt.Errorf("failed to save root result %d: %w", r.Index, err)
		}
	}
	return nil
}

// ListRootResults returns the root results of a run in request order.
func (s *SQLiteStore) ListRootResults(ctx context.Context, runID string) ([]*RootRecord, error) {
	query := `
		SELECT run_id, idx, root, outcome, value, message, trace
		FROM root_results
		WHERE run_id = ?
		ORDER BY idx
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list root results: %w", err)
	}
	defer rows.Close()

	records := []*RootRecord{}
	for rows.Next() {
		r := &RootRecord{}
		if err := rows.Scan(&r.RunID, &r.Index, &r.Root, &r.Outcome, &r.Value, &r.Message, &r.Trace); err != nil {
			return nil, fmt.Errorf("failed to scan root result: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating root results: %w", err)
	}

	return records, nil
}

// AppendInvalidation records an invalidation.
func (s *SQLiteStore) AppendInvalidation(ctx context.Context, inv *Invalidation) error {
	if inv.Timestamp.IsZero() {
		inv.Timestamp = time.Now()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO invalidations (reason, removed, created_at) VALUES (?, ?, ?)`,
		inv.Reason, inv.Removed, inv.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append invalidation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get invalidation ID: %w", err)
	}
	inv.ID = id
	return nil
}

// ListInvalidations lists invalidations, newest first.
func (s *SQLiteStore) ListInvalidations(ctx context.Context, limit, offset int) ([]*Invalidation, error) {
	query := `
		SELECT id, reason, removed, created_at
		FROM invalidations
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list invalidations: %w", err)
	}
	defer rows.Close()

	out := []*Invalidation{}
	for rows.Next() {
		inv := &Invalidation{}
		if err := rows.Scan(&inv.ID, &inv.Reason, &inv.Removed, &inv.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan invalidation: %w", err)
		}
		out = append(out, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invalidations: %w", err)
	}

	return out, nil
}

// RecordRunStarted implements engine.RunRecorder.
func (s *SQLiteStore) RecordRunStarted(ctx context.Context, run *engine.Run) error {
	return s.CreateRun(ctx, run)
}

// RecordRunCompleted implements engine.RunRecorder. The run and its root
// results are saved in one transaction.
func (s *SQLiteStore) RecordRunCompleted(ctx context.Context, run *engine.Run, results []engine.RootResult) error {
	records := make([]RootRecord, len(results))
	for i, r := range results {
		records[i] = NewRootRecord(run.ID, i, r)
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := updateRun(ctx, tx, run); err != nil {
		return err
	}
	if err := saveRootResults(ctx, tx, run.ID, records); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordInvalidation implements engine.RunRecorder.
func (s *SQLiteStore) RecordInvalidation(ctx context.Context, reason string, removed int) error {
	return s.AppendInvalidation(ctx, &Invalidation{Reason: reason, Removed: removed})
}

// HealthCheck checks that the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func renderValue(v any) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%+v", v)
}
