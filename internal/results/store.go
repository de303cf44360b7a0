package results

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	storeerrors "github.com/autosteer/autosteer/internal/errors"
	"github.com/autosteer/autosteer/internal/observability"
)

// ExtensionHint is the operator-facing message for a missing median extension.
const ExtensionHint = "please, first download the required sqlite3 extension using sqlean-extensions/download.sh"

// Options configures a Store.
type Options struct {
	// Path is the SQLite file; it is created if absent.
	Path string

	// ExtensionPath optionally names a loadable extension that provides median.
	ExtensionPath string

	// SchemaFile overrides the embedded DDL script.
	SchemaFile string

	// Machine is recorded with every measurement; defaults to the hostname.
	Machine string

	// Seed fixes the experience shuffle; 0 seeds from the clock.
	Seed uint64

	Logger     log.Logger
	Registerer prometheus.Registerer

	// Now is the measurement clock; defaults to time.Now.
	Now func() time.Time
}

// Store is a handle to one result database. It is safe for concurrent use.
type Store struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read pool for lookups and aggregations
	path   string
	mu     sync.Mutex // Write-only lock

	logger  log.Logger
	metrics *observability.StoreMetrics
	machine string
	now     func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand
}

// Open opens the result database at opts.Path, applies the schema and makes
// the median aggregate available. Every error returned here is a CONFIG
// error and must be treated as fatal.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, storeerrors.NewConfigError(storeerrors.CodeDatabaseUnreachable, "database path is required", nil)
	}
	if opts.ExtensionPath != "" {
		if _, err := os.Stat(opts.ExtensionPath); err != nil {
			return nil, storeerrors.NewConfigError(storeerrors.CodeExtensionMissing, ExtensionHint, err).
				WithDetails(map[string]interface{}{"extension_path": opts.ExtensionPath})
		}
	}

	script, err := loadSchema(opts.SchemaFile)
	if err != nil {
		return nil, storeerrors.NewConfigError(storeerrors.CodeSchemaFailed, "failed to load schema", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.With(logger, "component", "results", "db", opts.Path)

	machine := opts.Machine
	if machine == "" {
		if machine, err = os.Hostname(); err != nil {
			machine = "unknown"
		}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	driver := driverName(opts.ExtensionPath)

	// Write connection: single writer, immediate transactions so concurrent
	// drivers wait on the busy timeout instead of failing lock upgrades.
	db, err := sql.Open(driver, "file:"+opts.Path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1&_txlock=immediate")
	if err != nil {
		return nil, storeerrors.NewConfigError(storeerrors.CodeDatabaseUnreachable, "failed to open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storeerrors.NewConfigError(storeerrors.CodeDatabaseUnreachable, "failed to connect to database", err)
	}

	s := &Store{
		db:      db,
		path:    opts.Path,
		logger:  logger,
		metrics: observability.NewStoreMetrics(opts.Registerer),
		machine: machine,
		now:     now,
		rand:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}

	if err := s.initSchema(ctx, script); err != nil {
		db.Close()
		return nil, err
	}

	// Read pool: concurrent readers
	readDB, err := sql.Open(driver, "file:"+opts.Path+"?_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, storeerrors.NewConfigError(storeerrors.CodeDatabaseUnreachable, "failed to open read database", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	// The connect hook runs here, so a broken median surfaces at open time.
	var probe sql.NullFloat64
	if err := readDB.QueryRowContext(ctx, "SELECT median(a) FROM (SELECT 1 AS a)").Scan(&probe); err != nil {
		readDB.Close()
		db.Close()
		return nil, storeerrors.NewConfigError(storeerrors.CodeExtensionMissing, "median aggregate is not available", err)
	}
	s.readDB = readDB

	level.Debug(logger).Log("msg", "opened result store", "machine", machine)
	return s, nil
}

// initSchema applies the DDL script one statement at a time.
func (s *Store) initSchema(ctx context.Context, script string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range splitStatements(script) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if isAlreadyExists(err) {
				level.Debug(s.logger).Log("msg", "schema object already exists", "err", err)
				continue
			}
			return storeerrors.NewConfigError(storeerrors.CodeSchemaFailed, "failed to execute schema statement", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes both connection pools.
func (s *Store) Close() error {
	readErr := s.readDB.Close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("results: failed to close database: %w", err)
	}
	if readErr != nil {
		return fmt.Errorf("results: failed to close read database: %w", readErr)
	}
	return nil
}

// Snapshot writes a consistent copy of the database to dest, which must not exist.
func (s *Store) Snapshot(ctx context.Context, dest string) (err error) {
	defer s.metrics.Observe("snapshot", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return storeerrors.NewQueryError(storeerrors.CodeExecutionFailed, "failed to snapshot database", err)
	}
	return nil
}

// withTx runs fn in one write transaction under the writer lock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("results: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("results: failed to commit transaction: %w", err)
	}
	return nil
}

// queryID resolves a registered query path.
func queryID(ctx context.Context, tx *sql.Tx, queryPath string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, "SELECT id FROM queries WHERE query_path = ?", queryPath).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, storeerrors.NewPrerequisiteError(storeerrors.CodeUnknownQuery,
			fmt.Sprintf("query %q is not registered", queryPath))
	}
	if err != nil {
		return 0, fmt.Errorf("results: failed to look up query: %w", err)
	}
	return id, nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
