package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-kit/log/level"

	storeerrors "github.com/autosteer/autosteer/internal/errors"
)

// OptimizerTable selects one of the fixed optimizer edge sets of a query.
type OptimizerTable int

const (
	// EffectiveOptimizers are optimizers whose rules changed the plan of a query.
	EffectiveOptimizers OptimizerTable = iota
	// RequiredOptimizers are optimizers that must stay enabled for a query.
	RequiredOptimizers
)

func (t OptimizerTable) String() string {
	switch t {
	case RequiredOptimizers:
		return "required"
	case EffectiveOptimizers:
		return "effective"
	default:
		return fmt.Sprintf("OptimizerTable(%d)", int(t))
	}
}

// optimizerTableFor maps the required flag onto an edge set.
func optimizerTableFor(required bool) OptimizerTable {
	if required {
		return RequiredOptimizers
	}
	return EffectiveOptimizers
}

// optimizerStatements holds the pre-written statements per edge set; table
// names never come from caller input.
var optimizerStatements = map[OptimizerTable]struct {
	insert string
	list   string
}{
	RequiredOptimizers: {
		insert: `INSERT INTO query_required_optimizers (query_id, optimizer) VALUES (?, ?)
			ON CONFLICT DO NOTHING`,
		list: `SELECT o.optimizer FROM queries q
			JOIN query_required_optimizers o ON o.query_id = q.id
			WHERE q.query_path = ? AND o.optimizer != ''
			ORDER BY o.optimizer`,
	},
	EffectiveOptimizers: {
		insert: `INSERT INTO query_effective_optimizers (query_id, optimizer) VALUES (?, ?)
			ON CONFLICT DO NOTHING`,
		list: `SELECT o.optimizer FROM queries q
			JOIN query_effective_optimizers o ON o.query_id = q.id
			WHERE q.query_path = ? AND o.optimizer != ''
			ORDER BY o.optimizer`,
	},
}

// OptimizerDependency is an edge between an effective optimizer and an
// optimizer it depends on.
type OptimizerDependency struct {
	Optimizer  string `json:"optimizer"`
	Dependency string `json:"dependency"`
}

// RegisterBenchmark registers a benchmark suite and returns its id. Repeated
// registrations of the same name return the existing id.
func (s *Store) RegisterBenchmark(ctx context.Context, name string) (id int64, err error) {
	defer s.metrics.Observe("register_benchmark", time.Now(), &err)

	if name == "" {
		return 0, storeerrors.NewValidationError(storeerrors.CodeEmptyName, "benchmark name is required")
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO benchmarks (name) VALUES (?) ON CONFLICT DO NOTHING", name,
		); err != nil {
			return fmt.Errorf("results: failed to insert benchmark: %w", err)
		}
		if err := tx.QueryRowContext(ctx, "SELECT id FROM benchmarks WHERE name = ?", name).Scan(&id); err != nil {
			return fmt.Errorf("results: failed to look up benchmark: %w", err)
		}
		return nil
	})
	return id, err
}

// RegisterQuery registers a query file under a benchmark. Registering a known
// path again is a no-op.
func (s *Store) RegisterQuery(ctx context.Context, benchmarkID int64, queryPath string) (err error) {
	defer s.metrics.Observe("register_query", time.Now(), &err)

	if queryPath == "" {
		return storeerrors.NewValidationError(storeerrors.CodeEmptyName, "query path is required")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM benchmarks WHERE id = ?", benchmarkID).Scan(&exists)
		if err == sql.ErrNoRows {
			return storeerrors.NewPrerequisiteError(storeerrors.CodeUnknownBenchmark,
				fmt.Sprintf("benchmark %d is not registered", benchmarkID))
		}
		if err != nil {
			return fmt.Errorf("results: failed to look up benchmark: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO queries (benchmark_id, query_path, result_fingerprint) VALUES (?, ?, NULL)
			ON CONFLICT DO NOTHING`,
			benchmarkID, queryPath,
		)
		if err != nil {
			return fmt.Errorf("results: failed to insert query: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			level.Debug(s.logger).Log("msg", "registered query", "query", queryPath, "benchmark_id", benchmarkID)
		}
		return nil
	})
}

// RegisterOptimizerUsage records that optimizer is required (required=true)
// or effective (required=false) for a query. Each edge is stored once.
func (s *Store) RegisterOptimizerUsage(ctx context.Context, queryPath, optimizer string, required bool) (err error) {
	defer s.metrics.Observe("register_optimizer", time.Now(), &err)

	stmt := optimizerStatements[optimizerTableFor(required)].insert
	return s.withTx(ctx, func(tx *sql.Tx) error {
		qid, err := queryID(ctx, tx, queryPath)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt, qid, optimizer); err != nil {
			return fmt.Errorf("results: failed to insert optimizer: %w", err)
		}
		return nil
	})
}

// RegisterOptimizerDependency records that optimizer depends on dependency for a query.
func (s *Store) RegisterOptimizerDependency(ctx context.Context, queryPath, optimizer, dependency string) (err error) {
	defer s.metrics.Observe("register_optimizer_dependency", time.Now(), &err)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		qid, err := queryID(ctx, tx, queryPath)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO query_effective_optimizers_dependencies (query_id, optimizer, dependent_optimizer)
			VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
			qid, optimizer, dependency,
		); err != nil {
			return fmt.Errorf("results: failed to insert optimizer dependency: %w", err)
		}
		return nil
	})
}

// RequiredOptimizers lists the required optimizers of a query.
func (s *Store) RequiredOptimizers(ctx context.Context, queryPath string) ([]string, error) {
	return s.listOptimizers(ctx, RequiredOptimizers, queryPath)
}

// EffectiveOptimizers lists the effective optimizers of a query.
func (s *Store) EffectiveOptimizers(ctx context.Context, queryPath string) ([]string, error) {
	return s.listOptimizers(ctx, EffectiveOptimizers, queryPath)
}

func (s *Store) listOptimizers(ctx context.Context, table OptimizerTable, queryPath string) ([]string, error) {
	rows, err := s.readDB.QueryContext(ctx, optimizerStatements[table].list, queryPath)
	if err != nil {
		return nil, storeerrors.NewQueryError(storeerrors.CodeExecutionFailed,
			fmt.Sprintf("failed to list %s optimizers", table), err)
	}
	defer rows.Close()

	var optimizers []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("results: failed to scan optimizer: %w", err)
		}
		optimizers = append(optimizers, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("results: error iterating optimizers: %w", err)
	}
	return optimizers, nil
}

// EffectiveOptimizerDependencies lists the optimizer dependency edges of a query.
func (s *Store) EffectiveOptimizerDependencies(ctx context.Context, queryPath string) ([]OptimizerDependency, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT d.optimizer, d.dependent_optimizer FROM queries q
		JOIN query_effective_optimizers_dependencies d ON d.query_id = q.id
		WHERE q.query_path = ? AND d.optimizer != ''
		ORDER BY d.optimizer, d.dependent_optimizer`,
		queryPath,
	)
	if err != nil {
		return nil, storeerrors.NewQueryError(storeerrors.CodeExecutionFailed, "failed to list optimizer dependencies", err)
	}
	defer rows.Close()

	var deps []OptimizerDependency
	for rows.Next() {
		var d OptimizerDependency
		if err := rows.Scan(&d.Optimizer, &d.Dependency); err != nil {
			return nil, fmt.Errorf("results: failed to scan optimizer dependency: %w", err)
		}
		deps = append(deps, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("results: error iterating optimizer dependencies: %w", err)
	}
	return deps, nil
}
