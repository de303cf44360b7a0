package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-kit/log/level"

	storeerrors "github.com/autosteer/autosteer/internal/errors"
)

// Measurement is one timed execution of a query under a configuration.
type Measurement struct {
	ID              int64     `json:"id"`
	ConfigID        int64     `json:"config_id"`
	Walltime        float64   `json:"walltime"`
	Machine         string    `json:"machine"`
	Time            time.Time `json:"time"`
	InputDataSize   int64     `json:"input_data_size"`
	NumComputeNodes int       `json:"num_compute_nodes"`
}

// QueryConfig is a stored optimizer configuration of a query.
type QueryConfig struct {
	ID               int64           `json:"id"`
	QueryID          int64           `json:"query_id"`
	DisabledRules    string          `json:"disabled_rules"`
	NumDisabledRules int             `json:"num_disabled_rules"`
	Plan             json.RawMessage `json:"plan,omitempty"`
	Hash             string          `json:"hash"`
	DuplicatedPlan   bool            `json:"duplicated_plan"`
}

const (
	countDuplicatePlansSQL = `
		SELECT COUNT(*) FROM query_optimizer_configs
		WHERE query_id = ? AND hash = ? AND COALESCE(disabled_rules, '') != ?`

	insertConfigSQL = `
		INSERT INTO query_optimizer_configs
			(query_id, disabled_rules, query_plan, num_disabled_rules, hash, duplicated_plan)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`

	selectConfigIDSQL = `
		SELECT qoc.id FROM query_optimizer_configs qoc
		JOIN queries q ON q.id = qoc.query_id
		WHERE q.query_path = ? AND COALESCE(qoc.disabled_rules, '') = ?`
)

// RegisterQueryConfig stores the configuration reached by disabling
// disabledRules (comma-joined, in any order; "" for the baseline) and
// reports whether its plan duplicates a configuration with a different rule
// set. Registering an existing (query, rules) pair is a no-op, but the
// duplicate check still runs and its result is returned.
func (s *Store) RegisterQueryConfig(ctx context.Context, queryPath, disabledRules string, plan json.RawMessage, planHash string) (duplicate bool, err error) {
	defer s.metrics.Observe("register_query_config", time.Now(), &err)
	disabledRules = CanonicalRules(disabledRules)

	var planValue interface{}
	if plan != nil {
		if !json.Valid(plan) {
			return false, storeerrors.NewValidationError(storeerrors.CodeInvalidPlan,
				fmt.Sprintf("plan of %q with disabled rules [%s] is not valid JSON", queryPath, disabledRules))
		}
		planValue = string(plan)
	}
	numDisabledRules := CountRules(disabledRules)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		qid, err := queryID(ctx, tx, queryPath)
		if err != nil {
			return err
		}

		var n int
		if err := tx.QueryRowContext(ctx, countDuplicatePlansSQL, qid, nullable(planHash), disabledRules).Scan(&n); err != nil {
			return fmt.Errorf("results: failed to check for duplicated plans: %w", err)
		}
		duplicate = n > 0

		res, err := tx.ExecContext(ctx, insertConfigSQL,
			qid, nullable(disabledRules), planValue, numDisabledRules, nullable(planHash), duplicate,
		)
		if err != nil {
			return fmt.Errorf("results: failed to insert query configuration: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			level.Debug(s.logger).Log("msg", "query configuration already registered", "query", queryPath, "disabled_rules", disabledRules)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if duplicate {
		s.metrics.DuplicatePlan()
		level.Debug(s.logger).Log("msg", "configuration yields a known plan", "query", queryPath, "disabled_rules", disabledRules, "hash", planHash)
	}
	return duplicate, nil
}

// QueryConfigs lists the stored configurations of a query ordered by id.
func (s *Store) QueryConfigs(ctx context.Context, queryPath string) ([]QueryConfig, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT qoc.id, qoc.query_id, COALESCE(qoc.disabled_rules, ''), qoc.num_disabled_rules,
			qoc.query_plan, COALESCE(qoc.hash, ''), qoc.duplicated_plan
		FROM query_optimizer_configs qoc
		JOIN queries q ON q.id = qoc.query_id
		WHERE q.query_path = ?
		ORDER BY qoc.id`, queryPath)
	if err != nil {
		return nil, storeerrors.NewQueryError(storeerrors.CodeExecutionFailed, "failed to list query configurations", err)
	}
	defer rows.Close()

	var configs []QueryConfig
	for rows.Next() {
		var c QueryConfig
		var plan sql.NullString
		if err := rows.Scan(&c.ID, &c.QueryID, &c.DisabledRules, &c.NumDisabledRules, &plan, &c.Hash, &c.DuplicatedPlan); err != nil {
			return nil, fmt.Errorf("results: failed to scan query configuration: %w", err)
		}
		if plan.Valid {
			c.Plan = json.RawMessage(plan.String)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("results: error iterating query configurations: %w", err)
	}
	return configs, nil
}

// HasExistingMeasurements reports whether at least one measurement exists for
// the exact query and rule set.
func (s *Store) HasExistingMeasurements(ctx context.Context, queryPath, disabledRules string) (bool, error) {
	disabledRules = CanonicalRules(disabledRules)
	var n int
	err := s.readDB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM measurements m
		JOIN query_optimizer_configs qoc ON m.query_optimizer_config_id = qoc.id
		JOIN queries q ON qoc.query_id = q.id
		WHERE q.query_path = ? AND COALESCE(qoc.disabled_rules, '') = ?`,
		queryPath, disabledRules,
	).Scan(&n)
	if err != nil {
		return false, storeerrors.NewQueryError(storeerrors.CodeExecutionFailed, "failed to count measurements", err)
	}
	return n > 0, nil
}

// RegisterMeasurement appends a measurement to the configuration matching
// (queryPath, disabledRules). The configuration must be registered first.
func (s *Store) RegisterMeasurement(ctx context.Context, queryPath, disabledRules string, walltime float64, inputDataSize int64, numNodes int) (err error) {
	defer s.metrics.Observe("register_measurement", time.Now(), &err)
	disabledRules = CanonicalRules(disabledRules)

	level.Info(s.logger).Log("msg", "serialize a new measurement", "query", queryPath, "disabled_rules", disabledRules, "walltime", walltime)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var configID int64
		err := tx.QueryRowContext(ctx, selectConfigIDSQL, queryPath, disabledRules).Scan(&configID)
		if err == sql.ErrNoRows {
			return storeerrors.NewPrerequisiteError(storeerrors.CodeNoMatchingConfig,
				fmt.Sprintf("no configuration registered for %q with disabled rules [%s]", queryPath, disabledRules)).
				WithDetails(map[string]interface{}{"query": queryPath, "disabled_rules": disabledRules})
		}
		if err != nil {
			return fmt.Errorf("results: failed to look up query configuration: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO measurements
				(query_optimizer_config_id, walltime, machine, time, input_data_size, num_compute_nodes)
			VALUES (?, ?, ?, ?, ?, ?)`,
			configID, walltime, s.machine, s.now().UTC().Format(time.RFC3339Nano), inputDataSize, numNodes,
		); err != nil {
			return fmt.Errorf("results: failed to insert measurement: %w", err)
		}
		return nil
	})
	if err != nil {
		level.Warn(s.logger).Log("msg", "measurement not stored", "query", queryPath, "disabled_rules", disabledRules, "err", err)
		return err
	}

	s.metrics.Measurement()
	return nil
}

// Measurements lists the measurements of one configuration ordered by id.
func (s *Store) Measurements(ctx context.Context, queryPath, disabledRules string) ([]Measurement, error) {
	disabledRules = CanonicalRules(disabledRules)
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT m.id, m.query_optimizer_config_id, m.walltime, COALESCE(m.machine, ''), m.time,
			COALESCE(m.input_data_size, 0), COALESCE(m.num_compute_nodes, 0)
		FROM measurements m
		JOIN query_optimizer_configs qoc ON m.query_optimizer_config_id = qoc.id
		JOIN queries q ON qoc.query_id = q.id
		WHERE q.query_path = ? AND COALESCE(qoc.disabled_rules, '') = ?
		ORDER BY m.id`,
		queryPath, disabledRules,
	)
	if err != nil {
		return nil, storeerrors.NewQueryError(storeerrors.CodeExecutionFailed, "failed to list measurements", err)
	}
	defer rows.Close()

	var out []Measurement
	for rows.Next() {
		var m Measurement
		var at string
		if err := rows.Scan(&m.ID, &m.ConfigID, &m.Walltime, &m.Machine, &at, &m.InputDataSize, &m.NumComputeNodes); err != nil {
			return nil, fmt.Errorf("results: failed to scan measurement: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			m.Time = t
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("results: error iterating measurements: %w", err)
	}
	return out, nil
}
