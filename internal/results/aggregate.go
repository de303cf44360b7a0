package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	storeerrors "github.com/autosteer/autosteer/internal/errors"
)

// MedianRuntime is the median walltime of one (query, configuration, plan) group.
type MedianRuntime struct {
	Path             string          `json:"path"`
	NumDisabledRules int             `json:"num_disabled_rules"`
	DisabledRules    string          `json:"disabled_rules"`
	Plan             json.RawMessage `json:"plan,omitempty"`
	MedianRuntime    float64         `json:"median_runtime"`
}

// AlternativeConfiguration is a non-baseline configuration ranked by the
// runtime it saves against the baseline. Rank 1 is the best alternative.
type AlternativeConfiguration struct {
	Path             string  `json:"path"`
	NumDisabledRules int     `json:"num_disabled_rules"`
	Runtime          float64 `json:"runtime"`
	RuntimeBaseline  float64 `json:"runtime_baseline"`
	Savings          float64 `json:"savings"`
	DisabledRules    string  `json:"disabled_rules"`
	Rank             int     `json:"rank"`
}

// MedianRuntimes returns the median walltime per query, rule set and plan.
func (s *Store) MedianRuntimes(ctx context.Context) ([]MedianRuntime, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT q.query_path, qoc.num_disabled_rules, COALESCE(qoc.disabled_rules, ''), qoc.query_plan,
			median(m.walltime)
		FROM queries q
		JOIN query_optimizer_configs qoc ON q.id = qoc.query_id
		JOIN measurements m ON qoc.id = m.query_optimizer_config_id
		GROUP BY q.query_path, qoc.num_disabled_rules, qoc.disabled_rules, qoc.query_plan
		ORDER BY q.query_path, qoc.num_disabled_rules, qoc.disabled_rules`)
	if err != nil {
		return nil, storeerrors.NewQueryError(storeerrors.CodeExecutionFailed, "failed to compute median runtimes", err)
	}
	defer rows.Close()

	var out []MedianRuntime
	for rows.Next() {
		var r MedianRuntime
		var plan sql.NullString
		if err := rows.Scan(&r.Path, &r.NumDisabledRules, &r.DisabledRules, &plan, &r.MedianRuntime); err != nil {
			return nil, fmt.Errorf("results: failed to scan median runtime: %w", err)
		}
		if plan.Valid {
			r.Plan = json.RawMessage(plan.String)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerrors.NewQueryError(storeerrors.CodeExecutionFailed, "failed to compute median runtimes", err)
	}
	return out, nil
}

// BestAlternativeConfiguration ranks the alternative configurations of every
// query whose path contains benchmarkFilter ("" selects all queries).
func (s *Store) BestAlternativeConfiguration(ctx context.Context, benchmarkFilter string) ([]AlternativeConfiguration, error) {
	rows, err := s.readDB.QueryContext(ctx, bestAlternativeSQL, sql.Named("benchmark", benchmarkFilter))
	if err != nil {
		return nil, storeerrors.NewQueryError(storeerrors.CodeTemplateFailed, "failed to execute best_alternative_queries.sql", err)
	}
	defer rows.Close()

	var out []AlternativeConfiguration
	for rows.Next() {
		var a AlternativeConfiguration
		if err := rows.Scan(&a.Path, &a.NumDisabledRules, &a.Runtime, &a.RuntimeBaseline, &a.Savings, &a.DisabledRules, &a.Rank); err != nil {
			return nil, fmt.Errorf("results: failed to scan alternative configuration: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerrors.NewQueryError(storeerrors.CodeTemplateFailed, "failed to execute best_alternative_queries.sql", err)
	}
	return out, nil
}
