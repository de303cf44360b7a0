package results

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-kit/log/level"

	storeerrors "github.com/autosteer/autosteer/internal/errors"
)

// DefaultTrainingRatio is the share of queries placed in the training set.
const DefaultTrainingRatio = 0.8

// ExperienceRow is one labeled example: the plan and rule set of a
// configuration (features) and its median walltime (label).
type ExperienceRow struct {
	QueryPath        string          `json:"query_path"`
	QueryID          int64           `json:"query_id"`
	ConfigID         int64           `json:"config_id"`
	DisabledRules    string          `json:"disabled_rules"`
	NumDisabledRules int             `json:"num_disabled_rules"`
	Plan             json.RawMessage `json:"plan"`
	Walltime         float64         `json:"walltime"`
}

// ExperienceSplit partitions experience by query: every configuration of a
// query lands in the same set.
type ExperienceSplit struct {
	Train         []ExperienceRow `json:"train"`
	Test          []ExperienceRow `json:"test"`
	TrainQueryIDs []int64         `json:"train_query_ids"`
	TestQueryIDs  []int64         `json:"test_query_ids"`
}

const experienceSQL = `
	SELECT q.query_path, q.id, qoc.id, COALESCE(qoc.disabled_rules, ''), qoc.num_disabled_rules,
		qoc.query_plan, median(m.walltime)
	FROM measurements m
	JOIN query_optimizer_configs qoc ON m.query_optimizer_config_id = qoc.id
	JOIN queries q ON q.id = qoc.query_id
	WHERE qoc.query_plan IS NOT NULL
		AND instr(q.query_path, ?) > 0
	GROUP BY q.query_path, q.id, qoc.id, qoc.disabled_rules, qoc.num_disabled_rules, qoc.query_plan
	ORDER BY q.id, qoc.id`

// Experience loads one median-walltime row per configuration with a plan,
// restricted to query paths containing benchmarkFilter, and splits the
// queries at random: floor(trainingRatio * #queries) go to training.
func (s *Store) Experience(ctx context.Context, benchmarkFilter string, trainingRatio float64) (split *ExperienceSplit, err error) {
	defer s.metrics.Observe("experience", time.Now(), &err)

	if math.IsNaN(trainingRatio) || trainingRatio < 0 || trainingRatio > 1 {
		return nil, storeerrors.NewValidationError(storeerrors.CodeInvalidRatio,
			fmt.Sprintf("training ratio must be between 0 and 1, got %v", trainingRatio))
	}

	rows, err := s.experienceRows(ctx, benchmarkFilter)
	if err != nil {
		return nil, err
	}

	s.randMu.Lock()
	split = splitByQuery(rows, trainingRatio, s.rand.Shuffle)
	s.randMu.Unlock()

	level.Info(s.logger).Log("msg", "extracted experience", "benchmark", benchmarkFilter,
		"train_queries", len(split.TrainQueryIDs), "test_queries", len(split.TestQueryIDs),
		"train_rows", len(split.Train), "test_rows", len(split.Test))
	return split, nil
}

func (s *Store) experienceRows(ctx context.Context, benchmarkFilter string) ([]ExperienceRow, error) {
	rows, err := s.readDB.QueryContext(ctx, experienceSQL, benchmarkFilter)
	if err != nil {
		return nil, storeerrors.NewQueryError(storeerrors.CodeExecutionFailed, "failed to load experience", err)
	}
	defer rows.Close()

	var out []ExperienceRow
	for rows.Next() {
		var r ExperienceRow
		var plan string
		if err := rows.Scan(&r.QueryPath, &r.QueryID, &r.ConfigID, &r.DisabledRules, &r.NumDisabledRules, &plan, &r.Walltime); err != nil {
			return nil, fmt.Errorf("results: failed to scan experience row: %w", err)
		}
		r.Plan = json.RawMessage(plan)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerrors.NewQueryError(storeerrors.CodeExecutionFailed, "failed to load experience", err)
	}
	return out, nil
}

// splitByQuery groups rows by query id, shuffles the distinct ids with
// shuffle and cuts them at floor(ratio * n). Row order inside a group is kept.
func splitByQuery(rows []ExperienceRow, ratio float64, shuffle func(n int, swap func(i, j int))) *ExperienceSplit {
	groups := make(map[int64][]ExperienceRow)
	var ids []int64
	for _, r := range rows {
		if _, ok := groups[r.QueryID]; !ok {
			ids = append(ids, r.QueryID)
		}
		groups[r.QueryID] = append(groups[r.QueryID], r)
	}

	shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	cut := int(math.Floor(float64(len(ids)) * ratio))

	split := &ExperienceSplit{
		Train:         []ExperienceRow{},
		Test:          []ExperienceRow{},
		TrainQueryIDs: append([]int64{}, ids[:cut]...),
		TestQueryIDs:  append([]int64{}, ids[cut:]...),
	}
	for _, id := range split.TrainQueryIDs {
		split.Train = append(split.Train, groups[id]...)
	}
	for _, id := range split.TestQueryIDs {
		split.Test = append(split.Test, groups[id]...)
	}
	return split
}
