package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"codemate/internal/common/cache"
	"codemate/internal/common/db"
	"codemate/internal/judge/model"
	appErr "codemate/pkg/errors"
)

const (
	defaultProblemTTL      = 30 * time.Minute
	defaultProblemEmptyTTL = 5 * time.Minute
	problemKeyPrefix       = "judge:problem:"

	// SampleCaseLimit caps how many visible cases a sample run executes.
	SampleCaseLimit = 3
)

// ProblemRepository loads judging limits and test data for problems.
type ProblemRepository interface {
	GetProblem(ctx context.Context, problemID int64) (model.Problem, error)
	// GetTestCases returns every case for the problem ordered by OrderIndex.
	GetTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error)
	// GetSampleTestCases returns the first SampleCaseLimit visible cases.
	GetSampleTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error)
}

type MySQLProblemRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewProblemRepository(database db.Database, cacheClient cache.Cache) ProblemRepository {
	return &MySQLProblemRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultProblemTTL,
		emptyTTL: defaultProblemEmptyTTL,
	}
}

func (r *MySQLProblemRepository) GetProblem(ctx context.Context, problemID int64) (model.Problem, error) {
	if r.cache != nil {
		problem, err := cache.GetWithCached[model.Problem](
			ctx,
			r.cache,
			problemKey(problemID),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(p model.Problem) bool { return p.ID == 0 },
			marshalProblem,
			unmarshalProblem,
			func(ctx context.Context) (model.Problem, error) {
				p, err := r.getProblemFromDB(ctx, problemID)
				if err != nil {
					if appErr.Is(err, appErr.ProblemNotFound) {
						return model.Problem{}, nil
					}
					return model.Problem{}, err
				}
				return p, nil
			},
		)
		if err != nil {
			return model.Problem{}, err
		}
		if problem.ID == 0 {
			return model.Problem{}, appErr.Newf(appErr.ProblemNotFound, "problem %d not found", problemID)
		}
		return problem, nil
	}
	return r.getProblemFromDB(ctx, problemID)
}

func (r *MySQLProblemRepository) getProblemFromDB(ctx context.Context, problemID int64) (model.Problem, error) {
	query := `
		SELECT id, time_limit_seconds, memory_limit_mb, coin_reward, xp_reward
		FROM problem
		WHERE id = ?`

	var p model.Problem
	row := r.db.QueryRow(ctx, query, problemID)
	err := row.Scan(&p.ID, &p.TimeLimitSeconds, &p.MemoryLimitMB, &p.CoinReward, &p.XPReward)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Problem{}, appErr.Newf(appErr.ProblemNotFound, "problem %d not found", problemID)
		}
		return model.Problem{}, appErr.Wrap(err, appErr.DatabaseError)
	}
	if p.CoinReward == 0 {
		p.CoinReward = model.DefaultCoinReward
	}
	if p.XPReward == 0 {
		p.XPReward = model.DefaultXPReward
	}
	return p, nil
}

func (r *MySQLProblemRepository) GetTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	query := `
		SELECT id, problem_id, order_index, input, expected_output, is_hidden,
		       time_limit_seconds, memory_limit_mb
		FROM test_case
		WHERE problem_id = ?
		ORDER BY order_index ASC`

	return r.queryTestCases(ctx, query, problemID)
}

func (r *MySQLProblemRepository) GetSampleTestCases(ctx context.Context, problemID int64) ([]model.TestCase, error) {
	query := `
		SELECT id, problem_id, order_index, input, expected_output, is_hidden,
		       time_limit_seconds, memory_limit_mb
		FROM test_case
		WHERE problem_id = ? AND is_hidden = 0
		ORDER BY order_index ASC
		LIMIT ?`

	return r.queryTestCases(ctx, query, problemID, SampleCaseLimit)
}

func (r *MySQLProblemRepository) queryTestCases(ctx context.Context, query string, args ...interface{}) ([]model.TestCase, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	defer rows.Close()

	var cases []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(
			&tc.ID, &tc.ProblemID, &tc.OrderIndex, &tc.Input, &tc.ExpectedOutput,
			&tc.IsHidden, &tc.TimeLimitSeconds, &tc.MemoryLimitMB,
		); err != nil {
			return nil, appErr.Wrap(err, appErr.DatabaseError)
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	return cases, nil
}

func problemKey(problemID int64) string {
	return problemKeyPrefix + strconv.FormatInt(problemID, 10)
}

func marshalProblem(p model.Problem) string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalProblem(data string) (model.Problem, error) {
	var p model.Problem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return model.Problem{}, err
	}
	return p, nil
}
