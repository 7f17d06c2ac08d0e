package repository

import (
	"context"
	"database/sql"
	"time"

	"codemate/internal/common/db"
	"codemate/internal/judge/model"
	appErr "codemate/pkg/errors"
)

// SubmissionRepository persists submissions and their verdicts.
type SubmissionRepository interface {
	Create(ctx context.Context, sub *model.Submission) error
	GetByID(ctx context.Context, id string) (model.Submission, error)
	// MarkRunning flips a queued submission to running. Redelivered messages
	// for a submission that already left the queued state are rejected with
	// SubmissionNotFound so the worker can drop them.
	MarkRunning(ctx context.Context, id string) error
	// WriteVerdict records the terminal status. It only applies to
	// submissions still in a non-terminal state, so a verdict is written
	// at most once.
	WriteVerdict(ctx context.Context, id string, verdict model.Verdict) error
	// HasAcceptedBefore reports whether the user already has an accepted
	// submission for the problem, excluding the given submission.
	HasAcceptedBefore(ctx context.Context, userID, problemID int64, excludeID string) (bool, error)
}

type MySQLSubmissionRepository struct {
	db db.Database
}

func NewSubmissionRepository(database db.Database) SubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

func (r *MySQLSubmissionRepository) Create(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.New(appErr.SubmissionCreateFailed)
	}
	if sub.Status == "" {
		sub.Status = model.StatusQueued
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO submission (id, user_id, problem_id, language, source_key, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Exec(ctx, query,
		sub.ID, sub.UserID, sub.ProblemID, sub.LanguageID, sub.SourceKey, sub.Status, sub.CreatedAt)
	if err != nil {
		return appErr.Wrap(err, appErr.SubmissionCreateFailed)
	}
	return nil
}

func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, id string) (model.Submission, error) {
	query := `
		SELECT id, user_id, problem_id, language, source_key, status,
		       execution_time, memory_used_kb, test_cases_passed, total_test_cases,
		       error_message, created_at, finished_at
		FROM submission
		WHERE id = ?`

	var (
		sub        model.Submission
		errMsg     sql.NullString
		finishedAt sql.NullTime
	)
	row := r.db.QueryRow(ctx, query, id)
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.ProblemID, &sub.LanguageID, &sub.SourceKey, &sub.Status,
		&sub.ExecutionTimeSeconds, &sub.MemoryUsedKB, &sub.TestCasesPassed, &sub.TotalTestCases,
		&errMsg, &sub.CreatedAt, &finishedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Submission{}, appErr.Newf(appErr.SubmissionNotFound, "submission %s not found", id)
		}
		return model.Submission{}, appErr.Wrap(err, appErr.DatabaseError)
	}
	if errMsg.Valid {
		sub.ErrorMessage = errMsg.String
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		sub.FinishedAt = &t
	}
	return sub, nil
}

func (r *MySQLSubmissionRepository) MarkRunning(ctx context.Context, id string) error {
	query := `UPDATE submission SET status = ? WHERE id = ? AND status = ?`
	result, err := r.db.Exec(ctx, query, model.StatusRunning, id, model.StatusQueued)
	if err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	if affected == 0 {
		return appErr.Newf(appErr.SubmissionNotFound, "submission %s is not queued", id)
	}
	return nil
}

func (r *MySQLSubmissionRepository) WriteVerdict(ctx context.Context, id string, verdict model.Verdict) error {
	query := `
		UPDATE submission
		SET status = ?, execution_time = ?, memory_used_kb = ?,
		    test_cases_passed = ?, total_test_cases = ?, error_message = ?, finished_at = ?
		WHERE id = ? AND status IN (?, ?)`
	result, err := r.db.Exec(ctx, query,
		verdict.Status, verdict.TimeSeconds, verdict.PeakMemoryKB,
		verdict.PassedTests, verdict.TotalTests, verdict.ErrorMessage, time.Now(),
		id, model.StatusQueued, model.StatusRunning)
	if err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	if affected == 0 {
		return appErr.Newf(appErr.SubmissionNotFound, "submission %s already finalized", id)
	}
	return nil
}

func (r *MySQLSubmissionRepository) HasAcceptedBefore(ctx context.Context, userID, problemID int64, excludeID string) (bool, error) {
	query := `
		SELECT COUNT(1)
		FROM submission
		WHERE user_id = ? AND problem_id = ? AND status = ? AND id <> ?`

	var count int64
	row := r.db.QueryRow(ctx, query, userID, problemID, model.StatusAccepted, excludeID)
	if err := row.Scan(&count); err != nil {
		return false, appErr.Wrap(err, appErr.DatabaseError)
	}
	return count > 0, nil
}
