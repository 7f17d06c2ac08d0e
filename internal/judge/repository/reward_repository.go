package repository

import (
	"context"

	"codemate/internal/common/db"
	appErr "codemate/pkg/errors"
)

const coinTxReasonFirstAccept = "first_acceptance"

// RewardRepository grants the one-time reward for a user's first accepted
// solution to a problem.
type RewardRepository interface {
	// GrantFirstAcceptance awards coins and XP atomically. The grant is
	// keyed on (user, problem); a second call for the same pair is a no-op
	// returning false.
	GrantFirstAcceptance(ctx context.Context, userID, problemID int64, submissionID string, coins, xp int64) (bool, error)
}

type MySQLRewardRepository struct {
	db db.Database
}

func NewRewardRepository(database db.Database) RewardRepository {
	return &MySQLRewardRepository{db: database}
}

func (r *MySQLRewardRepository) GrantFirstAcceptance(ctx context.Context, userID, problemID int64, submissionID string, coins, xp int64) (bool, error) {
	granted := false
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		// The unique key on (user_id, problem_id) makes the grant
		// idempotent under concurrent accepted submissions.
		_, err := tx.Exec(ctx,
			`INSERT INTO problem_first_acceptance (user_id, problem_id, submission_id) VALUES (?, ?, ?)`,
			userID, problemID, submissionID)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return nil
			}
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE user SET coins = coins + ?, xp = xp + ? WHERE id = ?`,
			coins, xp, userID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO coin_transaction (user_id, amount, reason, submission_id) VALUES (?, ?, ?, ?)`,
			userID, coins, coinTxReasonFirstAccept, submissionID); err != nil {
			return err
		}

		if err := r.applyLevelUps(ctx, tx, userID); err != nil {
			return err
		}
		granted = true
		return nil
	})
	if err != nil {
		return false, appErr.Wrap(err, appErr.RewardGrantFailed)
	}
	return granted, nil
}

// applyLevelUps consumes XP into levels: each level costs level*100 XP and
// the XP counter resets by that cost on level-up.
func (r *MySQLRewardRepository) applyLevelUps(ctx context.Context, tx db.Transaction, userID int64) error {
	var level, xp int64
	row := tx.QueryRow(ctx, `SELECT level, xp FROM user WHERE id = ? FOR UPDATE`, userID)
	if err := row.Scan(&level, &xp); err != nil {
		return err
	}
	if level <= 0 {
		level = 1
	}

	changed := false
	for xp >= level*100 {
		xp -= level * 100
		level++
		changed = true
	}
	if !changed {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE user SET level = ?, xp = ? WHERE id = ?`, level, xp, userID)
	return err
}
