// Package auth provides reviewer-eligibility checks backed by SQL, evaluated
// against the stage snapshots an instance was initialized with.
package auth

import (
	"context"
	"database/sql"
	"fmt"
)

// NotEligibleError indicates the user is not in the current stage's reviewer set.
type NotEligibleError struct {
	ReviewerID string
}

func (e NotEligibleError) Error() string {
	return fmt.Sprintf("user %s is not an eligible reviewer for the current stage", e.ReviewerID)
}

// Service answers eligibility questions for instances.
type Service struct {
	DB *sql.DB
}

// IsStageReviewer reports whether the user belongs to the snapshot reviewer
// set of the given instance stage.
func (s Service) IsStageReviewer(ctx context.Context, tx *sql.Tx, instanceID, stageID, userID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM instance_stage_reviewers WHERE instance_id=? AND stage_id=? AND user_id=? LIMIT 1`,
		instanceID, stageID, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// ReviewerStages returns the stage ids of an instance whose snapshot includes the user.
func (s Service) ReviewerStages(ctx context.Context, tx *sql.Tx, instanceID, userID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT stage_id FROM instance_stage_reviewers WHERE instance_id=? AND user_id=?`, instanceID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
