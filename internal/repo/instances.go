package repo

import (
	"context"
	"database/sql"
	"sort"

	"approvalflow/internal/domain"
)

// --- workflow instances ---

func (r Repo) InsertInstanceTx(ctx context.Context, tx *sql.Tx, in domain.WorkflowInstance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_instances(id,workflow_id,target_request_id,current_stage_id,status,created_at) VALUES (?,?,?,?,?,?)`,
		in.ID, in.WorkflowID, in.TargetRequestID, nullableStringPtr(in.CurrentStageID), in.Status, in.CreatedAt)
	return err
}

func scanInstance(scan func(dest ...any) error) (domain.WorkflowInstance, error) {
	var in domain.WorkflowInstance
	var current sql.NullString
	err := scan(&in.ID, &in.WorkflowID, &in.TargetRequestID, &current, &in.Status, &in.CreatedAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	if current.Valid {
		in.CurrentStageID = &current.String
	}
	return in, nil
}

const instanceCols = `id,workflow_id,target_request_id,current_stage_id,status,created_at`

func (r Repo) GetInstance(ctx context.Context, id string) (domain.WorkflowInstance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM workflow_instances WHERE id=?`, id)
	return scanInstance(row.Scan)
}

func (r Repo) GetInstanceTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkflowInstance, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM workflow_instances WHERE id=?`, id)
	return scanInstance(row.Scan)
}

// ActiveInstanceForRequest returns the PENDING instance bound to a request, if any.
func (r Repo) ActiveInstanceForRequest(ctx context.Context, requestID string) (domain.WorkflowInstance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM workflow_instances WHERE target_request_id=? AND status='PENDING' LIMIT 1`, requestID)
	return scanInstance(row.Scan)
}

func (r Repo) ActiveInstanceForRequestTx(ctx context.Context, tx *sql.Tx, requestID string) (domain.WorkflowInstance, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM workflow_instances WHERE target_request_id=? AND status='PENDING' LIMIT 1`, requestID)
	return scanInstance(row.Scan)
}

// LatestInstanceForRequest returns the most recent instance for a request,
// pending or terminal.
func (r Repo) LatestInstanceForRequest(ctx context.Context, requestID string) (domain.WorkflowInstance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM workflow_instances WHERE target_request_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, requestID)
	return scanInstance(row.Scan)
}

func (r Repo) UpdateInstanceStateTx(ctx context.Context, tx *sql.Tx, id string, currentStageID *string, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE workflow_instances SET current_stage_id=?, status=? WHERE id=?`,
		nullableStringPtr(currentStageID), status, id)
	return err
}

// --- stage snapshots ---

func (r Repo) InsertSnapshotTx(ctx context.Context, tx *sql.Tx, s domain.StageSnapshot) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO instance_stages(instance_id,stage_id,name,node_order,quorum) VALUES (?,?,?,?,?)`,
		s.InstanceID, s.StageID, s.Name, s.Order, s.QuorumPolicy); err != nil {
		return err
	}
	for _, u := range s.Reviewers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO instance_stage_reviewers(instance_id,stage_id,user_id) VALUES (?,?,?)`,
			s.InstanceID, s.StageID, u); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListSnapshots(ctx context.Context, instanceID string) ([]domain.StageSnapshot, error) {
	return r.listSnapshots(ctx, r.DB.QueryContext, instanceID)
}

func (r Repo) ListSnapshotsTx(ctx context.Context, tx *sql.Tx, instanceID string) ([]domain.StageSnapshot, error) {
	return r.listSnapshots(ctx, tx.QueryContext, instanceID)
}

type queryFn func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) listSnapshots(ctx context.Context, query queryFn, instanceID string) ([]domain.StageSnapshot, error) {
	rows, err := query(ctx, `SELECT instance_id,stage_id,name,node_order,quorum FROM instance_stages WHERE instance_id=? ORDER BY node_order ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageSnapshot
	for rows.Next() {
		var s domain.StageSnapshot
		if err := rows.Scan(&s.InstanceID, &s.StageID, &s.Name, &s.Order, &s.QuorumPolicy); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		reviewers, err := r.snapshotReviewers(ctx, query, instanceID, res[i].StageID)
		if err != nil {
			return nil, err
		}
		res[i].Reviewers = reviewers
	}
	return res, nil
}

func (r Repo) snapshotReviewers(ctx context.Context, query queryFn, instanceID, stageID string) ([]string, error) {
	rows, err := query(ctx, `SELECT user_id FROM instance_stage_reviewers WHERE instance_id=? AND stage_id=? ORDER BY user_id`, instanceID, stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// --- votes ---

func (r Repo) InsertVoteTx(ctx context.Context, tx *sql.Tx, v domain.Vote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO votes(id,instance_id,stage_id,reviewer_id,decision,comments,cast_at) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.InstanceID, v.StageID, v.ReviewerID, v.Decision, nullable(v.Comments), v.CastAt)
	return err
}

func (r Repo) HasVoteTx(ctx context.Context, tx *sql.Tx, instanceID, stageID, reviewerID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM votes WHERE instance_id=? AND stage_id=? AND reviewer_id=? LIMIT 1`,
		instanceID, stageID, reviewerID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// CountApprovalsTx counts APPROVE votes for one instance-stage pair.
func (r Repo) CountApprovalsTx(ctx context.Context, tx *sql.Tx, instanceID, stageID string) (int, error) {
	row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes WHERE instance_id=? AND stage_id=? AND decision='APPROVE'`,
		instanceID, stageID)
	var n int
	err := row.Scan(&n)
	return n, err
}

func (r Repo) CountApprovals(ctx context.Context, instanceID, stageID string) (int, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes WHERE instance_id=? AND stage_id=? AND decision='APPROVE'`,
		instanceID, stageID)
	var n int
	err := row.Scan(&n)
	return n, err
}

func (r Repo) ListVotes(ctx context.Context, instanceID string) ([]domain.Vote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,instance_id,stage_id,reviewer_id,decision,COALESCE(comments,''),cast_at FROM votes WHERE instance_id=? ORDER BY cast_at ASC, id ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vote
	for rows.Next() {
		var v domain.Vote
		if err := rows.Scan(&v.ID, &v.InstanceID, &v.StageID, &v.ReviewerID, &v.Decision, &v.Comments, &v.CastAt); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// --- audit entries ---

func (r Repo) ListAuditEntries(ctx context.Context, instanceID string) ([]domain.AuditEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,instance_id,entry_type,COALESCE(stage_id,''),COALESCE(vote_id,''),actor_id,payload_json,ts FROM audit_entries WHERE instance_id=? ORDER BY id ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.EntryType, &e.StageID, &e.VoteID, &e.ActorID, &e.Payload, &e.TS); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- pending scan ---

// PendingInstanceRef couples a pending instance with the request it approves.
type PendingInstanceRef struct {
	Instance  domain.WorkflowInstance
	StageName string
}

// PendingForReviewer scans PENDING instances whose current stage snapshot
// includes the reviewer and who has not yet voted there.
func (r Repo) PendingForReviewer(ctx context.Context, userID string) ([]PendingInstanceRef, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT i.id, i.workflow_id, i.target_request_id, i.current_stage_id, i.status, i.created_at, s.name
FROM workflow_instances i
JOIN instance_stages s ON s.instance_id=i.id AND s.stage_id=i.current_stage_id
JOIN instance_stage_reviewers rv ON rv.instance_id=i.id AND rv.stage_id=i.current_stage_id
WHERE i.status='PENDING' AND rv.user_id=?
AND NOT EXISTS (
    SELECT 1 FROM votes v
    WHERE v.instance_id=i.id AND v.stage_id=i.current_stage_id AND v.reviewer_id=rv.user_id
)`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PendingInstanceRef
	for rows.Next() {
		var ref PendingInstanceRef
		var current sql.NullString
		if err := rows.Scan(&ref.Instance.ID, &ref.Instance.WorkflowID, &ref.Instance.TargetRequestID,
			&current, &ref.Instance.Status, &ref.Instance.CreatedAt, &ref.StageName); err != nil {
			return nil, err
		}
		if current.Valid {
			ref.Instance.CurrentStageID = &current.String
		}
		res = append(res, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Instance.CreatedAt < res[j].Instance.CreatedAt })
	return res, nil
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
