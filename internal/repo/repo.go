package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"approvalflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// DuplicateOrderError indicates two stages of one definition sharing an order value.
type DuplicateOrderError struct {
	WorkflowID string
	Order      int
}

func (e DuplicateOrderError) Error() string {
	return fmt.Sprintf("stage order %d already used in workflow %s", e.Order, e.WorkflowID)
}

// StageInUseError indicates a stage currently held by a pending instance.
type StageInUseError struct {
	StageID string
}

func (e StageInUseError) Error() string {
	return fmt.Sprintf("stage %s is the current stage of a pending instance", e.StageID)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// --- workflow definitions ---

func (r Repo) CreateDefinition(ctx context.Context, name, description string) (domain.WorkflowDefinition, error) {
	if strings.TrimSpace(name) == "" {
		return domain.WorkflowDefinition{}, errors.New("name is required")
	}
	d := domain.WorkflowDefinition{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		IsActive:    true,
		CreatedAt:   now(),
	}
	d.UpdatedAt = d.CreatedAt
	_, err := r.DB.ExecContext(ctx, `INSERT INTO workflow_definitions(id,name,description,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		d.ID, d.Name, nullable(d.Description), boolToInt(d.IsActive), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return domain.WorkflowDefinition{}, err
	}
	return d, nil
}

func (r Repo) GetDefinition(ctx context.Context, id string) (domain.WorkflowDefinition, error) {
	var d domain.WorkflowDefinition
	var desc sql.NullString
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,is_active,created_at,updated_at FROM workflow_definitions WHERE id=?`, id).
		Scan(&d.ID, &d.Name, &desc, &active, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if desc.Valid {
		d.Description = desc.String
	}
	d.IsActive = active != 0
	d.Stages, err = r.ListStages(ctx, d.ID)
	return d, err
}

func (r Repo) ListDefinitions(ctx context.Context, active *bool) ([]domain.WorkflowDefinition, error) {
	query := `SELECT id,name,COALESCE(description,''),is_active,created_at,updated_at FROM workflow_definitions`
	var args []any
	if active != nil {
		query += ` WHERE is_active=?`
		args = append(args, boolToInt(*active))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowDefinition
	for rows.Next() {
		var d domain.WorkflowDefinition
		var act int
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &act, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.IsActive = act != 0
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpdateDefinition(ctx context.Context, id string, name, description *string, isActive *bool) (domain.WorkflowDefinition, error) {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if isActive != nil {
		fields = append(fields, "is_active=?")
		args = append(args, boolToInt(*isActive))
	}
	if len(fields) == 0 {
		return r.GetDefinition(ctx, id)
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now(), id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE workflow_definitions SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return domain.WorkflowDefinition{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.WorkflowDefinition{}, ErrNotFound
	}
	return r.GetDefinition(ctx, id)
}

func (r Repo) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE workflow_definitions SET is_active=?, updated_at=? WHERE id=?`, boolToInt(active), now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteDefinition(ctx context.Context, id string) error {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_instances WHERE workflow_id=? AND status='PENDING'`, id).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("workflow %s has pending instances", id)
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM workflow_definitions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- stages ---

func (r Repo) AddStage(ctx context.Context, workflowID, name, description, quorum string, order int) (domain.Stage, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Stage{}, errors.New("name is required")
	}
	if !domain.ValidQuorumPolicy(quorum) {
		return domain.Stage{}, fmt.Errorf("invalid approval_type %s", quorum)
	}
	if _, err := r.GetDefinition(ctx, workflowID); err != nil {
		return domain.Stage{}, err
	}
	s := domain.Stage{
		ID:           uuid.New().String(),
		WorkflowID:   workflowID,
		Name:         name,
		Description:  description,
		Order:        order,
		QuorumPolicy: quorum,
		Reviewers:    []string{},
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO workflow_stages(id,workflow_id,name,description,node_order,quorum) VALUES (?,?,?,?,?,?)`,
		s.ID, s.WorkflowID, s.Name, nullable(s.Description), s.Order, s.QuorumPolicy)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Stage{}, DuplicateOrderError{WorkflowID: workflowID, Order: order}
		}
		return domain.Stage{}, err
	}
	return s, nil
}

func (r Repo) GetStage(ctx context.Context, id string) (domain.Stage, error) {
	var s domain.Stage
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,workflow_id,name,description,node_order,quorum FROM workflow_stages WHERE id=?`, id).
		Scan(&s.ID, &s.WorkflowID, &s.Name, &desc, &s.Order, &s.QuorumPolicy)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if desc.Valid {
		s.Description = desc.String
	}
	s.Reviewers, err = r.ListReviewers(ctx, s.ID)
	return s, err
}

func (r Repo) ListStages(ctx context.Context, workflowID string) ([]domain.Stage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,workflow_id,name,COALESCE(description,''),node_order,quorum FROM workflow_stages WHERE workflow_id=? ORDER BY node_order ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Stage
	for rows.Next() {
		var s domain.Stage
		if err := rows.Scan(&s.ID, &s.WorkflowID, &s.Name, &s.Description, &s.Order, &s.QuorumPolicy); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		reviewers, err := r.ListReviewers(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Reviewers = reviewers
	}
	return res, nil
}

func (r Repo) UpdateStage(ctx context.Context, id string, name, description, quorum *string) (domain.Stage, error) {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if quorum != nil {
		if !domain.ValidQuorumPolicy(*quorum) {
			return domain.Stage{}, fmt.Errorf("invalid approval_type %s", *quorum)
		}
		fields = append(fields, "quorum=?")
		args = append(args, *quorum)
	}
	if len(fields) == 0 {
		return r.GetStage(ctx, id)
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE workflow_stages SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return domain.Stage{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Stage{}, ErrNotFound
	}
	return r.GetStage(ctx, id)
}

// DeleteStage removes a stage unless a pending instance is parked on it.
// Instances past or before the stage keep their own snapshot and are unaffected.
func (r Repo) DeleteStage(ctx context.Context, id string) error {
	inUse, err := r.stageInUse(ctx, id)
	if err != nil {
		return err
	}
	if inUse {
		return StageInUseError{StageID: id}
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM workflow_stages WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ReorderStage(ctx context.Context, id string, newOrder int) (domain.Stage, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE workflow_stages SET node_order=? WHERE id=?`, newOrder, id)
	if err != nil {
		if isUniqueViolation(err) {
			s, gerr := r.GetStage(ctx, id)
			if gerr != nil {
				return domain.Stage{}, gerr
			}
			return domain.Stage{}, DuplicateOrderError{WorkflowID: s.WorkflowID, Order: newOrder}
		}
		return domain.Stage{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Stage{}, ErrNotFound
	}
	return r.GetStage(ctx, id)
}

func (r Repo) stageInUse(ctx context.Context, stageID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM workflow_instances WHERE current_stage_id=? AND status='PENDING' LIMIT 1`, stageID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// --- stage reviewers ---

// SetReviewers replaces the full reviewer set for a stage. Edits never touch
// votes already cast on in-flight instances.
func (r Repo) SetReviewers(ctx context.Context, stageID string, userIDs []string) ([]string, error) {
	if _, err := r.GetStage(ctx, stageID); err != nil {
		return nil, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_reviewers WHERE stage_id=?`, stageID); err != nil {
		return nil, err
	}
	for _, u := range dedupe(userIDs) {
		if strings.TrimSpace(u) == "" {
			return nil, errors.New("user id must not be empty")
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO stage_reviewers(stage_id,user_id) VALUES (?,?)`, stageID, u); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.ListReviewers(ctx, stageID)
}

func (r Repo) AddReviewer(ctx context.Context, stageID, userID string) ([]string, error) {
	if _, err := r.GetStage(ctx, stageID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id must not be empty")
	}
	if _, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO stage_reviewers(stage_id,user_id) VALUES (?,?)`, stageID, userID); err != nil {
		return nil, err
	}
	return r.ListReviewers(ctx, stageID)
}

func (r Repo) RemoveReviewer(ctx context.Context, stageID, userID string) ([]string, error) {
	if _, err := r.GetStage(ctx, stageID); err != nil {
		return nil, err
	}
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM stage_reviewers WHERE stage_id=? AND user_id=?`, stageID, userID); err != nil {
		return nil, err
	}
	return r.ListReviewers(ctx, stageID)
}

func (r Repo) ListReviewers(ctx context.Context, stageID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id FROM stage_reviewers WHERE stage_id=? ORDER BY user_id`, stageID)
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

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
