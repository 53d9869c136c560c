package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"approvalflow/internal/adapter"
	"approvalflow/internal/audit"
	"approvalflow/internal/domain"
	"approvalflow/internal/engine/auth"
	"approvalflow/internal/repo"
)

// Engine evaluates votes against workflow instances. It is the only writer of
// instances, votes and audit entries.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Audit   audit.Writer
	Auth    auth.Service
	Adapter adapter.Adapter
	Logger  *log.Logger
	Now     func() time.Time
}

func New(db *sql.DB, adp adapter.Adapter) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Audit:   audit.Writer{DB: db},
		Auth:    auth.Service{DB: db},
		Adapter: adp,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// Initialize binds a workflow definition to a target request and creates a
// PENDING instance at the lowest-order stage. The stage list and reviewer
// sets are snapshotted so later definition edits cannot move the instance.
func (e Engine) Initialize(ctx context.Context, workflowID, requestID, actorID string) (domain.WorkflowInstance, error) {
	if strings.TrimSpace(requestID) == "" {
		return domain.WorkflowInstance{}, errors.New("request id is required")
	}
	def, err := e.Repo.GetDefinition(ctx, workflowID)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	if !def.IsActive {
		return domain.WorkflowInstance{}, errOf(KindDefinitionInactive, fmt.Sprintf("workflow %s is inactive", workflowID))
	}
	if len(def.Stages) == 0 {
		return domain.WorkflowInstance{}, errOf(KindEmptyWorkflow, fmt.Sprintf("workflow %s has no stages", workflowID))
	}
	for _, s := range def.Stages {
		if len(s.Reviewers) == 0 {
			return domain.WorkflowInstance{}, errOf(KindStageMisconfigured, fmt.Sprintf("stage %s has no reviewers", s.Name))
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}
	defer tx.Rollback()

	// Re-check inside the transaction so two concurrent initializations for
	// the same request cannot both pass.
	if _, err := e.Repo.ActiveInstanceForRequestTx(ctx, tx, requestID); err == nil {
		return domain.WorkflowInstance{}, errOf(KindDuplicateActiveInstance, fmt.Sprintf("request %s already has a pending instance", requestID))
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.WorkflowInstance{}, err
	}

	first := def.Stages[0]
	in := domain.WorkflowInstance{
		ID:              uuid.New().String(),
		WorkflowID:      def.ID,
		TargetRequestID: requestID,
		CurrentStageID:  &first.ID,
		Status:          domain.StatusPending,
		CreatedAt:       e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertInstanceTx(ctx, tx, in); err != nil {
		return domain.WorkflowInstance{}, err
	}
	for _, s := range def.Stages {
		snap := domain.StageSnapshot{
			InstanceID:   in.ID,
			StageID:      s.ID,
			Name:         s.Name,
			Order:        s.Order,
			QuorumPolicy: s.QuorumPolicy,
			Reviewers:    s.Reviewers,
		}
		if err := e.Repo.InsertSnapshotTx(ctx, tx, snap); err != nil {
			return domain.WorkflowInstance{}, err
		}
	}
	if err := e.Audit.Append(ctx, tx, audit.EntryInstanceCreated, in.ID, first.ID, "", actorID, audit.Payload{
		"workflow_id":       def.ID,
		"target_request_id": requestID,
		"first_stage":       first.Name,
	}); err != nil {
		return domain.WorkflowInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowInstance{}, err
	}
	return in, nil
}

// CastVote records one reviewer decision and evaluates the current stage's
// quorum. The duplicate check, tally read and transition write share one
// transaction, so concurrent votes on the same instance serialize.
func (e Engine) CastVote(ctx context.Context, instanceID, reviewerID, decision, comments string) (domain.VoteResult, error) {
	if !domain.ValidDecision(decision) {
		return domain.VoteResult{}, fmt.Errorf("invalid decision %s", decision)
	}
	if decision == domain.DecisionReject && strings.TrimSpace(comments) == "" {
		return domain.VoteResult{}, errOf(KindRejectRequiresComment, "a comment is required when rejecting")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.VoteResult{}, err
	}
	defer tx.Rollback()

	in, err := e.Repo.GetInstanceTx(ctx, tx, instanceID)
	if err != nil {
		return domain.VoteResult{}, err
	}
	if in.Status != domain.StatusPending {
		return domain.VoteResult{}, errOf(KindInstanceNotPending, fmt.Sprintf("instance %s is already %s", instanceID, in.Status))
	}
	snapshots, err := e.Repo.ListSnapshotsTx(ctx, tx, instanceID)
	if err != nil {
		return domain.VoteResult{}, err
	}
	idx := currentStageIndex(snapshots, in.CurrentStageID)
	if idx < 0 {
		return domain.VoteResult{}, fmt.Errorf("instance %s has no current stage snapshot", instanceID)
	}
	stage := snapshots[idx]

	eligible, err := e.Auth.IsStageReviewer(ctx, tx, instanceID, stage.StageID, reviewerID)
	if err != nil {
		return domain.VoteResult{}, err
	}
	if !eligible {
		return domain.VoteResult{}, errOf(KindNotEligibleReviewer, auth.NotEligibleError{ReviewerID: reviewerID}.Error())
	}
	voted, err := e.Repo.HasVoteTx(ctx, tx, instanceID, stage.StageID, reviewerID)
	if err != nil {
		return domain.VoteResult{}, err
	}
	if voted {
		return domain.VoteResult{}, errOf(KindDuplicateVote, fmt.Sprintf("user %s already voted at stage %s", reviewerID, stage.Name))
	}

	vote := domain.Vote{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		StageID:    stage.StageID,
		ReviewerID: reviewerID,
		Decision:   decision,
		Comments:   comments,
		CastAt:     e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertVoteTx(ctx, tx, vote); err != nil {
		return domain.VoteResult{}, err
	}
	if err := e.Audit.Append(ctx, tx, audit.EntryVoteCast, instanceID, stage.StageID, vote.ID, reviewerID, audit.Payload{
		"decision": decision,
		"stage":    stage.Name,
		"comments": comments,
	}); err != nil {
		return domain.VoteResult{}, err
	}

	result := domain.VoteResult{
		Status:         domain.StatusPending,
		EvaluatedStage: stage.Name,
		Tally:          domain.StageTally{TotalRequired: len(stage.Reviewers)},
	}

	approvals, err := e.Repo.CountApprovalsTx(ctx, tx, instanceID, stage.StageID)
	if err != nil {
		return domain.VoteResult{}, err
	}
	result.Tally.ApprovedCount = approvals

	switch {
	case decision == domain.DecisionReject:
		// A reject disqualifies the whole request regardless of stage policy.
		if err := e.Repo.UpdateInstanceStateTx(ctx, tx, instanceID, nil, domain.StatusRejected); err != nil {
			return domain.VoteResult{}, err
		}
		if err := e.Audit.Append(ctx, tx, audit.EntryRejected, instanceID, stage.StageID, vote.ID, reviewerID, audit.Payload{
			"stage": stage.Name,
		}); err != nil {
			return domain.VoteResult{}, err
		}
		result.Status = domain.StatusRejected

	case stage.QuorumPolicy == domain.QuorumAny || approvals >= len(stage.Reviewers):
		if idx+1 < len(snapshots) {
			next := snapshots[idx+1]
			if err := e.Repo.UpdateInstanceStateTx(ctx, tx, instanceID, &next.StageID, domain.StatusPending); err != nil {
				return domain.VoteResult{}, err
			}
			if err := e.Audit.Append(ctx, tx, audit.EntryStageAdvanced, instanceID, next.StageID, vote.ID, reviewerID, audit.Payload{
				"from_stage": stage.Name,
				"to_stage":   next.Name,
			}); err != nil {
				return domain.VoteResult{}, err
			}
			result.MovedToNextNode = true
			result.NextStage = &next.Name
		} else {
			if err := e.Repo.UpdateInstanceStateTx(ctx, tx, instanceID, nil, domain.StatusApproved); err != nil {
				return domain.VoteResult{}, err
			}
			if err := e.Audit.Append(ctx, tx, audit.EntryApproved, instanceID, stage.StageID, vote.ID, reviewerID, audit.Payload{
				"stage": stage.Name,
			}); err != nil {
				return domain.VoteResult{}, err
			}
			result.Status = domain.StatusApproved
		}

	default:
		// ALL policy, quorum not yet reached; stay pending at this stage.
	}

	if err := tx.Commit(); err != nil {
		return domain.VoteResult{}, err
	}

	// The terminal transition is durable; an adapter failure is surfaced for
	// operator retry, never rolled back.
	if result.Status != domain.StatusPending && e.Adapter != nil {
		if err := e.Adapter.OnFinalized(ctx, in.TargetRequestID, result.Status); err != nil {
			e.logger().Printf("WARNING: adapter finalize failed for request %s: %v", in.TargetRequestID, err)
			var ae adapter.Error
			if !errors.As(err, &ae) {
				ae = adapter.Error{RequestID: in.TargetRequestID, Outcome: result.Status, Err: err}
			}
			return result, ae
		}
	}
	return result, nil
}

func currentStageIndex(snapshots []domain.StageSnapshot, currentStageID *string) int {
	if currentStageID == nil {
		return -1
	}
	for i, s := range snapshots {
		if s.StageID == *currentStageID {
			return i
		}
	}
	return -1
}

// StageSummary describes the active stage of a pending instance.
type StageSummary struct {
	StageID string            `json:"stage_id"`
	Name    string            `json:"name"`
	Tally   domain.StageTally `json:"node_status"`
}

// History is a read-only projection of an instance and its ordered audit trail.
type History struct {
	InstanceID      string              `json:"instance_id"`
	TargetRequestID string              `json:"target_request_id"`
	Status          string              `json:"status"`
	CurrentStage    *StageSummary       `json:"current_stage,omitempty"`
	Entries         []domain.AuditEntry `json:"entries"`
}

// GetHistory returns the instance status, the current-stage tally and the
// strictly ordered audit entries. It never mutates state.
func (e Engine) GetHistory(ctx context.Context, instanceID string) (History, error) {
	in, err := e.Repo.GetInstance(ctx, instanceID)
	if err != nil {
		return History{}, err
	}
	h := History{
		InstanceID:      in.ID,
		TargetRequestID: in.TargetRequestID,
		Status:          in.Status,
	}
	if in.CurrentStageID != nil {
		snapshots, err := e.Repo.ListSnapshots(ctx, instanceID)
		if err != nil {
			return History{}, err
		}
		if idx := currentStageIndex(snapshots, in.CurrentStageID); idx >= 0 {
			stage := snapshots[idx]
			approvals, err := e.Repo.CountApprovals(ctx, instanceID, stage.StageID)
			if err != nil {
				return History{}, err
			}
			h.CurrentStage = &StageSummary{
				StageID: stage.StageID,
				Name:    stage.Name,
				Tally:   domain.StageTally{ApprovedCount: approvals, TotalRequired: len(stage.Reviewers)},
			}
		}
	}
	h.Entries, err = e.Repo.ListAuditEntries(ctx, instanceID)
	if err != nil {
		return History{}, err
	}
	return h, nil
}

// PendingApproval is one instance awaiting a given reviewer's vote.
type PendingApproval struct {
	InstanceID      string `json:"instance_id"`
	WorkflowID      string `json:"workflow_id"`
	TargetRequestID string `json:"target_request_id"`
	StageName       string `json:"node"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

// ListPendingForReviewer returns instances whose current stage awaits the user.
func (e Engine) ListPendingForReviewer(ctx context.Context, userID string) ([]PendingApproval, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}
	refs, err := e.Repo.PendingForReviewer(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := []PendingApproval{}
	for _, ref := range refs {
		res = append(res, PendingApproval{
			InstanceID:      ref.Instance.ID,
			WorkflowID:      ref.Instance.WorkflowID,
			TargetRequestID: ref.Instance.TargetRequestID,
			StageName:       ref.StageName,
			CreatedAt:       ref.Instance.CreatedAt,
		})
	}
	return res, nil
}

// InstanceDetail couples an instance with its snapshot stages and current tally.
type InstanceDetail struct {
	Instance     domain.WorkflowInstance `json:"instance"`
	Stages       []domain.StageSnapshot  `json:"stages"`
	CurrentStage *StageSummary           `json:"current_stage,omitempty"`
}

func (e Engine) GetInstanceDetail(ctx context.Context, instanceID string) (InstanceDetail, error) {
	in, err := e.Repo.GetInstance(ctx, instanceID)
	if err != nil {
		return InstanceDetail{}, err
	}
	snapshots, err := e.Repo.ListSnapshots(ctx, instanceID)
	if err != nil {
		return InstanceDetail{}, err
	}
	detail := InstanceDetail{Instance: in, Stages: snapshots}
	if idx := currentStageIndex(snapshots, in.CurrentStageID); idx >= 0 {
		stage := snapshots[idx]
		approvals, err := e.Repo.CountApprovals(ctx, instanceID, stage.StageID)
		if err != nil {
			return InstanceDetail{}, err
		}
		detail.CurrentStage = &StageSummary{
			StageID: stage.StageID,
			Name:    stage.Name,
			Tally:   domain.StageTally{ApprovedCount: approvals, TotalRequired: len(stage.Reviewers)},
		}
	}
	return detail, nil
}
