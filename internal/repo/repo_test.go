package repo_test

import (
	"context"
	"errors"
	"testing"

	"approvalflow/internal/db"
	"approvalflow/internal/domain"
	"approvalflow/internal/migrate"
	"approvalflow/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func TestDuplicateNodeOrder(t *testing.T) {
	r, ctx := newTestRepo(t)
	d, err := r.CreateDefinition(ctx, "wf", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.AddStage(ctx, d.ID, "first", "", domain.QuorumAll, 1); err != nil {
		t.Fatalf("add stage: %v", err)
	}
	_, err = r.AddStage(ctx, d.ID, "clash", "", domain.QuorumAll, 1)
	var de repo.DuplicateOrderError
	if !errors.As(err, &de) {
		t.Fatalf("expected DuplicateOrderError, got %v", err)
	}
	if de.WorkflowID != d.ID || de.Order != 1 {
		t.Fatalf("unexpected error detail: %+v", de)
	}
	// The same order in another workflow is fine.
	other, err := r.CreateDefinition(ctx, "other", "")
	if err != nil {
		t.Fatalf("create other: %v", err)
	}
	if _, err := r.AddStage(ctx, other.ID, "first", "", domain.QuorumAll, 1); err != nil {
		t.Fatalf("same order in other workflow: %v", err)
	}
}

func TestReorderStageConflicts(t *testing.T) {
	r, ctx := newTestRepo(t)
	d, _ := r.CreateDefinition(ctx, "wf", "")
	s1, err := r.AddStage(ctx, d.ID, "first", "", domain.QuorumAll, 1)
	if err != nil {
		t.Fatalf("add s1: %v", err)
	}
	if _, err := r.AddStage(ctx, d.ID, "second", "", domain.QuorumAll, 2); err != nil {
		t.Fatalf("add s2: %v", err)
	}
	_, err = r.ReorderStage(ctx, s1.ID, 2)
	var de repo.DuplicateOrderError
	if !errors.As(err, &de) {
		t.Fatalf("expected DuplicateOrderError, got %v", err)
	}
	s1, err = r.ReorderStage(ctx, s1.ID, 3)
	if err != nil || s1.Order != 3 {
		t.Fatalf("reorder to free slot: %+v %v", s1, err)
	}
	stages, err := r.ListStages(ctx, d.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if stages[0].Name != "second" || stages[1].Name != "first" {
		t.Fatalf("stages not ordered by node_order: %+v", stages)
	}
}

func TestSetReviewersReplacesAndDedupes(t *testing.T) {
	r, ctx := newTestRepo(t)
	d, _ := r.CreateDefinition(ctx, "wf", "")
	s, err := r.AddStage(ctx, d.ID, "only", "", domain.QuorumAll, 1)
	if err != nil {
		t.Fatalf("add stage: %v", err)
	}
	users, err := r.SetReviewers(ctx, s.ID, []string{"b", "a", "b"})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(users) != 2 || users[0] != "a" || users[1] != "b" {
		t.Fatalf("unexpected reviewers: %v", users)
	}
	users, err = r.SetReviewers(ctx, s.ID, []string{"c"})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(users) != 1 || users[0] != "c" {
		t.Fatalf("replace not total: %v", users)
	}
	users, err = r.RemoveReviewer(ctx, s.ID, "c")
	if err != nil || len(users) != 0 {
		t.Fatalf("remove: %v %v", users, err)
	}
}

func TestDeleteStageBlockedWhileInUse(t *testing.T) {
	r, ctx := newTestRepo(t)
	d, _ := r.CreateDefinition(ctx, "wf", "")
	s, err := r.AddStage(ctx, d.ID, "only", "", domain.QuorumAll, 1)
	if err != nil {
		t.Fatalf("add stage: %v", err)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	in := domain.WorkflowInstance{
		ID:              "in-1",
		WorkflowID:      d.ID,
		TargetRequestID: "req-1",
		CurrentStageID:  &s.ID,
		Status:          domain.StatusPending,
		CreatedAt:       "2024-01-01T00:00:00Z",
	}
	if err := r.InsertInstanceTx(ctx, tx, in); err != nil {
		t.Fatalf("insert instance: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	err = r.DeleteStage(ctx, s.ID)
	var se repo.StageInUseError
	if !errors.As(err, &se) || se.StageID != s.ID {
		t.Fatalf("expected StageInUseError, got %v", err)
	}

	// Once the instance leaves the stage, deletion succeeds.
	tx, _ = r.DB.BeginTx(ctx, nil)
	if err := r.UpdateInstanceStateTx(ctx, tx, in.ID, nil, domain.StatusApproved); err != nil {
		t.Fatalf("finalize instance: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := r.DeleteStage(ctx, s.ID); err != nil {
		t.Fatalf("delete after finalize: %v", err)
	}
}

func TestDeleteDefinitionBlockedByPendingInstances(t *testing.T) {
	r, ctx := newTestRepo(t)
	d, _ := r.CreateDefinition(ctx, "wf", "")
	s, err := r.AddStage(ctx, d.ID, "only", "", domain.QuorumAll, 1)
	if err != nil {
		t.Fatalf("add stage: %v", err)
	}
	tx, _ := r.DB.BeginTx(ctx, nil)
	in := domain.WorkflowInstance{
		ID:              "in-1",
		WorkflowID:      d.ID,
		TargetRequestID: "req-1",
		CurrentStageID:  &s.ID,
		Status:          domain.StatusPending,
		CreatedAt:       "2024-01-01T00:00:00Z",
	}
	if err := r.InsertInstanceTx(ctx, tx, in); err != nil {
		t.Fatalf("insert instance: %v", err)
	}
	_ = tx.Commit()

	if err := r.DeleteDefinition(ctx, d.ID); err == nil {
		t.Fatalf("expected delete to be blocked")
	}
}

func TestReprintLifecycle(t *testing.T) {
	r, ctx := newTestRepo(t)
	req, err := r.CreateReprintRequest(ctx, "TCK-5", "faded print", "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", req.Status)
	}
	if err := r.SetReprintStatus(ctx, req.ID, domain.StatusApproved); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, err := r.GetReprintRequest(ctx, req.ID)
	if err != nil || got.Status != domain.StatusApproved {
		t.Fatalf("get: %+v %v", got, err)
	}
	approved := domain.StatusApproved
	items, err := r.ListReprintRequests(ctx, approved)
	if err != nil || len(items) != 1 {
		t.Fatalf("list by status: %v %v", items, err)
	}
	if _, err := r.GetReprintRequest(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)
	key := domain.APIKey{ID: "k1", UserID: "svc", Name: "kiosk", KeyHash: repo.HashAPIKey("af_secret")}
	if err := r.InsertAPIKey(ctx, key); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("af_secret"))
	if err != nil || got.UserID != "svc" {
		t.Fatalf("lookup: %+v %v", got, err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("wrong")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("af_secret")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
