package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"approvalflow/internal/adapter"
	"approvalflow/internal/audit"
	"approvalflow/internal/db"
	"approvalflow/internal/domain"
	"approvalflow/internal/engine"
	"approvalflow/internal/migrate"
)

type recordingAdapter struct {
	calls []string
	fail  error
}

func (a *recordingAdapter) OnFinalized(_ context.Context, requestID, outcome string) error {
	a.calls = append(a.calls, requestID+":"+outcome)
	return a.fail
}

type testEnv struct {
	Engine  engine.Engine
	Adapter *recordingAdapter
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	adp := &recordingAdapter{}
	eng := engine.New(conn, adp)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Adapter: adp, Ctx: context.Background()}
}

type stageSpec struct {
	name      string
	policy    string
	reviewers []string
}

func seedWorkflow(t *testing.T, env testEnv, stages ...stageSpec) string {
	t.Helper()
	def, err := env.Engine.Repo.CreateDefinition(env.Ctx, "reprint approval", "")
	if err != nil {
		t.Fatalf("create definition: %v", err)
	}
	for i, s := range stages {
		stage, err := env.Engine.Repo.AddStage(env.Ctx, def.ID, s.name, "", s.policy, i+1)
		if err != nil {
			t.Fatalf("add stage %s: %v", s.name, err)
		}
		if len(s.reviewers) > 0 {
			if _, err := env.Engine.Repo.SetReviewers(env.Ctx, stage.ID, s.reviewers); err != nil {
				t.Fatalf("set reviewers for %s: %v", s.name, err)
			}
		}
	}
	return def.ID
}

func mustInit(t *testing.T, env testEnv, workflowID, requestID string) domain.WorkflowInstance {
	t.Helper()
	in, err := env.Engine.Initialize(env.Ctx, workflowID, requestID, "admin")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return in
}

func wantKind(t *testing.T, err error, kind engine.ErrorKind) {
	t.Helper()
	var ee engine.Error
	if !errors.As(err, &ee) {
		t.Fatalf("expected engine error %s, got %v", kind, err)
	}
	if ee.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%s)", kind, ee.Kind, ee.Message)
	}
}

func TestInitializeRejectsBadConfigurations(t *testing.T) {
	env := newTestEnv(t)

	empty := seedWorkflow(t, env)
	_, err := env.Engine.Initialize(env.Ctx, empty, "req-1", "admin")
	wantKind(t, err, engine.KindEmptyWorkflow)

	noReviewers := seedWorkflow(t, env, stageSpec{name: "review", policy: domain.QuorumAll})
	_, err = env.Engine.Initialize(env.Ctx, noReviewers, "req-1", "admin")
	wantKind(t, err, engine.KindStageMisconfigured)

	inactive := seedWorkflow(t, env, stageSpec{name: "review", policy: domain.QuorumAll, reviewers: []string{"u1"}})
	if _, err := env.Engine.Repo.UpdateDefinition(env.Ctx, inactive, nil, nil, boolPtr(false)); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err = env.Engine.Initialize(env.Ctx, inactive, "req-1", "admin")
	wantKind(t, err, engine.KindDefinitionInactive)
}

func TestInitializeRejectsDuplicateActiveInstance(t *testing.T) {
	env := newTestEnv(t)
	wf := seedWorkflow(t, env, stageSpec{name: "review", policy: domain.QuorumAll, reviewers: []string{"u1"}})
	mustInit(t, env, wf, "req-1")
	_, err := env.Engine.Initialize(env.Ctx, wf, "req-1", "admin")
	wantKind(t, err, engine.KindDuplicateActiveInstance)
	// A different request is unaffected.
	mustInit(t, env, wf, "req-2")
}

func TestAllPolicyRequiresUnanimity(t *testing.T) {
	env := newTestEnv(t)
	wf := seedWorkflow(t, env,
		stageSpec{name: "supervisors", policy: domain.QuorumAll, reviewers: []string{"u1", "u2", "u3"}},
		stageSpec{name: "managers", policy: domain.QuorumAny, reviewers: []string{"m1"}},
	)
	in := mustInit(t, env, wf, "req-1")

	res, err := env.Engine.CastVote(env.Ctx, in.ID, "u2", domain.DecisionApprove, "")
	if err != nil {
		t.Fatalf("vote u2: %v", err)
	}
	if res.Status != domain.StatusPending || res.MovedToNextNode {
		t.Fatalf("expected pending, no advance: %+v", res)
	}
	if res.Tally.ApprovedCount != 1 || res.Tally.TotalRequired != 3 {
		t.Fatalf("unexpected tally: %+v", res.Tally)
	}

	res, err = env.Engine.CastVote(env.Ctx, in.ID, "u1", domain.DecisionApprove, "")
	if err != nil {
		t.Fatalf("vote u1: %v", err)
	}
	if res.MovedToNextNode {
		t.Fatalf("advanced after 2 of 3 approvals")
	}

	res, err = env.Engine.CastVote(env.Ctx, in.ID, "u3", domain.DecisionApprove, "")
	if err != nil {
		t.Fatalf("vote u3: %v", err)
	}
	if !res.MovedToNextNode || res.NextStage == nil || *res.NextStage != "managers" {
		t.Fatalf("expected advance to managers: %+v", res)
	}
	if res.Status != domain.StatusPending {
		t.Fatalf("instance should still be pending at next stage")
	}
}

func TestAnyPolicyFirstApprovalAdvances(t *testing.T) {
	env := newTestEnv(t)
	wf := seedWorkflow(t, env,
		stageSpec{name: "first", policy: domain.QuorumAny, reviewers: []string{"a", "b", "c"}},
		stageSpec{name: "second", policy: domain.QuorumAny, reviewers: []string{"d"}},
	)
	in := mustInit(t, env, wf, "req-1")

	res, err := env.Engine.CastVote(env.Ctx, in.ID, "b", domain.DecisionApprove, "")
	if err != nil {
		t.Fatalf("vote b: %v", err)
	}
	if !res.MovedToNextNode || res.NextStage == nil || *res.NextStage != "second" {
		t.Fatalf("expected advance: %+v", res)
	}

	// The stage already advanced; the other first-stage reviewers are no
	// longer eligible at the current stage.
	_, err = env.Engine.CastVote(env.Ctx, in.ID, "a", domain.DecisionApprove, "")
	wantKind(t, err, engine.KindNotEligibleReviewer)
}

func TestAnyPolicyFinalStageApproves(t *testing.T) {
	env := newTestEnv(t)
	wf := seedWorkflow(t, env, stageSpec{name: "only", policy: domain.QuorumAny, reviewers: []string{"a", "b"}})
	in := mustInit(t, env, wf, "req-1")

	res, err := env.Engine.CastVote(env.Ctx, in.ID, "a", domain.DecisionApprove, "")
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if res.Status != domain.StatusApproved || res.MovedToNextNode || res.NextStage != nil {
		t.Fatalf("expected terminal approval: %+v", res)
	}

	_, err = env.Engine.CastVote(env.Ctx, in.ID, "b", domain.DecisionApprove, "")
	wantKind(t, err, engine.KindInstanceNotPending)
}

func TestRejectShortCircuitsRegardlessOfPolicy(t *testing.T) {
	env := newTestEnv(t)
	wf := seedWorkflow(t, env,
		stageSpec{name: "first", policy: domain.QuorumAll, reviewers: []string{"u1", "u2"}},
		stageSpec{name: "second", policy: domain.QuorumAll, reviewers: []string{"u3"}},
	)
	in := mustInit(t, env, wf, "req-1")

	if _, err := env.Engine.CastVote(env.Ctx, in.ID, "u1", domain.DecisionApprove, ""); err != nil {
		t.Fatalf("approve u1: %v", err)
	}
	res, err := env.Engine.CastVote(env.Ctx, in.ID, "u2", domain.DecisionReject, "ticket already used")
	if err != nil {
		t.Fatalf("reject u2: %v", err)
	}
	if res.Status != domain.StatusRejected || res.MovedToNextNode {
		t.Fatalf("expected terminal rejection: %+v", res)
	}

	// Rejection is irreversible.
	_, err = env.Engine.CastVote(env.Ctx, in.ID, "u3", domain.DecisionApprove, "")
	wantKind(t, err, engine.KindInstanceNotPending)
	got, err := env.Engine.Repo.GetInstance(env.Ctx, in.ID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if got.Status != domain.StatusRejected || got.CurrentStageID != nil {
		t.Fatalf("instance not terminal: %+v", got)
	}
}

func TestRejectRequiresComment(t *testing.T) {
	env := newTestEnv(t)
	wf := seedWorkflow(t, env, stageSpec{name: "only", policy: domain.QuorumAll, reviewers: []string{"u1"}})
	in := mustInit(t, env, wf, "req-1")

	_, err := env.Engine.CastVote(env.Ctx, in.ID, "u1", domain.DecisionReject, "   ")
	wantKind(t, err, engine.KindRejectRequiresComment)

	// The failed attempt must not have recorded a vote.
	res, err := env.Engine.CastVote(env.Ctx, in.ID, "u1", domain.DecisionReject, "duplicate print")
	if err != nil {
		t.Fatalf("reject with comment: %v", err)
	}
	if res.Status != domain.StatusRejected {
		t.Fatalf("expected rejection: %+v", res)
	}
}

func TestDuplicateVoteRejected(t *testing.T) {
	env := newTestEnv(t)
	wf := seedWorkflow(t, env, stageSpec{name: "only", policy: domain.QuorumAll, reviewers: []string{"u1", "u2"}})
	in := mustInit(t, env, wf, "req-1")

	if _, err := env.Engine.CastVote(env.Ctx, in.ID, "u1", domain.DecisionApprove, ""); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	_, err := env.Engine.CastVote(env.Ctx, in.ID, "u1", domain.DecisionApprove, "")
	wantKind(t, err, engine.KindDuplicateVote)
	// Same decision or not, the second vote never lands.
	_, err = env.Engine.CastVote(env.Ctx, in.ID, "u1", domain.DecisionReject, "changed my mind")
	wantKind(t, err, engine.KindDuplicateVote)
}

func TestNotEligibleReviewer(t *testing.T) {
	env := newTestEnv(t)
	wf := seedWorkflow(t, env,
		stageSpec{name: "first", policy: domain.QuorumAll, reviewers: []string{"u1"}},
		stageSpec{name: "second", policy: domain.QuorumAll, reviewers: []string{"u2"}},
	)
	in := mustInit(t, env, wf, "req-1")

	// u2 reviews the second stage, not the current one.
	_, err := env.Engine.CastVote(env.Ctx, in.ID, "u2", domain.DecisionApprove, "")
	wantKind(t, err, engine.KindNotEligibleReviewer)
	_, err = env.Engine.CastVote(env.Ctx, in.ID, "stranger", domain.DecisionApprove, "")
	wantKind(t, err, engine.KindNotEligibleReviewer)
}

func TestSnapshotShieldsInstanceFromDefinitionEdits(t *testing.T) {
	env := newTestEnv(t)
	wf := seedWorkflow(t, env,
		stageSpec{name: "first", policy: domain.QuorumAll, reviewers: []string{"u1"}},
		stageSpec{name: "second", policy: domain.QuorumAll, reviewers: []string{"u2"}},
	)
	in := mustInit(t, env, wf, "req-1")

	// Replace the reviewer set on the live definition after initialization.
	stages, err := env.Engine.Repo.ListStages(env.Ctx, wf)
	if err != nil {
		t.Fatalf("list stages: %v", err)
	}
	if _, err := env.Engine.Repo.SetReviewers(env.Ctx, stages[0].ID, []string{"replacement"}); err != nil {
		t.Fatalf("replace reviewers: %v", err)
	}

	// The in-flight instance still honors its snapshot.
	if _, err := env.Engine.CastVote(env.Ctx, in.ID, "u1", domain.DecisionApprove, ""); err != nil {
		t.Fatalf("snapshot reviewer rejected: %v", err)
	}
	_, err = env.Engine.CastVote(env.Ctx, in.ID, "replacement", domain.DecisionApprove, "")
	wantKind(t, err, engine.KindNotEligibleReviewer)
}

func TestAuditTrailOrdering(t *testing.T) {
	env := newTestEnv(t)
	wf := seedWorkflow(t, env,
		stageSpec{name: "first", policy: domain.QuorumAny, reviewers: []string{"u1"}},
		stageSpec{name: "second", policy: domain.QuorumAny, reviewers: []string{"u2"}},
	)
	in := mustInit(t, env, wf, "req-1")
	if _, err := env.Engine.CastVote(env.Ctx, in.ID, "u1", domain.DecisionApprove, ""); err != nil {
		t.Fatalf("vote u1: %v", err)
	}
	if _, err := env.Engine.CastVote(env.Ctx, in.ID, "u2", domain.DecisionApprove, ""); err != nil {
		t.Fatalf("vote u2: %v", err)
	}

	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, in.ID)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	want := []string{
		audit.EntryInstanceCreated,
		audit.EntryVoteCast,
		audit.EntryStageAdvanced,
		audit.EntryVoteCast,
		audit.EntryApproved,
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.EntryType != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], e.EntryType)
		}
		if i > 0 && entries[i].ID <= entries[i-1].ID {
			t.Fatalf("audit ids not strictly increasing")
		}
	}
}

func TestAdapterCalledOncePerInstance(t *testing.T) {
	env := newTestEnv(t)
	wf := seedWorkflow(t, env, stageSpec{name: "only", policy: domain.QuorumAll, reviewers: []string{"u1", "u2"}})
	in := mustInit(t, env, wf, "req-1")

	if _, err := env.Engine.CastVote(env.Ctx, in.ID, "u1", domain.DecisionApprove, ""); err != nil {
		t.Fatalf("vote u1: %v", err)
	}
	if len(env.Adapter.calls) != 0 {
		t.Fatalf("adapter called before terminal state")
	}
	if _, err := env.Engine.CastVote(env.Ctx, in.ID, "u2", domain.DecisionApprove, ""); err != nil {
		t.Fatalf("vote u2: %v", err)
	}
	if len(env.Adapter.calls) != 1 || env.Adapter.calls[0] != "req-1:APPROVED" {
		t.Fatalf("unexpected adapter calls: %v", env.Adapter.calls)
	}
}

func TestAdapterFailureDoesNotRollBack(t *testing.T) {
	env := newTestEnv(t)
	env.Adapter.fail = errors.New("printer offline")
	wf := seedWorkflow(t, env, stageSpec{name: "only", policy: domain.QuorumAny, reviewers: []string{"u1"}})
	in := mustInit(t, env, wf, "req-1")

	res, err := env.Engine.CastVote(env.Ctx, in.ID, "u1", domain.DecisionApprove, "")
	var ae adapter.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected adapter error, got %v", err)
	}
	if ae.RequestID != "req-1" || ae.Outcome != domain.StatusApproved {
		t.Fatalf("unexpected adapter error: %+v", ae)
	}
	// The vote result and the committed state both carry the terminal outcome.
	if res.Status != domain.StatusApproved {
		t.Fatalf("result lost: %+v", res)
	}
	got, err := env.Engine.Repo.GetInstance(env.Ctx, in.ID)
	if err != nil || got.Status != domain.StatusApproved {
		t.Fatalf("terminal state rolled back: %+v %v", got, err)
	}
}

func TestReprintAdapterStampsOutcome(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.Repo.CreateReprintRequest(env.Ctx, "TCK-100", "smudged print", "requester")
	if err != nil {
		t.Fatalf("create reprint: %v", err)
	}
	eng := env.Engine
	eng.Adapter = adapter.Reprint{Repo: eng.Repo}

	wf := seedWorkflow(t, env, stageSpec{name: "only", policy: domain.QuorumAny, reviewers: []string{"u1"}})
	in, err := eng.Initialize(env.Ctx, wf, req.ID, "admin")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := eng.CastVote(env.Ctx, in.ID, "u1", domain.DecisionApprove, ""); err != nil {
		t.Fatalf("vote: %v", err)
	}
	got, err := eng.Repo.GetReprintRequest(env.Ctx, req.ID)
	if err != nil {
		t.Fatalf("get reprint: %v", err)
	}
	if got.Status != domain.StatusApproved {
		t.Fatalf("reprint not stamped: %+v", got)
	}
}

func TestGetHistory(t *testing.T) {
	env := newTestEnv(t)
	wf := seedWorkflow(t, env,
		stageSpec{name: "first", policy: domain.QuorumAll, reviewers: []string{"u1", "u2"}},
		stageSpec{name: "second", policy: domain.QuorumAll, reviewers: []string{"u3"}},
	)
	in := mustInit(t, env, wf, "req-1")
	if _, err := env.Engine.CastVote(env.Ctx, in.ID, "u1", domain.DecisionApprove, ""); err != nil {
		t.Fatalf("vote: %v", err)
	}

	h, err := env.Engine.GetHistory(env.Ctx, in.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.Status != domain.StatusPending || h.TargetRequestID != "req-1" {
		t.Fatalf("unexpected history header: %+v", h)
	}
	if h.CurrentStage == nil || h.CurrentStage.Name != "first" {
		t.Fatalf("unexpected current stage: %+v", h.CurrentStage)
	}
	if h.CurrentStage.Tally.ApprovedCount != 1 || h.CurrentStage.Tally.TotalRequired != 2 {
		t.Fatalf("unexpected tally: %+v", h.CurrentStage.Tally)
	}
	if len(h.Entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(h.Entries))
	}
}

func TestListPendingForReviewer(t *testing.T) {
	env := newTestEnv(t)
	wf := seedWorkflow(t, env,
		stageSpec{name: "first", policy: domain.QuorumAll, reviewers: []string{"u1", "u2"}},
		stageSpec{name: "second", policy: domain.QuorumAll, reviewers: []string{"u3"}},
	)
	inA := mustInit(t, env, wf, "req-a")
	mustInit(t, env, wf, "req-b")

	pending, err := env.Engine.ListPendingForReviewer(env.Ctx, "u1")
	if err != nil {
		t.Fatalf("pending u1: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}

	// u3 reviews the second stage; nothing is at that stage yet.
	pending, err = env.Engine.ListPendingForReviewer(env.Ctx, "u3")
	if err != nil {
		t.Fatalf("pending u3: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected 0 pending for u3, got %d", len(pending))
	}

	// After u1 votes on req-a, that instance drops off u1's list.
	if _, err := env.Engine.CastVote(env.Ctx, inA.ID, "u1", domain.DecisionApprove, ""); err != nil {
		t.Fatalf("vote: %v", err)
	}
	pending, err = env.Engine.ListPendingForReviewer(env.Ctx, "u1")
	if err != nil {
		t.Fatalf("pending u1 after vote: %v", err)
	}
	if len(pending) != 1 || pending[0].TargetRequestID != "req-b" {
		t.Fatalf("unexpected pending after vote: %+v", pending)
	}
}

func TestMultiStageWalkthrough(t *testing.T) {
	env := newTestEnv(t)
	wf := seedWorkflow(t, env,
		stageSpec{name: "supervisors", policy: domain.QuorumAll, reviewers: []string{"s1", "s2"}},
		stageSpec{name: "managers", policy: domain.QuorumAny, reviewers: []string{"m1", "m2"}},
		stageSpec{name: "director", policy: domain.QuorumAll, reviewers: []string{"d1"}},
	)
	in := mustInit(t, env, wf, "req-1")

	if _, err := env.Engine.CastVote(env.Ctx, in.ID, "s1", domain.DecisionApprove, ""); err != nil {
		t.Fatalf("s1: %v", err)
	}
	res, err := env.Engine.CastVote(env.Ctx, in.ID, "s2", domain.DecisionApprove, "")
	if err != nil || !res.MovedToNextNode || *res.NextStage != "managers" {
		t.Fatalf("expected advance to managers: %+v %v", res, err)
	}
	res, err = env.Engine.CastVote(env.Ctx, in.ID, "m2", domain.DecisionApprove, "")
	if err != nil || !res.MovedToNextNode || *res.NextStage != "director" {
		t.Fatalf("expected advance to director: %+v %v", res, err)
	}
	res, err = env.Engine.CastVote(env.Ctx, in.ID, "d1", domain.DecisionApprove, "")
	if err != nil {
		t.Fatalf("d1: %v", err)
	}
	if res.Status != domain.StatusApproved || res.MovedToNextNode || res.NextStage != nil {
		t.Fatalf("expected terminal approval: %+v", res)
	}
	if len(env.Adapter.calls) != 1 {
		t.Fatalf("adapter calls: %v", env.Adapter.calls)
	}
}

func boolPtr(b bool) *bool { return &b }
