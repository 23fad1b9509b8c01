package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"permitflow/internal/config"
	"permitflow/internal/db"
	"permitflow/internal/domain"
	"permitflow/internal/engine"
	"permitflow/internal/migrate"
	"permitflow/internal/workflow"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
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
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func actor(role string) domain.User {
	return domain.User{ID: "user-" + role, Role: role, Username: role}
}

var (
	officer    = actor(domain.RolePermittingOfficer)
	chair      = actor(domain.RoleChairperson)
	manager    = actor(domain.RoleCatchmentManager)
	catchChair = actor(domain.RoleCatchmentChairperson)
	supervisor = actor(domain.RolePermitSupervisor)
	ict        = actor(domain.RoleICT)
)

func createSubmitted(t *testing.T, env testEnv) domain.Application {
	t.Helper()
	a, err := env.Engine.CreateApplication(env.Ctx, officer, engine.CreateOptions{
		ApplicantName: "Tendai Marufu",
		PermitType:    "irrigation",
		WaterSource:   "ground_water",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a, err = env.Engine.Submit(env.Ctx, officer, a.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return a
}

func approve(t *testing.T, env testEnv, by domain.User, id, comment string) domain.Application {
	t.Helper()
	a, err := env.Engine.Transition(env.Ctx, by, engine.TransitionOptions{
		ApplicationID: id,
		Decision:      domain.DecisionApprove,
		Comment:       comment,
	})
	if err != nil {
		t.Fatalf("approve as %s: %v", by.Role, err)
	}
	return a
}

func TestCreateApplicationNumbering(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.CreateApplication(env.Ctx, officer, engine.CreateOptions{ApplicantName: "A"})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := env.Engine.CreateApplication(env.Ctx, officer, engine.CreateOptions{ApplicantName: "B"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if first.ApplicationID != "MC2024-0001" {
		t.Fatalf("first number = %s", first.ApplicationID)
	}
	if second.ApplicationID != "MC2024-0002" {
		t.Fatalf("second number = %s", second.ApplicationID)
	}
	if first.Status != domain.StatusUnsubmitted || first.CurrentStage != 0 {
		t.Fatalf("new application not unsubmitted at stage 0: %s/%d", first.Status, first.CurrentStage)
	}
	if first.Version != 1 {
		t.Fatalf("new application version = %d", first.Version)
	}
}

func TestCreateApplicationAuthorization(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateApplication(env.Ctx, chair, engine.CreateOptions{ApplicantName: "A"})
	var ae workflow.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	_, err = env.Engine.CreateApplication(env.Ctx, officer, engine.CreateOptions{})
	var ve workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for missing applicant, got %v", err)
	}
}

func TestFullApprovalPath(t *testing.T) {
	env := newTestEnv(t)
	a := createSubmitted(t, env)
	if a.Status != domain.StatusSubmitted || a.CurrentStage != 1 {
		t.Fatalf("after submit: %s/%d", a.Status, a.CurrentStage)
	}
	if a.SubmittedAt == nil {
		t.Fatalf("submitted_at not set")
	}

	a = approve(t, env, officer, a.ID, "")
	if a.Status != domain.StatusUnderReview || a.CurrentStage != 2 {
		t.Fatalf("after stage 1: %s/%d", a.Status, a.CurrentStage)
	}
	a = approve(t, env, chair, a.ID, "")
	if a.CurrentStage != 3 {
		t.Fatalf("after stage 2: stage %d", a.CurrentStage)
	}
	a = approve(t, env, manager, a.ID, "allocation within catchment limits")
	if a.CurrentStage != 4 {
		t.Fatalf("after stage 3: stage %d", a.CurrentStage)
	}
	a = approve(t, env, catchChair, a.ID, "")
	if a.Status != domain.StatusApproved || a.CurrentStage != 1 {
		t.Fatalf("final: %s/%d", a.Status, a.CurrentStage)
	}
	if a.ApprovedAt == nil {
		t.Fatalf("approved_at not set")
	}

	// The stage 3 comment was recorded against the stage it was made at.
	comments, err := env.Engine.Repo.ListCommentsByApplication(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(comments))
	}
	if comments[0].Stage != 3 || comments[0].IsRejectionReason {
		t.Fatalf("comment stage=%d rejection=%v", comments[0].Stage, comments[0].IsRejectionReason)
	}
}

func TestRejectionRequiresComment(t *testing.T) {
	env := newTestEnv(t)
	a := createSubmitted(t, env)
	a = approve(t, env, officer, a.ID, "")

	_, err := env.Engine.Transition(env.Ctx, chair, engine.TransitionOptions{
		ApplicationID: a.ID,
		Decision:      domain.DecisionReject,
	})
	var ve workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	rejected, err := env.Engine.Transition(env.Ctx, chair, engine.TransitionOptions{
		ApplicationID: a.ID,
		Decision:      domain.DecisionReject,
		Comment:       "allocation exceeds sub-catchment quota",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.StatusRejected || rejected.CurrentStage != 1 {
		t.Fatalf("after reject: %s/%d", rejected.Status, rejected.CurrentStage)
	}
	if rejected.RejectedAt == nil {
		t.Fatalf("rejected_at not set")
	}

	comments, _ := env.Engine.Repo.ListCommentsByApplication(env.Ctx, a.ID)
	if len(comments) != 1 || !comments[0].IsRejectionReason || comments[0].Stage != 2 {
		t.Fatalf("rejection reason not recorded: %+v", comments)
	}
}

func TestStage1CannotReject(t *testing.T) {
	env := newTestEnv(t)
	a := createSubmitted(t, env)
	_, err := env.Engine.Transition(env.Ctx, officer, engine.TransitionOptions{
		ApplicationID: a.ID,
		Decision:      domain.DecisionReject,
		Comment:       "no",
	})
	var ve workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestStage3ApprovalRequiresComment(t *testing.T) {
	env := newTestEnv(t)
	a := createSubmitted(t, env)
	a = approve(t, env, officer, a.ID, "")
	a = approve(t, env, chair, a.ID, "")
	_, err := env.Engine.Transition(env.Ctx, manager, engine.TransitionOptions{
		ApplicationID: a.ID,
		Decision:      domain.DecisionApprove,
	})
	var ve workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestWrongRoleLeavesRecordUnchanged(t *testing.T) {
	env := newTestEnv(t)
	a := createSubmitted(t, env)

	// Chairperson's stage has not been reached yet.
	_, err := env.Engine.Transition(env.Ctx, chair, engine.TransitionOptions{
		ApplicationID: a.ID,
		Decision:      domain.DecisionApprove,
	})
	var ae workflow.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}

	// Roles with no stage cannot decide at all.
	for _, u := range []domain.User{supervisor, ict} {
		_, err := env.Engine.Transition(env.Ctx, u, engine.TransitionOptions{
			ApplicationID: a.ID,
			Decision:      domain.DecisionApprove,
		})
		if !errors.As(err, &ae) {
			t.Fatalf("%s: expected AuthorizationError, got %v", u.Role, err)
		}
	}

	got, err := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != a.Status || got.CurrentStage != a.CurrentStage || got.Version != a.Version {
		t.Fatalf("record changed by denied decision: %+v", got)
	}
}

func TestStaleDecisionOnMovedApplication(t *testing.T) {
	env := newTestEnv(t)
	a := createSubmitted(t, env)
	a = approve(t, env, officer, a.ID, "")

	// Officer's stage is already behind the application.
	_, err := env.Engine.Transition(env.Ctx, officer, engine.TransitionOptions{
		ApplicationID: a.ID,
		Decision:      domain.DecisionApprove,
	})
	var se workflow.StaleStateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StaleStateError, got %v", err)
	}
}

func TestStaleDecisionOnResolvedApplication(t *testing.T) {
	env := newTestEnv(t)
	a := createSubmitted(t, env)
	a = approve(t, env, officer, a.ID, "")
	if _, err := env.Engine.Transition(env.Ctx, chair, engine.TransitionOptions{
		ApplicationID: a.ID,
		Decision:      domain.DecisionReject,
		Comment:       "incomplete documentation",
	}); err != nil {
		t.Fatalf("reject: %v", err)
	}

	_, err := env.Engine.Transition(env.Ctx, chair, engine.TransitionOptions{
		ApplicationID: a.ID,
		Decision:      domain.DecisionReject,
		Comment:       "incomplete documentation",
	})
	var se workflow.StaleStateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StaleStateError on double reject, got %v", err)
	}
}

func TestConcurrentDecisionsOneWins(t *testing.T) {
	env := newTestEnv(t)
	a := createSubmitted(t, env)

	// Two reviewers act on the same observed state; the version guard lets
	// exactly one commit.
	start := make(chan struct{})
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			_, err := env.Engine.Transition(env.Ctx, officer, engine.TransitionOptions{
				ApplicationID: a.ID,
				Decision:      domain.DecisionApprove,
			})
			errs <- err
		}()
	}
	close(start)

	var succeeded, stale int
	for i := 0; i < 2; i++ {
		err := <-errs
		if err == nil {
			succeeded++
			continue
		}
		var se workflow.StaleStateError
		if !errors.As(err, &se) {
			t.Fatalf("expected StaleStateError for the loser, got %v", err)
		}
		stale++
	}
	if succeeded != 1 || stale != 1 {
		t.Fatalf("succeeded=%d stale=%d, want exactly one of each", succeeded, stale)
	}

	got, err := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusUnderReview || got.CurrentStage != 2 {
		t.Fatalf("decision applied more than once: %s/%d", got.Status, got.CurrentStage)
	}
}

func TestDoubleSubmit(t *testing.T) {
	env := newTestEnv(t)
	a := createSubmitted(t, env)
	_, err := env.Engine.Submit(env.Ctx, officer, a.ID)
	var se workflow.StaleStateError
	if !errors.As(err, &se) {
		t.Fatalf("expected StaleStateError, got %v", err)
	}
}

func TestDecisionOnUnsubmitted(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateApplication(env.Ctx, officer, engine.CreateOptions{ApplicantName: "A"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = env.Engine.Transition(env.Ctx, officer, engine.TransitionOptions{
		ApplicationID: a.ID,
		Decision:      domain.DecisionApprove,
	})
	var ve workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestUpdateDetailsOnlyWhileUnsubmitted(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateApplication(env.Ctx, officer, engine.CreateOptions{ApplicantName: "A"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	updated, err := env.Engine.UpdateDetails(env.Ctx, officer, a.ID, engine.CreateOptions{
		ApplicantName: "A",
		IntendedUse:   "horticulture",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.IntendedUse != "horticulture" {
		t.Fatalf("details not applied")
	}

	if _, err := env.Engine.Submit(env.Ctx, officer, a.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = env.Engine.UpdateDetails(env.Ctx, officer, a.ID, engine.CreateOptions{ApplicantName: "B"})
	var ve workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError after submit, got %v", err)
	}
}

func TestBatchPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	ready := createSubmitted(t, env)
	ready = approve(t, env, officer, ready.ID, "")

	unsubmitted, err := env.Engine.CreateApplication(env.Ctx, officer, engine.CreateOptions{ApplicantName: "B"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	results := env.Engine.TransitionBatch(env.Ctx, chair,
		[]string{ready.ID, unsubmitted.ID, "missing"},
		domain.DecisionApprove, "")
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("first should advance: %v", results[0].Err)
	}
	if results[0].Application.CurrentStage != 3 {
		t.Fatalf("first stage = %d", results[0].Application.CurrentStage)
	}
	if results[1].Err == nil {
		t.Fatalf("unsubmitted should fail")
	}
	if results[2].Err == nil {
		t.Fatalf("missing id should fail")
	}
}

func TestAddComment(t *testing.T) {
	env := newTestEnv(t)
	a := createSubmitted(t, env)
	c, err := env.Engine.AddComment(env.Ctx, supervisor, a.ID, "awaiting site inspection")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if c.Stage != 1 || c.IsRejectionReason {
		t.Fatalf("comment stage=%d rejection=%v", c.Stage, c.IsRejectionReason)
	}
	_, err = env.Engine.AddComment(env.Ctx, supervisor, a.ID, "   ")
	var ve workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for blank text, got %v", err)
	}
}

func TestAmendCommentRestrictedToICT(t *testing.T) {
	env := newTestEnv(t)
	a := createSubmitted(t, env)
	c, err := env.Engine.AddComment(env.Ctx, officer, a.ID, "orignal text")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}

	_, err = env.Engine.AmendComment(env.Ctx, officer, c.ID, "edited")
	var ae workflow.AuthorizationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}

	amended, err := env.Engine.AmendComment(env.Ctx, ict, c.ID, "original text")
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	if amended.Text != "original text" {
		t.Fatalf("text not replaced: %s", amended.Text)
	}

	// The amendment is audited with the prior text.
	logs, err := env.Engine.Repo.ListActivityLogs(env.Ctx, a.ID, 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	found := false
	for _, l := range logs {
		if l.Action == "comment.amended" {
			found = true
		}
	}
	if !found {
		t.Fatalf("amend not audited: %+v", logs)
	}
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	a := createSubmitted(t, env)
	a = approve(t, env, officer, a.ID, "")

	logs, err := env.Engine.Repo.ListActivityLogs(env.Ctx, a.ID, 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	actions := map[string]bool{}
	for _, l := range logs {
		actions[l.Action] = true
	}
	for _, want := range []string{"application.created", "application.submitted", "application.advanced"} {
		if !actions[want] {
			t.Fatalf("missing audit action %s in %v", want, actions)
		}
	}
}
