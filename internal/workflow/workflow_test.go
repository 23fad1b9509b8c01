package workflow_test

import (
	"testing"

	"permitflow/internal/domain"
	"permitflow/internal/workflow"
)

func TestStageCatalog(t *testing.T) {
	for n := 1; n <= 4; n++ {
		s, ok := workflow.StageFor(n)
		if !ok {
			t.Fatalf("stage %d missing", n)
		}
		if s.Number != n {
			t.Fatalf("stage %d has number %d", n, s.Number)
		}
	}
	if _, ok := workflow.StageFor(0); ok {
		t.Fatalf("stage 0 should not be reviewable")
	}
	if _, ok := workflow.StageFor(5); ok {
		t.Fatalf("stage 5 should not exist")
	}

	one, _ := workflow.StageFor(1)
	if one.CanReject {
		t.Fatalf("stage 1 must not reject")
	}
	three, _ := workflow.StageFor(3)
	if !three.CommentRequired {
		t.Fatalf("stage 3 approval requires comment")
	}
	four, _ := workflow.StageFor(4)
	if !four.Final {
		t.Fatalf("stage 4 must be final")
	}
}

func TestNextOnApprove(t *testing.T) {
	two, _ := workflow.StageFor(2)
	stage, status := workflow.NextOnApprove(two)
	if stage != 3 || status != domain.StatusUnderReview {
		t.Fatalf("approve at 2: got stage %d status %s", stage, status)
	}
	four, _ := workflow.StageFor(4)
	stage, status = workflow.NextOnApprove(four)
	if stage != 1 || status != domain.StatusApproved {
		t.Fatalf("final approve: got stage %d status %s", stage, status)
	}
}

func TestNextOnReject(t *testing.T) {
	stage, status := workflow.NextOnReject()
	if stage != 1 || status != domain.StatusRejected {
		t.Fatalf("reject: got stage %d status %s", stage, status)
	}
}

func TestCanAct(t *testing.T) {
	if !workflow.CanAct(domain.RoleChairperson, domain.RoleChairperson) {
		t.Fatalf("owning role must act")
	}
	if workflow.CanAct(domain.RolePermitSupervisor, domain.RoleChairperson) {
		t.Fatalf("supervisor must not act for chairperson")
	}
}

func TestValidDecision(t *testing.T) {
	if !workflow.ValidDecision(domain.DecisionApprove) || !workflow.ValidDecision(domain.DecisionReject) {
		t.Fatalf("approve/reject must be valid")
	}
	if workflow.ValidDecision("defer") {
		t.Fatalf("unknown decision accepted")
	}
}
