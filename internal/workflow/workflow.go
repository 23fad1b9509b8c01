package workflow

import (
	"strings"

	"permitflow/internal/domain"
)

// Stage describes one checkpoint of the fixed approval sequence.
type Stage struct {
	Number          int
	Name            string
	RequiredRole    string
	CommentRequired bool // comment mandatory even on approve
	CanReject       bool
	Final           bool // approve here produces the terminal approved status
}

// Stages is the fixed approval sequence. Stage 0 is pre-submission and has no
// reviewer; stages 1-4 are acted on by exactly one role each.
var Stages = map[int]Stage{
	1: {Number: 1, Name: "Permitting Officer", RequiredRole: domain.RolePermittingOfficer},
	2: {Number: 2, Name: "Upper Manyame Sub Catchment Council Chairperson", RequiredRole: domain.RoleChairperson, CanReject: true},
	3: {Number: 3, Name: "Manyame Catchment Manager", RequiredRole: domain.RoleCatchmentManager, CommentRequired: true, CanReject: true},
	4: {Number: 4, Name: "Manyame Catchment Chairperson", RequiredRole: domain.RoleCatchmentChairperson, CanReject: true, Final: true},
}

// StageFor returns the stage definition, if the number names a reviewable stage.
func StageFor(n int) (Stage, bool) {
	s, ok := Stages[n]
	return s, ok
}

// CanAct reports whether role satisfies requiredRole.
func CanAct(role, requiredRole string) bool {
	return role != "" && role == requiredRole
}

// NonEmpty reports whether s contains any non-whitespace text.
func NonEmpty(s string) bool {
	return strings.TrimSpace(s) != ""
}

// ValidDecision reports whether d is one of the two review decisions.
func ValidDecision(d string) bool {
	return d == domain.DecisionApprove || d == domain.DecisionReject
}

// NextOnApprove returns the stage and status an approve decision produces.
func NextOnApprove(s Stage) (stage int, status string) {
	if s.Final {
		return 1, domain.StatusApproved
	}
	return s.Number + 1, domain.StatusUnderReview
}

// NextOnReject returns the stage and status a reject decision produces.
// Rejection at any review stage routes back to stage 1 terminally.
func NextOnReject() (stage int, status string) {
	return 1, domain.StatusRejected
}
