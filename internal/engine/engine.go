package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"permitflow/internal/audit"
	"permitflow/internal/config"
	"permitflow/internal/domain"
	"permitflow/internal/repo"
	"permitflow/internal/workflow"
)

// Engine is the single authority permitted to change an application's status
// and stage, and to append workflow comments.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Auditor
	Config *config.Config
	Logger *log.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Audit:  audit.Writer{Repo: r},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) stageFor(n int) (workflow.Stage, bool) {
	if e.Config != nil {
		return e.Config.StageFor(n)
	}
	return workflow.StageFor(n)
}

// stageOwnedBy returns the stage the role is responsible for. Each reviewing
// role owns exactly one stage.
func (e Engine) stageOwnedBy(role string) (workflow.Stage, bool) {
	for n := 1; n <= 4; n++ {
		if s, ok := e.stageFor(n); ok && s.RequiredRole == role {
			return s, true
		}
	}
	return workflow.Stage{}, false
}

// CreateOptions are parameters for creating a permit application.
type CreateOptions struct {
	ApplicantName         string
	PhysicalAddress       string
	PostalAddress         string
	CustomerAccountNumber string
	CellularNumber        string
	PermitType            string
	WaterSource           string
	WaterAllocation       float64
	LandSize              float64
	NumberOfBoreholes     int
	GPSLatitude           float64
	GPSLongitude          float64
	IntendedUse           string
	ValidityPeriod        int
}

// CreateApplication records a new application at stage 0, unsubmitted. Only
// the originating role may create applications. The human-readable number is
// allocated inside the same transaction as the insert so it is never reused.
func (e Engine) CreateApplication(ctx context.Context, actor domain.User, opts CreateOptions) (domain.Application, error) {
	if actor.Role != domain.RolePermittingOfficer {
		return domain.Application{}, workflow.AuthorizationError{Role: actor.Role, RequiredRole: domain.RolePermittingOfficer}
	}
	if !workflow.NonEmpty(opts.ApplicantName) {
		return domain.Application{}, workflow.ValidationError{Msg: "applicant name is required"}
	}
	now := e.nowString()
	a := domain.Application{
		ID:                    uuid.New().String(),
		Status:                domain.StatusUnsubmitted,
		CurrentStage:          0,
		Version:               1,
		ApplicantName:         opts.ApplicantName,
		PhysicalAddress:       opts.PhysicalAddress,
		PostalAddress:         opts.PostalAddress,
		CustomerAccountNumber: opts.CustomerAccountNumber,
		CellularNumber:        opts.CellularNumber,
		PermitType:            opts.PermitType,
		WaterSource:           opts.WaterSource,
		WaterAllocation:       opts.WaterAllocation,
		LandSize:              opts.LandSize,
		NumberOfBoreholes:     opts.NumberOfBoreholes,
		GPSLatitude:           opts.GPSLatitude,
		GPSLongitude:          opts.GPSLongitude,
		IntendedUse:           opts.IntendedUse,
		ValidityPeriod:        opts.ValidityPeriod,
		CreatedBy:             actor.ID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	number, err := e.Repo.NextApplicationNumber(ctx, tx, e.now().UTC().Year())
	if err != nil {
		return domain.Application{}, err
	}
	a.ApplicationID = number
	if err := e.Repo.InsertApplication(ctx, tx, a); err != nil {
		return domain.Application{}, fmt.Errorf("insert application: %w", err)
	}
	audit.Try(ctx, e.Audit, tx, e.Logger, domain.ActivityLog{
		TS: now, ActorID: actor.ID, ActorRole: actor.Role,
		Action: "application.created", Detail: a.ApplicationID, ApplicationID: a.ID,
	})
	if err := tx.Commit(); err != nil {
		return domain.Application{}, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

// UpdateDetails edits applicant-supplied fields. Allowed only while the
// application is unsubmitted, and only by its creator.
func (e Engine) UpdateDetails(ctx context.Context, actor domain.User, applicationID string, opts CreateOptions) (domain.Application, error) {
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.Application{}, err
	}
	if a.CreatedBy != actor.ID {
		return domain.Application{}, workflow.AuthorizationError{Role: actor.Role}
	}
	if a.Status != domain.StatusUnsubmitted {
		return domain.Application{}, workflow.ValidationError{Msg: "only unsubmitted applications can be edited"}
	}
	if !workflow.NonEmpty(opts.ApplicantName) {
		return domain.Application{}, workflow.ValidationError{Msg: "applicant name is required"}
	}
	a.ApplicantName = opts.ApplicantName
	a.PhysicalAddress = opts.PhysicalAddress
	a.PostalAddress = opts.PostalAddress
	a.CustomerAccountNumber = opts.CustomerAccountNumber
	a.CellularNumber = opts.CellularNumber
	a.PermitType = opts.PermitType
	a.WaterSource = opts.WaterSource
	a.WaterAllocation = opts.WaterAllocation
	a.LandSize = opts.LandSize
	a.NumberOfBoreholes = opts.NumberOfBoreholes
	a.GPSLatitude = opts.GPSLatitude
	a.GPSLongitude = opts.GPSLongitude
	a.IntendedUse = opts.IntendedUse
	a.ValidityPeriod = opts.ValidityPeriod
	a.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateApplicationDetails(ctx, a); err != nil {
		return domain.Application{}, err
	}
	return a, nil
}

// Submit moves an unsubmitted application to stage 1, status submitted. The
// creator or any permitting officer may submit.
func (e Engine) Submit(ctx context.Context, actor domain.User, applicationID string) (domain.Application, error) {
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.Application{}, err
	}
	if a.CreatedBy != actor.ID && actor.Role != domain.RolePermittingOfficer {
		return domain.Application{}, workflow.AuthorizationError{Role: actor.Role, RequiredRole: domain.RolePermittingOfficer}
	}
	if a.Status != domain.StatusUnsubmitted {
		return domain.Application{}, workflow.StaleStateError{ApplicationID: a.ID, Stage: a.CurrentStage, Status: a.Status}
	}
	now := e.nowString()
	prior := a.Version
	a.Status = domain.StatusSubmitted
	a.CurrentStage = 1
	a.SubmittedAt = &now
	a.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := e.applyState(ctx, tx, a); err != nil {
		return domain.Application{}, err
	}
	audit.Try(ctx, e.Audit, tx, e.Logger, domain.ActivityLog{
		TS: now, ActorID: actor.ID, ActorRole: actor.Role,
		Action: "application.submitted", Detail: a.ApplicationID, ApplicationID: a.ID,
	})
	if err := tx.Commit(); err != nil {
		return domain.Application{}, fmt.Errorf("commit: %w", err)
	}
	a.Version = prior + 1
	return a, nil
}

// TransitionOptions describe one review decision.
type TransitionOptions struct {
	ApplicationID string
	Decision      string
	Comment       string
}

// Transition validates and applies one review decision. Status update,
// comment append, and audit entry commit as one transaction; a concurrent
// writer surfaces as StaleStateError.
func (e Engine) Transition(ctx context.Context, actor domain.User, opts TransitionOptions) (domain.Application, error) {
	if !workflow.ValidDecision(opts.Decision) {
		return domain.Application{}, workflow.ValidationError{Msg: fmt.Sprintf("unknown decision %q", opts.Decision)}
	}
	a, err := e.Repo.GetApplication(ctx, opts.ApplicationID)
	if err != nil {
		return domain.Application{}, err
	}

	owned, owns := e.stageOwnedBy(actor.Role)
	if !owns {
		return domain.Application{}, workflow.AuthorizationError{Role: actor.Role}
	}
	if a.Status == domain.StatusApproved || a.Status == domain.StatusRejected {
		// The submission cycle is resolved; whatever decision the actor
		// observed has already been applied (double submit, stale
		// dashboard).
		return domain.Application{}, workflow.StaleStateError{ApplicationID: a.ID, Stage: a.CurrentStage, Status: a.Status}
	}
	if a.Status == domain.StatusUnsubmitted {
		return domain.Application{}, workflow.ValidationError{Msg: "application has not been submitted"}
	}
	stage, reviewable := e.stageFor(a.CurrentStage)
	if !reviewable {
		return domain.Application{}, workflow.ValidationError{Msg: fmt.Sprintf("stage %d is not reviewable", a.CurrentStage)}
	}
	if owned.Number < a.CurrentStage {
		// The application moved past the actor's stage within this cycle.
		return domain.Application{}, workflow.StaleStateError{ApplicationID: a.ID, Stage: a.CurrentStage, Status: a.Status}
	}
	if !workflow.CanAct(actor.Role, stage.RequiredRole) {
		return domain.Application{}, workflow.AuthorizationError{Role: actor.Role, RequiredRole: stage.RequiredRole, Stage: stage.Number}
	}

	rejecting := opts.Decision == domain.DecisionReject
	if rejecting {
		if !stage.CanReject {
			return domain.Application{}, workflow.ValidationError{Msg: fmt.Sprintf("stage %d does not allow rejection", stage.Number)}
		}
		if !workflow.NonEmpty(opts.Comment) {
			return domain.Application{}, workflow.ValidationError{Msg: "rejection requires comment"}
		}
	} else if stage.CommentRequired && !workflow.NonEmpty(opts.Comment) {
		return domain.Application{}, workflow.ValidationError{Msg: fmt.Sprintf("approval at stage %d requires comment", stage.Number)}
	}

	now := e.nowString()
	prior := a.Version
	priorStage := a.CurrentStage
	if rejecting {
		a.CurrentStage, a.Status = workflow.NextOnReject()
		a.RejectedAt = &now
	} else {
		a.CurrentStage, a.Status = workflow.NextOnApprove(stage)
		if stage.Final {
			a.ApprovedAt = &now
		}
	}
	a.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := e.applyState(ctx, tx, a); err != nil {
		return domain.Application{}, err
	}
	if workflow.NonEmpty(opts.Comment) {
		c := domain.Comment{
			ID:                uuid.New().String(),
			ApplicationID:     a.ID,
			AuthorID:          actor.ID,
			AuthorRole:        actor.Role,
			Stage:             priorStage,
			Text:              opts.Comment,
			IsRejectionReason: rejecting,
			CreatedAt:         now,
		}
		if err := e.Repo.AppendComment(ctx, tx, c); err != nil {
			return domain.Application{}, fmt.Errorf("append comment: %w", err)
		}
	}
	audit.Try(ctx, e.Audit, tx, e.Logger, domain.ActivityLog{
		TS: now, ActorID: actor.ID, ActorRole: actor.Role,
		Action: "application." + actionFor(rejecting, stage),
		Detail: fmt.Sprintf("%s stage %d -> %d (%s)", a.ApplicationID, priorStage, a.CurrentStage, a.Status),
		ApplicationID: a.ID,
	})
	if err := tx.Commit(); err != nil {
		return domain.Application{}, fmt.Errorf("commit: %w", err)
	}
	a.Version = prior + 1
	return a, nil
}

func actionFor(rejecting bool, stage workflow.Stage) string {
	if rejecting {
		return "rejected"
	}
	if stage.Final {
		return "approved"
	}
	return "advanced"
}

// applyState runs the compare-and-swap update, translating a lost race into
// StaleStateError with the current persisted state attached.
func (e Engine) applyState(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	err := e.Repo.UpdateApplicationState(ctx, tx, a)
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrVersionConflict) {
		stale := workflow.StaleStateError{ApplicationID: a.ID}
		if current, gerr := e.Repo.GetApplication(ctx, a.ID); gerr == nil {
			stale.Stage = current.CurrentStage
			stale.Status = current.Status
		}
		return stale
	}
	return fmt.Errorf("update application: %w", err)
}

// BatchResult is the outcome of one application within a batch transition.
type BatchResult struct {
	ApplicationID string
	Application   domain.Application
	Err           error
}

// TransitionBatch applies the same decision to each application
// independently: one failure neither blocks nor rolls back the others, and
// each application commits under its own transaction.
func (e Engine) TransitionBatch(ctx context.Context, actor domain.User, ids []string, decision, comment string) []BatchResult {
	results := make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		a, err := e.Transition(ctx, actor, TransitionOptions{
			ApplicationID: id,
			Decision:      decision,
			Comment:       comment,
		})
		results = append(results, BatchResult{ApplicationID: id, Application: a, Err: err})
	}
	return results
}

// AddComment appends a standalone workflow comment outside a decision, at the
// application's current stage. Any of the six roles may comment.
func (e Engine) AddComment(ctx context.Context, actor domain.User, applicationID, text string) (domain.Comment, error) {
	if !workflow.NonEmpty(text) {
		return domain.Comment{}, workflow.ValidationError{Msg: "comment text is required"}
	}
	if !domain.ValidRole(actor.Role) {
		return domain.Comment{}, workflow.AuthorizationError{Role: actor.Role}
	}
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.Comment{}, err
	}
	now := e.nowString()
	c := domain.Comment{
		ID:            uuid.New().String(),
		ApplicationID: a.ID,
		AuthorID:      actor.ID,
		AuthorRole:    actor.Role,
		Stage:         a.CurrentStage,
		Text:          text,
		CreatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := e.Repo.AppendComment(ctx, tx, c); err != nil {
		return domain.Comment{}, fmt.Errorf("append comment: %w", err)
	}
	audit.Try(ctx, e.Audit, tx, e.Logger, domain.ActivityLog{
		TS: now, ActorID: actor.ID, ActorRole: actor.Role,
		Action: "comment.added", Detail: a.ApplicationID, ApplicationID: a.ID,
	})
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// AmendComment replaces a comment's text. Restricted to the ict role and
// always audited with the text it replaced; the ledger stays append-only for
// everyone else.
func (e Engine) AmendComment(ctx context.Context, actor domain.User, commentID, text string) (domain.Comment, error) {
	if actor.Role != domain.RoleICT {
		return domain.Comment{}, workflow.AuthorizationError{Role: actor.Role, RequiredRole: domain.RoleICT}
	}
	if !workflow.NonEmpty(text) {
		return domain.Comment{}, workflow.ValidationError{Msg: "comment text is required"}
	}
	c, err := e.Repo.GetComment(ctx, commentID)
	if err != nil {
		return domain.Comment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := e.Repo.AmendCommentText(ctx, tx, c.ID, text); err != nil {
		return domain.Comment{}, err
	}
	audit.Try(ctx, e.Audit, tx, e.Logger, domain.ActivityLog{
		TS: e.nowString(), ActorID: actor.ID, ActorRole: actor.Role,
		Action: "comment.amended",
		Detail: fmt.Sprintf("comment %s previous text: %s", c.ID, c.Text),
		ApplicationID: c.ApplicationID,
	})
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, fmt.Errorf("commit: %w", err)
	}
	c.Text = text
	return c, nil
}
