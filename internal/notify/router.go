// Package notify answers what message traffic is visible to a user and how
// much of it is unread. Delivery is pull-based: dashboards poll on a fixed
// interval, so the router stays stateless over the message store.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"permitflow/internal/audit"
	"permitflow/internal/domain"
	"permitflow/internal/repo"
	"permitflow/internal/workflow"
)

type Router struct {
	Repo   repo.Repo
	Audit  audit.Auditor
	Logger *log.Logger
	Now    func() time.Time
}

func New(r repo.Repo) Router {
	return Router{
		Repo:  r,
		Audit: audit.Writer{Repo: r},
		Now:   time.Now,
	}
}

func (rt Router) nowString() string {
	now := rt.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

// SendOptions describe one outgoing message. ReceiverID empty means
// broadcast; the stored is_public flag is derived from that, never taken from
// the caller.
type SendOptions struct {
	ReceiverID string
	Subject    string
	Content    string
	Broadcast  bool
}

// Send appends a message. Directed sends require a receiver; broadcast sends
// must not name one.
func (rt Router) Send(ctx context.Context, sender domain.User, opts SendOptions) (domain.Message, error) {
	if !workflow.NonEmpty(opts.Content) {
		return domain.Message{}, workflow.ValidationError{Msg: "message content is required"}
	}
	if opts.Broadcast && opts.ReceiverID != "" {
		return domain.Message{}, workflow.ValidationError{Msg: "broadcast message cannot name a receiver"}
	}
	if !opts.Broadcast && opts.ReceiverID == "" {
		return domain.Message{}, workflow.ValidationError{Msg: "directed message requires a receiver"}
	}
	m := domain.Message{
		ID:        uuid.New().String(),
		SenderID:  sender.ID,
		Subject:   opts.Subject,
		Content:   opts.Content,
		IsPublic:  opts.Broadcast,
		CreatedAt: rt.nowString(),
	}
	if !opts.Broadcast {
		receiver := opts.ReceiverID
		m.ReceiverID = &receiver
	}
	if err := rt.Repo.AppendMessage(ctx, m); err != nil {
		return domain.Message{}, err
	}
	audit.Try(ctx, rt.Audit, nil, rt.Logger, domain.ActivityLog{
		TS: m.CreatedAt, ActorID: sender.ID, ActorRole: sender.Role,
		Action: "message.sent", Detail: messageKind(m),
	})
	return m, nil
}

// GetVisible returns the messages user may see. Public listing returns all
// broadcasts; private listing returns only directed traffic the user
// participates in, so third parties never see it regardless of query
// parameters.
func (rt Router) GetVisible(ctx context.Context, userID string, isPublic bool) ([]domain.Message, error) {
	if isPublic {
		return rt.Repo.ListPublicMessages(ctx)
	}
	return rt.Repo.ListMessagesByParticipant(ctx, userID)
}

// UnreadCount counts directed messages addressed to the user that have not
// been read. Broadcasts never count.
func (rt Router) UnreadCount(ctx context.Context, userID string) (int, error) {
	return rt.Repo.CountUnread(ctx, userID)
}

// MarkRead stamps a message read. Only the receiver may mark it; repeated
// calls are a no-op that keeps the original read time.
func (rt Router) MarkRead(ctx context.Context, actor domain.User, messageID string) error {
	m, err := rt.Repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.Broadcast() {
		return workflow.ValidationError{Msg: "broadcast messages carry no read receipt"}
	}
	if *m.ReceiverID != actor.ID {
		return workflow.AuthorizationError{Role: actor.Role}
	}
	if m.ReadAt != nil {
		return nil
	}
	return rt.Repo.SetMessageReadAt(ctx, messageID, rt.nowString())
}

func messageKind(m domain.Message) string {
	if m.IsPublic {
		return "broadcast"
	}
	return "directed to " + *m.ReceiverID
}
