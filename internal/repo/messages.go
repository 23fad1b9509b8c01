package repo

import (
	"context"
	"database/sql"

	"permitflow/internal/domain"
)

const messageColumns = `id, sender_id, receiver_id, COALESCE(subject,''), content, is_public, created_at, read_at`

func scanMessage(row rowScanner) (domain.Message, error) {
	var m domain.Message
	var receiver, readAt sql.NullString
	var public int
	err := row.Scan(&m.ID, &m.SenderID, &receiver, &m.Subject, &m.Content, &public, &m.CreatedAt, &readAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if receiver.Valid {
		m.ReceiverID = &receiver.String
	}
	if readAt.Valid {
		m.ReadAt = &readAt.String
	}
	m.IsPublic = public != 0
	return m, nil
}

func (r Repo) AppendMessage(ctx context.Context, m domain.Message) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO messages(id, sender_id, receiver_id, subject, content, is_public, created_at, read_at)
VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.SenderID, nullPtr(m.ReceiverID), nullable(m.Subject), m.Content,
		boolInt(m.IsPublic), m.CreatedAt, nullPtr(m.ReadAt))
	return err
}

func (r Repo) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	return scanMessage(r.DB.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id=?`, id))
}

// ListMessagesByParticipant returns directed messages where the user is
// sender or receiver, newest first.
func (r Repo) ListMessagesByParticipant(ctx context.Context, userID string) ([]domain.Message, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages
WHERE is_public=0 AND (sender_id=? OR receiver_id=?)
ORDER BY created_at DESC, id DESC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListPublicMessages returns broadcast messages, newest first.
func (r Repo) ListPublicMessages(ctx context.Context) ([]domain.Message, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages
WHERE is_public=1 ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// CountUnread counts directed messages addressed to the user with no read
// timestamp. Broadcasts carry no per-user read obligation.
func (r Repo) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages
WHERE receiver_id=? AND read_at IS NULL`, userID).Scan(&n)
	return n, err
}

// SetMessageReadAt stamps read_at if unset. Already-read messages are left
// untouched so the first read time survives repeated calls.
func (r Repo) SetMessageReadAt(ctx context.Context, id, ts string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE messages SET read_at=? WHERE id=? AND read_at IS NULL`, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id=?`, id).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func collectMessages(rows *sql.Rows) ([]domain.Message, error) {
	var res []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
