package repo

import (
	"context"
	"database/sql"

	"permitflow/internal/domain"
)

// AppendComment writes a workflow comment. Comments are append-only; the only
// mutation path is AmendCommentText, which is restricted and audited by the
// caller.
func (r Repo) AppendComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err := exec(`INSERT INTO comments(id, application_id, author_id, author_role, stage, text, is_rejection_reason, created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.ApplicationID, c.AuthorID, c.AuthorRole, c.Stage, c.Text,
		boolInt(c.IsRejectionReason), c.CreatedAt)
	return err
}

func (r Repo) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, application_id, author_id, author_role, stage, text, is_rejection_reason, created_at
FROM comments WHERE id=?`, id)
	return scanComment(row)
}

// ListCommentsByApplication returns comments in creation-time ascending order.
func (r Repo) ListCommentsByApplication(ctx context.Context, applicationID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, application_id, author_id, author_role, stage, text, is_rejection_reason, created_at
FROM comments WHERE application_id=? ORDER BY created_at ASC, id ASC`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// AmendCommentText replaces a comment's text in place. The rejection-reason
// flag, author, and stage are immutable.
func (r Repo) AmendCommentText(ctx context.Context, tx *sql.Tx, id, text string) error {
	res, err := tx.ExecContext(ctx, `UPDATE comments SET text=? WHERE id=?`, text, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanComment(row rowScanner) (domain.Comment, error) {
	var c domain.Comment
	var rejection int
	err := row.Scan(&c.ID, &c.ApplicationID, &c.AuthorID, &c.AuthorRole, &c.Stage, &c.Text, &rejection, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.IsRejectionReason = rejection != 0
	return c, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
