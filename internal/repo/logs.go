package repo

import (
	"context"
	"database/sql"

	"permitflow/internal/domain"
)

// InsertActivityLog appends one activity-log row, inside tx when provided.
func (r Repo) InsertActivityLog(ctx context.Context, tx *sql.Tx, l domain.ActivityLog) error {
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err := exec(`INSERT INTO activity_logs(ts, actor_id, actor_role, action, detail, application_id)
VALUES (?,?,?,?,?,?)`,
		l.TS, l.ActorID, l.ActorRole, l.Action, nullable(l.Detail), nullable(l.ApplicationID))
	return err
}

// ListActivityLogs returns log entries newest first, optionally scoped to an
// application, capped at limit (default 100).
func (r Repo) ListActivityLogs(ctx context.Context, applicationID string, limit int) ([]domain.ActivityLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT id, ts, actor_id, actor_role, action, COALESCE(detail,''), COALESCE(application_id,'')
FROM activity_logs`
	var args []any
	if applicationID != "" {
		query += ` WHERE application_id=?`
		args = append(args, applicationID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityLog
	for rows.Next() {
		var l domain.ActivityLog
		if err := rows.Scan(&l.ID, &l.TS, &l.ActorID, &l.ActorRole, &l.Action, &l.Detail, &l.ApplicationID); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
