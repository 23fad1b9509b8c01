package repo

import (
	"context"
	"database/sql"
	"errors"

	"permitflow/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	if u.ID == "" {
		return errors.New("id required")
	}
	if !domain.ValidRole(u.Role) {
		return errors.New("unknown role " + u.Role)
	}
	if u.CreatedAt == "" {
		u.CreatedAt = nowRFC3339()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id, username, role, first_name, last_name, created_at, is_active)
VALUES (?,?,?,?,?,?,?)`,
		u.ID, u.Username, u.Role, nullable(u.FirstName), nullable(u.LastName), u.CreatedAt, boolInt(u.IsActive))
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id, username, role, COALESCE(first_name,''), COALESCE(last_name,''), created_at, is_active
FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id, username, role, COALESCE(first_name,''), COALESCE(last_name,''), created_at, is_active
FROM users WHERE username=?`, username))
}

func (r Repo) ListUsers(ctx context.Context, role string) ([]domain.User, error) {
	query := `SELECT id, username, role, COALESCE(first_name,''), COALESCE(last_name,''), created_at, is_active FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY username ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var active int
	err := row.Scan(&u.ID, &u.Username, &u.Role, &u.FirstName, &u.LastName, &u.CreatedAt, &active)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.IsActive = active != 0
	return u, nil
}
