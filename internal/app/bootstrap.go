package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"permitflow/internal/config"
	"permitflow/internal/db"
	"permitflow/internal/domain"
	"permitflow/internal/migrate"
	"permitflow/internal/repo"
)

// Open prepares a workspace: database opened, migrations applied, config
// loaded (file or built-in default).
func Open(workspace string) (*sql.DB, *config.Config, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, cfg, nil
}

// SeedUsers inserts the configured reviewer roster, skipping usernames that
// already exist so reseeding is safe.
func SeedUsers(ctx context.Context, r repo.Repo, cfg *config.Config) ([]domain.User, error) {
	var created []domain.User
	for _, su := range cfg.Seed.Users {
		if _, err := r.GetUserByUsername(ctx, su.Username); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		u := domain.User{
			ID:        uuid.New().String(),
			Username:  su.Username,
			Role:      su.Role,
			FirstName: su.FirstName,
			LastName:  su.LastName,
			IsActive:  true,
		}
		if err := r.InsertUser(ctx, u); err != nil {
			return nil, fmt.Errorf("seed user %s: %w", su.Username, err)
		}
		created = append(created, u)
	}
	return created, nil
}
