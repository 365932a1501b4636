package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shelfhub/shelfhub/internal/config"
	"github.com/shelfhub/shelfhub/internal/domain/user"
	"github.com/shelfhub/shelfhub/internal/security"
)

// EnsureAdminUser inserts the bootstrap admin account on first start.
// No-op when the account already exists or seeding is not configured.
func EnsureAdminUser(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	var dummy string

	err := pool.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, cfg.AdminEmail).Scan(&dummy)

	if err == nil {
		return nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := security.HashPassword(cfg.AdminPassword)

	if err != nil {
		return err
	}

	u := user.NewFromCreateRequest(user.CreateUserRequest{
		Email:    cfg.AdminEmail,
		FullName: cfg.AdminName,
		Role:     user.RoleAdmin,
	}, hash)

	_, err = pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, full_name, role, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.Role, u.Status, u.CreatedAt, u.UpdatedAt,
	)

	return err
}
