package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shelfhub/shelfhub/internal/domain/user"
	"github.com/shelfhub/shelfhub/internal/observability"
)

const userColumns = `id, email, password_hash, full_name, role, status,
	university_id, university_name, department, year_level, course,
	phone, avatar_url, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FullName,
		&u.Role,
		&u.Status,
		&u.UniversityID,
		&u.UniversityName,
		&u.Department,
		&u.YearLevel,
		&u.Course,
		&u.Phone,
		&u.AvatarURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

// Create inserts a new member. Email uniqueness is checked against
// non-deleted rows first for a friendly error; the partial unique index
// still backstops the race between check and insert.
func (r *UsersRepo) Create(ctx context.Context, req user.CreateUserRequest, passwordHash string) (user.User, error) {
	var exists bool

	err := r.observe("users.create.email_check", func() error {
		return r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 AND status <> 'inactive')`,
			req.Email,
		).Scan(&exists)
	})

	if err != nil {
		return user.User{}, err
	}

	if exists {
		return user.User{}, ErrEmailAlreadyUsed
	}

	u := user.NewFromCreateRequest(req, passwordHash)

	err = r.observe("users.create.insert", func() error {
		_, e := r.pool.Exec(ctx,
			`INSERT INTO users (`+userColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			u.ID, u.Email, u.PasswordHash, u.FullName, u.Role, u.Status,
			u.UniversityID, u.UniversityName, u.Department, u.YearLevel, u.Course,
			u.Phone, u.AvatarURL, u.CreatedAt, u.UpdatedAt,
		)
		return e
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, ErrEmailAlreadyUsed
		}
		return user.User{}, err
	}

	return u, nil
}

// GetByID sees soft-deleted rows as well; "inactive" hides a member from
// listings, not from direct lookup.
func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	var u user.User
	var err error

	err = r.observe("users.get_by_id", func() error {
		u, err = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	var err error

	err = r.observe("users.get_by_email", func() error {
		u, err = scanUser(r.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE email = $1 AND status <> 'inactive'`, email))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	return u, nil
}

// List excludes soft-deleted members and orders newest first. Search is a
// parameter-bound ILIKE over name, email and university id.
func (r *UsersRepo) List(ctx context.Context, filter user.ListFilter) ([]user.User, int, error) {
	baseQuery := `SELECT ` + userColumns + `,
		COUNT(*) OVER() AS total
	FROM users
	`

	conds := []string{"status <> 'inactive'"}
	var args []interface{}

	argsPosition := 1

	if filter.Query != nil && strings.TrimSpace(*filter.Query) != "" {
		pattern := "%" + strings.TrimSpace(*filter.Query) + "%"
		conds = append(conds, fmt.Sprintf(
			"(full_name ILIKE $%d OR email ILIKE $%d OR COALESCE(university_id, '') ILIKE $%d)",
			argsPosition, argsPosition, argsPosition,
		))
		args = append(args, pattern)
		argsPosition++
	}

	if filter.Role != nil {
		conds = append(conds, fmt.Sprintf("role = $%d", argsPosition))
		args = append(args, *filter.Role)
		argsPosition++
	}

	if filter.Status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", argsPosition))
		args = append(args, *filter.Status)
		argsPosition++
	}

	query := baseQuery + " WHERE " + strings.Join(conds, " AND ")

	// stable ordering for pagination
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argsPosition, argsPosition+1)

	args = append(args, filter.Limit, filter.Offset)

	var rows pgx.Rows
	var err error

	err = r.observe("users.list", func() error {
		rows, err = r.pool.Query(ctx, query, args...)
		return err
	})

	if err != nil {
		return nil, 0, err
	}

	defer rows.Close()

	output := make([]user.User, 0, filter.Limit)
	total := 0

	for rows.Next() {
		var u user.User
		var t int

		err = rows.Scan(
			&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Role, &u.Status,
			&u.UniversityID, &u.UniversityName, &u.Department, &u.YearLevel, &u.Course,
			&u.Phone, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt, &t,
		)

		if err != nil {
			return nil, 0, err
		}

		total = t
		output = append(output, u)
	}

	err = rows.Err()

	if err != nil {
		return nil, 0, err
	}

	return output, total, nil
}

// Update applies a partial update; only fields present in the patch are
// written. Changing the email re-checks uniqueness against other members.
func (r *UsersRepo) Update(ctx context.Context, id string, req user.UpdateUserRequest) (user.User, error) {
	if req.IsEmpty() {
		return user.User{}, ErrNoFields
	}

	if req.Email != nil {
		var taken bool

		err := r.observe("users.update.email_check", func() error {
			return r.pool.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 AND id <> $2 AND status <> 'inactive')`,
				*req.Email, id,
			).Scan(&taken)
		})

		if err != nil {
			return user.User{}, err
		}

		if taken {
			return user.User{}, ErrEmailAlreadyUsed
		}
	}

	b := NewUpdateBuilder("users")
	SetIfNotNil(b, "email", req.Email)
	SetIfNotNil(b, "full_name", req.FullName)
	SetIfNotNil(b, "university_id", req.UniversityID)
	SetIfNotNil(b, "university_name", req.UniversityName)
	SetIfNotNil(b, "department", req.Department)
	SetIfNotNil(b, "year_level", req.YearLevel)
	SetIfNotNil(b, "course", req.Course)
	SetIfNotNil(b, "phone", req.Phone)
	SetIfNotNil(b, "avatar_url", req.AvatarURL)

	query, args, err := b.Build("id", id)

	if err != nil {
		return user.User{}, err
	}

	query += " RETURNING " + userColumns

	var u user.User

	err = r.observe("users.update", func() error {
		u, err = scanUser(r.pool.QueryRow(ctx, query, args...))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		if IsUniqueViolation(err) {
			return user.User{}, ErrEmailAlreadyUsed
		}
		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) UpdateRole(ctx context.Context, id string, role user.Role) error {
	return r.singleFieldUpdate(ctx, "users.update_role", `
		UPDATE users
		SET role = $2, updated_at = NOW()
		WHERE id = $1
	`, id, role)
}

func (r *UsersRepo) UpdateStatus(ctx context.Context, id string, status user.Status) error {
	return r.singleFieldUpdate(ctx, "users.update_status", `
		UPDATE users
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, id, status)
}

// SoftDelete flips a member to inactive. The row stays put so loan history
// keeps pointing at a real user. There is no hard delete.
func (r *UsersRepo) SoftDelete(ctx context.Context, id string) error {
	return r.singleFieldUpdate(ctx, "users.soft_delete", `
		UPDATE users
		SET status = 'inactive', updated_at = NOW()
		WHERE id = $1
	`, id)
}

func (r *UsersRepo) UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error {
	return r.singleFieldUpdate(ctx, "users.update_password", `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1
	`, id, passwordHash)
}

func (r *UsersRepo) singleFieldUpdate(ctx context.Context, op, query string, args ...any) error {
	var affected int64

	err := r.observe(op, func() error {
		tag, e := r.pool.Exec(ctx, query, args...)
		if e != nil {
			return e
		}
		affected = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return err
	}

	if affected == 0 {
		return user.ErrNotFound
	}

	return nil
}

// Stats never counts inactive rows: a soft-deleted member is gone from
// every aggregate view, admin or not.
func (r *UsersRepo) Stats(ctx context.Context) (user.Stats, error) {
	stats := user.Stats{ByRole: make(map[user.Role]int)}

	var rows pgx.Rows
	var err error

	err = r.observe("users.stats", func() error {
		rows, err = r.pool.Query(ctx, `
			SELECT role, status, COUNT(*)
			FROM users
			WHERE status <> 'inactive'
			GROUP BY role, status
		`)
		return err
	})

	if err != nil {
		return user.Stats{}, err
	}

	defer rows.Close()

	for rows.Next() {
		var role user.Role
		var status user.Status
		var count int

		if err = rows.Scan(&role, &status, &count); err != nil {
			return user.Stats{}, err
		}

		stats.TotalUsers += count
		stats.ByRole[role] += count

		if status == user.StatusSuspended {
			stats.Suspended += count
		}
	}

	if err = rows.Err(); err != nil {
		return user.Stats{}, err
	}

	return stats, nil
}
