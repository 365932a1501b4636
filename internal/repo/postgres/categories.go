package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shelfhub/shelfhub/internal/domain/category"
	"github.com/shelfhub/shelfhub/internal/observability"
)

type CategoriesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewCategoriesRepo(pool *pgxpool.Pool, prom *observability.Prom) *CategoriesRepo {
	return &CategoriesRepo{pool: pool, prom: prom}
}

func (r *CategoriesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *CategoriesRepo) Create(ctx context.Context, req category.CreateCategoryRequest) (category.Category, error) {
	c := category.NewFromCreateRequest(req)

	err := r.observe("categories.create", func() error {
		_, e := r.pool.Exec(ctx,
			`INSERT INTO categories (id, name, description, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5)`,
			c.ID, c.Name, c.Description, c.CreatedAt, c.UpdatedAt,
		)
		return e
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return category.Category{}, category.ErrNameTaken
		}
		return category.Category{}, err
	}

	return c, nil
}

func (r *CategoriesRepo) List(ctx context.Context) ([]category.Category, error) {
	var rows pgx.Rows
	var err error

	err = r.observe("categories.list", func() error {
		rows, err = r.pool.Query(ctx, `
			SELECT id, name, description, created_at, updated_at
			FROM categories
			ORDER BY name ASC
		`)
		return err
	})

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	out := make([]category.Category, 0)

	for rows.Next() {
		var c category.Category

		if err = rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (r *CategoriesRepo) GetByID(ctx context.Context, id string) (category.Category, error) {
	var c category.Category
	var err error

	err = r.observe("categories.get_by_id", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT id, name, description, created_at, updated_at
			FROM categories
			WHERE id = $1
		`, id).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return category.Category{}, category.ErrNotFound
		}
		return category.Category{}, err
	}

	return c, nil
}

func (r *CategoriesRepo) Update(ctx context.Context, id string, req category.UpdateCategoryRequest) (category.Category, error) {
	if req.IsEmpty() {
		return category.Category{}, ErrNoFields
	}

	b := NewUpdateBuilder("categories")
	SetIfNotNil(b, "name", req.Name)
	SetIfNotNil(b, "description", req.Description)

	query, args, err := b.Build("id", id)

	if err != nil {
		return category.Category{}, err
	}

	query += " RETURNING id, name, description, created_at, updated_at"

	var c category.Category

	err = r.observe("categories.update", func() error {
		return r.pool.QueryRow(ctx, query, args...).
			Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return category.Category{}, category.ErrNotFound
		}
		if IsUniqueViolation(err) {
			return category.Category{}, category.ErrNameTaken
		}
		return category.Category{}, err
	}

	return c, nil
}

func (r *CategoriesRepo) Delete(ctx context.Context, id string) error {
	var affected int64

	err := r.observe("categories.delete", func() error {
		// books keep their rows; they just lose the category link
		tag, e := r.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
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
		return category.ErrNotFound
	}

	return nil
}
