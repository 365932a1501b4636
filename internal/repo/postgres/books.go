package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shelfhub/shelfhub/internal/domain/book"
	"github.com/shelfhub/shelfhub/internal/observability"
)

const bookColumns = `id, title, author, isbn, category_id, description,
	total_copies, available_copies, created_at, updated_at`

type BooksRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewBooksRepo(pool *pgxpool.Pool, prom *observability.Prom) *BooksRepo {
	return &BooksRepo{pool: pool, prom: prom}
}

func (r *BooksRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanBook(row pgx.Row) (book.Book, error) {
	var b book.Book

	err := row.Scan(
		&b.ID,
		&b.Title,
		&b.Author,
		&b.ISBN,
		&b.CategoryID,
		&b.Description,
		&b.TotalCopies,
		&b.AvailableCopies,
		&b.CreatedAt,
		&b.UpdatedAt,
	)

	return b, err
}

func (r *BooksRepo) Create(ctx context.Context, req book.CreateBookRequest) (book.Book, error) {
	b := book.NewFromCreateRequest(req)

	err := r.observe("books.create", func() error {
		_, e := r.pool.Exec(ctx,
			`INSERT INTO books (`+bookColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			b.ID, b.Title, b.Author, b.ISBN, b.CategoryID, b.Description,
			b.TotalCopies, b.AvailableCopies, b.CreatedAt, b.UpdatedAt,
		)
		return e
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return book.Book{}, book.ErrISBNTaken
		}
		return book.Book{}, err
	}

	return b, nil
}

func (r *BooksRepo) GetByID(ctx context.Context, id string) (book.Book, error) {
	var b book.Book
	var err error

	err = r.observe("books.get_by_id", func() error {
		b, err = scanBook(r.pool.QueryRow(ctx,
			`SELECT `+bookColumns+` FROM books WHERE id = $1`, id))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return book.Book{}, book.ErrNotFound
		}
		return book.Book{}, err
	}

	return b, nil
}

func (r *BooksRepo) List(ctx context.Context, filter book.ListFilter) ([]book.Book, int, error) {
	baseQuery := `SELECT ` + bookColumns + `,
		COUNT(*) OVER() AS total
	FROM books
	`

	var conds []string
	var args []interface{}

	argsPosition := 1

	if filter.Query != nil && strings.TrimSpace(*filter.Query) != "" {
		pattern := "%" + strings.TrimSpace(*filter.Query) + "%"
		conds = append(conds, fmt.Sprintf(
			"(title ILIKE $%d OR author ILIKE $%d OR isbn ILIKE $%d)",
			argsPosition, argsPosition, argsPosition,
		))
		args = append(args, pattern)
		argsPosition++
	}

	if filter.CategoryID != nil {
		conds = append(conds, fmt.Sprintf("category_id = $%d", argsPosition))
		args = append(args, *filter.CategoryID)
		argsPosition++
	}

	if filter.OnlyAvailable {
		conds = append(conds, "available_copies > 0")
	}

	query := baseQuery

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	// stable ordering for pagination
	query += fmt.Sprintf(" ORDER BY title ASC, id ASC LIMIT $%d OFFSET $%d", argsPosition, argsPosition+1)

	args = append(args, filter.Limit, filter.Offset)

	var rows pgx.Rows
	var err error

	err = r.observe("books.list", func() error {
		rows, err = r.pool.Query(ctx, query, args...)
		return err
	})

	if err != nil {
		return nil, 0, err
	}

	defer rows.Close()

	output := make([]book.Book, 0, filter.Limit)
	total := 0

	for rows.Next() {
		var b book.Book
		var t int

		err = rows.Scan(
			&b.ID, &b.Title, &b.Author, &b.ISBN, &b.CategoryID, &b.Description,
			&b.TotalCopies, &b.AvailableCopies, &b.CreatedAt, &b.UpdatedAt, &t,
		)

		if err != nil {
			return nil, 0, err
		}

		total = t
		output = append(output, b)
	}

	err = rows.Err()

	if err != nil {
		return nil, 0, err
	}

	return output, total, nil
}

// Update applies a patch inside a transaction. Changing total_copies moves
// available_copies by the same delta (floored at zero), so the row is locked
// first to read the current counts.
func (r *BooksRepo) Update(ctx context.Context, id string, req book.UpdateBookRequest) (updated book.Book, err error) {
	if req.IsEmpty() {
		return book.Book{}, ErrNoFields
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})

	if err != nil {
		return book.Book{}, err
	}

	defer func() { _ = tx.Rollback(ctx) }()

	b := NewUpdateBuilder("books")
	SetIfNotNil(b, "title", req.Title)
	SetIfNotNil(b, "author", req.Author)
	SetIfNotNil(b, "category_id", req.CategoryID)
	SetIfNotNil(b, "description", req.Description)

	if req.TotalCopies != nil {
		var total, available int

		err = r.observe("books.update.lock", func() error {
			return tx.QueryRow(ctx,
				`SELECT total_copies, available_copies FROM books WHERE id = $1 FOR UPDATE`,
				id,
			).Scan(&total, &available)
		})

		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return book.Book{}, book.ErrNotFound
			}
			return book.Book{}, err
		}

		newAvailable := available + (*req.TotalCopies - total)
		if newAvailable < 0 {
			newAvailable = 0
		}

		b.Set("total_copies", *req.TotalCopies)
		b.Set("available_copies", newAvailable)
	}

	query, args, err := b.Build("id", id)

	if err != nil {
		return book.Book{}, err
	}

	query += " RETURNING " + bookColumns

	err = r.observe("books.update", func() error {
		updated, err = scanBook(tx.QueryRow(ctx, query, args...))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return book.Book{}, book.ErrNotFound
		}
		return book.Book{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return book.Book{}, err
	}

	return updated, nil
}

// Delete removes a title from the catalog. Refused while any loan is still
// open so history stays consistent.
func (r *BooksRepo) Delete(ctx context.Context, id string) error {
	var open bool

	err := r.observe("books.delete.open_loans_check", func() error {
		return r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM loans WHERE book_id = $1 AND returned_at IS NULL)`,
			id,
		).Scan(&open)
	})

	if err != nil {
		return err
	}

	if open {
		return book.ErrHasOpenLoans
	}

	var affected int64

	err = r.observe("books.delete", func() error {
		tag, e := r.pool.Exec(ctx, `DELETE FROM books WHERE id = $1`, id)
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
		return book.ErrNotFound
	}

	return nil
}
