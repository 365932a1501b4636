package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shelfhub/shelfhub/internal/domain/book"
	"github.com/shelfhub/shelfhub/internal/domain/loan"
	"github.com/shelfhub/shelfhub/internal/domain/user"
	"github.com/shelfhub/shelfhub/internal/observability"
)

const loanColumns = `id, book_id, user_id, borrowed_at, due_at, returned_at, status, created_at, updated_at`

type LoansRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewLoansRepo(pool *pgxpool.Pool, prom *observability.Prom) *LoansRepo {
	return &LoansRepo{pool: pool, prom: prom}
}

func (repo *LoansRepo) observe(op string, fn func() error) error {
	if repo.prom != nil {
		return repo.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (repo *LoansRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return repo.pool.BeginTx(ctx, pgx.TxOptions{})
}

func scanLoan(row pgx.Row) (loan.Loan, error) {
	var l loan.Loan

	err := row.Scan(
		&l.ID,
		&l.BookID,
		&l.UserID,
		&l.BorrowedAt,
		&l.DueAt,
		&l.ReturnedAt,
		&l.Status,
		&l.CreatedAt,
		&l.UpdatedAt,
	)

	return l, err
}

// CreateTx checks out a copy inside the caller's transaction:
// borrower must be active, no duplicate open loan for the same title,
// and the book row is locked while a copy is taken.
func (repo *LoansRepo) CreateTx(ctx context.Context, tx pgx.Tx, req loan.CreateLoanRequest) (l loan.Loan, err error) {
	var borrowerStatus user.Status

	err = repo.observe("loans.create_tx.borrower_check", func() error {
		return tx.QueryRow(ctx, `SELECT status FROM users WHERE id = $1`, req.UserID).Scan(&borrowerStatus)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = user.ErrNotFound
		}
		return
	}

	if borrowerStatus != user.StatusActive {
		err = loan.ErrBorrowerBlocked
		return
	}

	var exists bool

	err = repo.observe("loans.create_tx.duplicate_check", func() error {
		return tx.QueryRow(ctx, `SELECT EXISTS(
			SELECT 1 FROM loans
			WHERE book_id = $1 AND user_id = $2 AND returned_at IS NULL
		)`, req.BookID, req.UserID).Scan(&exists)
	})

	if err != nil {
		return
	}

	if exists {
		err = loan.ErrAlreadyBorrowed
		return
	}

	// lock the book row and take a copy
	var available int

	err = repo.observe("loans.create_tx.copy_lock", func() error {
		return tx.QueryRow(ctx, `
			SELECT available_copies
			FROM books
			WHERE id = $1
			FOR UPDATE
		`, req.BookID).Scan(&available)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = book.ErrNotFound
		}
		return
	}

	if available <= 0 {
		err = book.ErrNoCopiesLeft
		return
	}

	err = repo.observe("loans.create_tx.decrement", func() error {
		_, e := tx.Exec(ctx, `
			UPDATE books
			SET available_copies = available_copies - 1, updated_at = NOW()
			WHERE id = $1
		`, req.BookID)
		return e
	})

	if err != nil {
		return
	}

	l = loan.NewFromCreateRequest(req)

	err = repo.observe("loans.create_tx.insert", func() error {
		_, e := tx.Exec(ctx, `
			INSERT INTO loans (`+loanColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, l.ID, l.BookID, l.UserID, l.BorrowedAt, l.DueAt, l.ReturnedAt, l.Status, l.CreatedAt, l.UpdatedAt)
		return e
	})

	return
}

func (repo *LoansRepo) Create(ctx context.Context, req loan.CreateLoanRequest) (l loan.Loan, err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	l, err = repo.CreateTx(ctx, tx, req)

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}

// Return closes a loan and puts the copy back on the shelf.
func (repo *LoansRepo) Return(ctx context.Context, id string) (l loan.Loan, err error) {
	tx, err := repo.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return
	}

	defer func() { _ = tx.Rollback(ctx) }()

	err = repo.observe("loans.return.lock", func() error {
		l, err = scanLoan(tx.QueryRow(ctx,
			`SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = loan.ErrNotFound
		}
		return
	}

	if l.ReturnedAt != nil {
		err = loan.ErrAlreadyReturned
		return
	}

	now := time.Now().UTC()

	err = repo.observe("loans.return.close", func() error {
		return tx.QueryRow(ctx, `
			UPDATE loans
			SET returned_at = $2, status = 'returned', updated_at = NOW()
			WHERE id = $1
			RETURNING `+loanColumns+`
		`, id, now).Scan(
			&l.ID, &l.BookID, &l.UserID, &l.BorrowedAt, &l.DueAt,
			&l.ReturnedAt, &l.Status, &l.CreatedAt, &l.UpdatedAt,
		)
	})

	if err != nil {
		return
	}

	err = repo.observe("loans.return.restore_copy", func() error {
		_, e := tx.Exec(ctx, `
			UPDATE books
			SET available_copies = LEAST(total_copies, available_copies + 1), updated_at = NOW()
			WHERE id = $1
		`, l.BookID)
		return e
	})

	if err != nil {
		return
	}

	err = tx.Commit(ctx)

	return
}

func (repo *LoansRepo) GetByID(ctx context.Context, id string) (loan.Loan, error) {
	var l loan.Loan
	var err error

	err = repo.observe("loans.get_by_id", func() error {
		l, err = scanLoan(repo.pool.QueryRow(ctx,
			`SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return loan.Loan{}, loan.ErrNotFound
		}
		return loan.Loan{}, err
	}

	return l, nil
}

func (repo *LoansRepo) listBy(ctx context.Context, op, where string, arg any) ([]loan.Loan, error) {
	var rows pgx.Rows
	var err error

	err = repo.observe(op, func() error {
		rows, err = repo.pool.Query(ctx,
			`SELECT `+loanColumns+` FROM loans WHERE `+where+` ORDER BY borrowed_at DESC, id DESC`,
			arg,
		)
		return err
	})

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	out := make([]loan.Loan, 0)

	for rows.Next() {
		l, e := scanLoan(rows)

		if e != nil {
			return nil, e
		}
		out = append(out, l)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (repo *LoansRepo) ListByUser(ctx context.Context, userID string) ([]loan.Loan, error) {
	return repo.listBy(ctx, "loans.list_by_user", "user_id = $1", userID)
}

func (repo *LoansRepo) ListByBook(ctx context.Context, bookID string) ([]loan.Loan, error) {
	return repo.listBy(ctx, "loans.list_by_book", "book_id = $1", bookID)
}

// MarkOverdue flips past-due open loans to overdue and returns the ones that
// changed, so the caller can enqueue notices exactly once per loan.
func (repo *LoansRepo) MarkOverdue(ctx context.Context, now time.Time) ([]loan.Loan, error) {
	var rows pgx.Rows
	var err error

	err = repo.observe("loans.mark_overdue", func() error {
		rows, err = repo.pool.Query(ctx, `
			UPDATE loans
			SET status = 'overdue', updated_at = NOW()
			WHERE status = 'active' AND returned_at IS NULL AND due_at < $1
			RETURNING `+loanColumns+`
		`, now)
		return err
	})

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	out := make([]loan.Loan, 0)

	for rows.Next() {
		l, e := scanLoan(rows)

		if e != nil {
			return nil, e
		}
		out = append(out, l)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (repo *LoansRepo) CountOpen(ctx context.Context) (int, error) {
	var total int

	err := repo.observe("loans.count_open", func() error {
		return repo.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM loans WHERE returned_at IS NULL`,
		).Scan(&total)
	})

	return total, err
}
