package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/shelfhub/shelfhub/internal/config"
	"github.com/shelfhub/shelfhub/internal/domain/book"
	"github.com/shelfhub/shelfhub/internal/domain/job"
	"github.com/shelfhub/shelfhub/internal/domain/loan"
	"github.com/shelfhub/shelfhub/internal/http/middlewares"
	"github.com/shelfhub/shelfhub/internal/jobs"
	"github.com/shelfhub/shelfhub/internal/repo/postgres"
	"github.com/shelfhub/shelfhub/internal/utils"
)

type LoansRepository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, req loan.CreateLoanRequest) (loan.Loan, error)
	Return(ctx context.Context, id string) (loan.Loan, error)
	GetByID(ctx context.Context, id string) (loan.Loan, error)
	ListByUser(ctx context.Context, userID string) ([]loan.Loan, error)
	ListByBook(ctx context.Context, bookID string) ([]loan.Loan, error)
	MarkOverdue(ctx context.Context, now time.Time) ([]loan.Loan, error)
	CountOpen(ctx context.Context) (int, error)
}

type JobsCreator interface {
	CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error)
	Create(ctx context.Context, req job.CreateRequest) (job.Job, error)
}

type LoansHandler struct {
	repo     LoansRepository
	jobsRepo JobsCreator
}

func NewLoansHandler(repo LoansRepository, jobsRepo JobsCreator) *LoansHandler {
	return &LoansHandler{repo: repo, jobsRepo: jobsRepo}
}

func isStaff(role string) bool {
	return role == "librarian" || role == "admin"
}

// POST /loans
// Borrow a book. Loan insert, copy decrement and the receipt job all commit
// in one transaction.
func (h *LoansHandler) Borrow(ctx *gin.Context) {
	var req loan.CreateLoanRequest

	if !BindJSON(ctx, &req) {
		return
	}

	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	req.UserID = userID

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tx, err := h.repo.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not borrow book")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	l, err := h.repo.CreateTx(cctx, tx, req)

	if err != nil {
		switch {
		case errors.Is(err, book.ErrNotFound):
			RespondNotFound(ctx, "Book not found")
		case errors.Is(err, book.ErrNoCopiesLeft):
			RespondConflict(ctx, "no_copies", "All copies of this book are out on loan.")
		case errors.Is(err, loan.ErrAlreadyBorrowed):
			RespondConflict(ctx, "already_borrowed", "You already have this book out on loan.")
		case errors.Is(err, loan.ErrBorrowerBlocked):
			RespondForbidden(ctx, "Your account is not in good standing.")
		default:
			RespondInternal(ctx, "Could not borrow book")
			slog.Default().ErrorContext(cctx, "borrow failed", "error", err)
		}
		return
	}

	email, _ := middlewares.EmailFromContext(ctx)

	payload := jobs.LoanReceiptPayload{
		LoanID:      l.ID,
		BookID:      l.BookID,
		UserID:      l.UserID,
		Email:       email,
		DueAt:       l.DueAt,
		RequestedAt: time.Now().UTC(),
	}

	raw, err := payload.JSON()

	if err != nil {
		RespondInternal(ctx, "Could not borrow book")
		return
	}

	// idempotency key
	key := "loan:receipt:" + l.ID
	uid := userID

	_, err = h.jobsRepo.CreateTx(cctx, tx, job.CreateRequest{
		Type:           string(jobs.TypeLoanReceipt),
		Payload:        raw,
		RunAt:          time.Now().UTC(),
		MaxAttempts:    10,
		IdempotencyKey: &key,
		UserID:         &uid,
	})

	if err != nil && !errors.Is(err, postgres.ErrDuplicateJob) {
		RespondInternal(ctx, "Could not borrow book")
		slog.Default().ErrorContext(cctx, "receipt enqueue failed", "error", err)
		return
	}

	if err := tx.Commit(cctx); err != nil {
		RespondInternal(ctx, "Could not borrow book")
		return
	}

	ctx.JSON(http.StatusCreated, l)
}

// POST /loans/:id/return
// The borrower or staff close the loan; the copy goes back on the shelf.
func (h *LoansHandler) Return(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "loan id must be a valid UUID", nil)
		return
	}

	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	role, _ := middlewares.RoleFromContext(ctx)

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	l, err := h.repo.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, loan.ErrNotFound) {
			RespondNotFound(ctx, "Loan not found")
			return
		}

		RespondInternal(ctx, "Could not return book")
		return
	}

	if !isStaff(role) && l.UserID != userID {
		RespondForbidden(ctx, "You can only return your own loans.")
		return
	}

	returned, err := h.repo.Return(cctx, id)

	if err != nil {
		switch {
		case errors.Is(err, loan.ErrNotFound):
			RespondNotFound(ctx, "Loan not found")
		case errors.Is(err, loan.ErrAlreadyReturned):
			RespondConflict(ctx, "already_returned", "This loan is already closed.")
		default:
			RespondInternal(ctx, "Could not return book")
		}
		return
	}

	ctx.JSON(http.StatusOK, returned)
}

// GET /users/me/loans
func (h *LoansHandler) ListMine(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	h.listForUser(ctx, userID)
}

// GET /admin/users/:id/loans
func (h *LoansHandler) ListByUser(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "user id must be a valid UUID", nil)
		return
	}

	h.listForUser(ctx, id)
}

func (h *LoansHandler) listForUser(ctx *gin.Context, userID string) {
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	loans, err := h.repo.ListByUser(cctx, userID)

	if err != nil {
		RespondInternal(ctx, "Could not list loans")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"userId": userID,
		"count":  len(loans),
		"items":  loans,
	})
}

// GET /books/:id/loans
func (h *LoansHandler) ListByBook(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "book id must be a valid UUID", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	loans, err := h.repo.ListByBook(cctx, id)

	if err != nil {
		RespondInternal(ctx, "Could not list loans")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"bookId": id,
		"count":  len(loans),
		"items":  loans,
	})
}

// GET /admin/loans/stats
func (h *LoansHandler) Stats(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	open, err := h.repo.CountOpen(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not compute loan stats")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"openLoans": open})
}

// POST /admin/loans/overdue-sweep
// Flips past-due active loans to overdue and enqueues one notice job per
// loan. Safe to run repeatedly: already-flipped loans are not returned
// again, and notice jobs are deduped by idempotency key.
func (h *LoansHandler) OverdueSweep(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	flipped, err := h.repo.MarkOverdue(cctx, time.Now().UTC())

	if err != nil {
		RespondInternal(ctx, "Could not run overdue sweep")
		return
	}

	enqueued := 0

	for _, l := range flipped {
		payload := jobs.LoanOverdueNoticePayload{
			LoanID: l.ID,
			BookID: l.BookID,
			UserID: l.UserID,
			DueAt:  l.DueAt,
		}

		raw, err := payload.JSON()

		if err != nil {
			slog.Default().ErrorContext(cctx, "overdue payload encode failed", "loan", l.ID, "error", err)
			continue
		}

		key := "loan:overdue:" + l.ID
		uid := l.UserID

		_, err = h.jobsRepo.Create(cctx, job.CreateRequest{
			Type:           string(jobs.TypeLoanOverdueNotice),
			Payload:        raw,
			RunAt:          time.Now().UTC(),
			MaxAttempts:    10,
			IdempotencyKey: &key,
			UserID:         &uid,
		})

		if err != nil {
			if errors.Is(err, postgres.ErrDuplicateJob) {
				continue
			}
			slog.Default().ErrorContext(cctx, "overdue notice enqueue failed", "loan", l.ID, "error", err)
			continue
		}

		enqueued++
	}

	ctx.JSON(http.StatusOK, gin.H{
		"flipped":  len(flipped),
		"enqueued": enqueued,
	})
}
