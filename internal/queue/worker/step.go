package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shelfhub/shelfhub/internal/domain/delivery"
	"github.com/shelfhub/shelfhub/internal/domain/job"
	"github.com/shelfhub/shelfhub/internal/domain/loan"
	"github.com/shelfhub/shelfhub/internal/jobs"
	"github.com/shelfhub/shelfhub/internal/notifications"
)

// ProcessOne claims at most one job and runs it to a terminal step:
// done, rescheduled for retry, or failed. Returns whether a job was claimed.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)

	j, err := w.jobs.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}

	var stepErr error

	w.prom.ObserveJob(j.Type, func() string {
		execErr := w.execute(ctx, j)

		if execErr != nil {
			return w.handleFailure(ctx, j, execErr)
		}

		if mdErr := w.jobs.MarkDone(ctx, j.ID); mdErr != nil {
			stepErr = mdErr
			_ = w.jobs.MarkFailed(ctx, j.ID, "mark_done_failed: "+mdErr.Error())
			return "failed"
		}

		return "done"
	})

	return true, stepErr
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	payload, err := jobs.DecodePayload(jobs.JobType(j.Type), j.Payload)

	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case jobs.LoanReceiptPayload:
		return w.deliverLoanReceipt(ctx, j, p)

	case jobs.LoanOverdueNoticePayload:
		return w.deliverOverdueNotice(ctx, j, p)

	default:
		return jobs.ErrInvalidJobType
	}
}

func (w *Worker) deliverLoanReceipt(ctx context.Context, j job.Job, p jobs.LoanReceiptPayload) error {
	email := p.Email

	if email == "" {
		u, err := w.users.GetByID(ctx, p.UserID)
		if err != nil {
			return fmt.Errorf("resolve recipient: %w", err)
		}
		email = u.Email
	}

	kind := string(jobs.TypeLoanReceipt)

	if err := w.deliveries.TryStart(ctx, kind, j.ID, p.LoanID, email); err != nil {
		if errors.Is(err, delivery.ErrAlreadySent) {
			w.log.Info("receipt already delivered, skipping", "job", j.ID, "loan", p.LoanID)
			return nil
		}
		return err
	}

	sendErr := w.notifier.SendLoanReceipt(ctx, notifications.LoanReceiptInput{
		Email:  email,
		LoanID: p.LoanID,
		BookID: p.BookID,
		DueAt:  p.DueAt,
	})

	if sendErr != nil {
		_ = w.deliveries.MarkFailed(ctx, kind, p.LoanID, sendErr.Error())
		return sendErr
	}

	return w.deliveries.MarkSent(ctx, kind, p.LoanID)
}

func (w *Worker) deliverOverdueNotice(ctx context.Context, j job.Job, p jobs.LoanOverdueNoticePayload) error {
	// the book may have come back between scheduling and processing
	ln, err := w.loans.GetByID(ctx, p.LoanID)

	if err != nil {
		if errors.Is(err, loan.ErrNotFound) {
			w.log.Warn("overdue notice for unknown loan, skipping", "job", j.ID, "loan", p.LoanID)
			return nil
		}
		return err
	}

	if ln.ReturnedAt != nil {
		w.log.Info("loan returned before overdue notice, skipping", "job", j.ID, "loan", p.LoanID)
		return nil
	}

	u, err := w.users.GetByID(ctx, p.UserID)

	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}

	kind := string(jobs.TypeLoanOverdueNotice)

	if err := w.deliveries.TryStart(ctx, kind, j.ID, p.LoanID, u.Email); err != nil {
		if errors.Is(err, delivery.ErrAlreadySent) {
			w.log.Info("overdue notice already delivered, skipping", "job", j.ID, "loan", p.LoanID)
			return nil
		}
		return err
	}

	sendErr := w.notifier.SendOverdueNotice(ctx, notifications.OverdueNoticeInput{
		Email:  u.Email,
		LoanID: p.LoanID,
		BookID: p.BookID,
		DueAt:  p.DueAt,
	})

	if sendErr != nil {
		_ = w.deliveries.MarkFailed(ctx, kind, p.LoanID, sendErr.Error())
		return sendErr
	}

	return w.deliveries.MarkSent(ctx, kind, p.LoanID)
}

// handleFailure decides between retry and permanent failure. Attempts is
// only incremented on Reschedule, so the claimed count is before this try.
func (w *Worker) handleFailure(ctx context.Context, j job.Job, execErr error) string {
	nextAttempt := j.Attempts + 1

	if errors.Is(execErr, jobs.ErrInvalidJobType) || errors.Is(execErr, jobs.ErrInvalidJobPayload) {
		// malformed jobs can never succeed; don't burn retries on them
		_ = w.jobs.MarkFailed(ctx, j.ID, execErr.Error())
		w.log.Error("job permanently failed", "job", j.ID, "type", j.Type, "error", execErr)
		return "failed"
	}

	if nextAttempt >= j.MaxAttempts {
		_ = w.jobs.MarkFailed(ctx, j.ID, execErr.Error())
		w.log.Error("job permanently failed",
			"job", j.ID, "type", j.Type, "attempts", nextAttempt, "error", execErr)
		return "failed"
	}

	delay := ExponentialBackoff(j.Attempts)
	runAt := time.Now().UTC().Add(delay)

	if err := w.jobs.Reschedule(ctx, j.ID, runAt, execErr.Error()); err != nil {
		w.log.Error("reschedule failed", "job", j.ID, "error", err)
		return "failed"
	}

	w.log.Warn("job rescheduled",
		"job", j.ID, "type", j.Type, "attempt", nextAttempt, "delay", delay, "error", execErr)
	return "retry"
}
