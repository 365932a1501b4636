package integration_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shelfhub/shelfhub/internal/domain/job"
	"github.com/shelfhub/shelfhub/internal/observability"
	"github.com/shelfhub/shelfhub/internal/repo/postgres"
)

func newJobsRepo(pool *pgxpool.Pool) *postgres.JobsRepo {
	return postgres.NewJobsRepo(pool, observability.NewProm(prometheus.NewRegistry()))
}

func enqueue(t *testing.T, repo *postgres.JobsRepo, jobType string, key *string) job.Job {
	t.Helper()

	j, err := repo.Create(context.Background(), job.CreateRequest{
		Type:           jobType,
		Payload:        json.RawMessage(`{"loanId":"00000000-0000-0000-0000-000000000001"}`),
		MaxAttempts:    3,
		IdempotencyKey: key,
	})

	if err != nil {
		t.Fatalf("enqueue %s: %v", jobType, err)
	}

	return j
}

func TestClaimNextLocksExactlyOnce(t *testing.T) {
	pool := setupPool(t)
	resetUsers(t, pool)

	repo := newJobsRepo(pool)
	ctx := context.Background()

	created := enqueue(t, repo, "loan.receipt", nil)

	claimed, err := repo.ClaimNext(ctx, "worker-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if claimed.ID != created.ID {
		t.Fatalf("claimed wrong job: %s", claimed.ID)
	}

	if claimed.Status != job.StatusProcessing || claimed.LockedBy == nil || *claimed.LockedBy != "worker-a" {
		t.Fatalf("claim did not lock the row: %+v", claimed)
	}

	if claimed.LockedAt == nil {
		t.Fatal("claim should stamp locked_at")
	}

	// a second worker sees an empty queue
	if _, err := repo.ClaimNext(ctx, "worker-b"); !errors.Is(err, job.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound for second claim, got %v", err)
	}
}

func TestClaimSkipsFutureRunAt(t *testing.T) {
	pool := setupPool(t)
	resetUsers(t, pool)

	repo := newJobsRepo(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, job.CreateRequest{
		Type:    "loan.overdue_notice",
		Payload: json.RawMessage(`{}`),
		RunAt:   time.Now().UTC().Add(time.Hour),
	})

	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := repo.ClaimNext(ctx, "worker-a"); !errors.Is(err, job.ErrJobNotFound) {
		t.Fatalf("future job should stay invisible, got %v", err)
	}
}

func TestRescheduleMakesJobClaimableAgain(t *testing.T) {
	pool := setupPool(t)
	resetUsers(t, pool)

	repo := newJobsRepo(pool)
	ctx := context.Background()

	enqueue(t, repo, "loan.receipt", nil)

	claimed, err := repo.ClaimNext(ctx, "worker-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := repo.Reschedule(ctx, claimed.ID, time.Now().UTC().Add(-time.Second), "provider down"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	again, err := repo.ClaimNext(ctx, "worker-a")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}

	if again.ID != claimed.ID {
		t.Fatalf("expected the same job back, got %s", again.ID)
	}

	if again.Attempts != 1 {
		t.Fatalf("reschedule should count the failed attempt, got %d", again.Attempts)
	}

	if again.LastError == nil || *again.LastError != "provider down" {
		t.Fatalf("last_error not carried: %+v", again.LastError)
	}
}

func TestIdempotencyKeyDeduplicates(t *testing.T) {
	pool := setupPool(t)
	resetUsers(t, pool)

	repo := newJobsRepo(pool)
	ctx := context.Background()

	key := "loan:receipt:test-loan-1"
	enqueue(t, repo, "loan.receipt", &key)

	_, err := repo.Create(ctx, job.CreateRequest{
		Type:           "loan.receipt",
		Payload:        json.RawMessage(`{}`),
		IdempotencyKey: &key,
	})

	if !errors.Is(err, postgres.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestDuplicateEnqueueKeepsTransactionUsable(t *testing.T) {
	pool := setupPool(t)
	resetUsers(t, pool)

	repo := newJobsRepo(pool)
	ctx := context.Background()

	key := "loan:receipt:test-loan-2"
	enqueue(t, repo, "loan.receipt", &key)

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = repo.CreateTx(ctx, tx, job.CreateRequest{
		Type:           "loan.receipt",
		Payload:        json.RawMessage(`{}`),
		IdempotencyKey: &key,
	})

	if !errors.Is(err, postgres.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}

	// the dedupe hit must not have aborted the transaction
	if _, err := tx.Exec(ctx, `SELECT 1`); err != nil {
		t.Fatalf("transaction unusable after dedupe hit: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit after dedupe hit: %v", err)
	}

	// still exactly one job for the key
	if _, err := repo.ClaimNext(ctx, "worker-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := repo.ClaimNext(ctx, "worker-a"); !errors.Is(err, job.ErrJobNotFound) {
		t.Fatalf("expected a single job for the key, got %v", err)
	}
}

func TestRetryFailedJob(t *testing.T) {
	pool := setupPool(t)
	resetUsers(t, pool)

	repo := newJobsRepo(pool)
	ctx := context.Background()

	created := enqueue(t, repo, "loan.receipt", nil)

	// retry only applies to failed jobs
	if err := repo.Retry(ctx, created.ID); !errors.Is(err, postgres.ErrJobNotFailed) {
		t.Fatalf("pending job should not be retryable, got %v", err)
	}

	claimed, err := repo.ClaimNext(ctx, "worker-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := repo.MarkFailed(ctx, claimed.ID, "gave up"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if err := repo.Retry(ctx, claimed.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}

	revived, err := repo.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if revived.Status != job.StatusPending || revived.Attempts != 0 {
		t.Fatalf("retry should reset the job: %+v", revived)
	}
}
