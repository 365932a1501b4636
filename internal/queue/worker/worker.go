package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shelfhub/shelfhub/internal/domain/job"
	"github.com/shelfhub/shelfhub/internal/domain/loan"
	"github.com/shelfhub/shelfhub/internal/domain/user"
	"github.com/shelfhub/shelfhub/internal/notifications"
	"github.com/shelfhub/shelfhub/internal/observability"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
}

type DeliveriesRepository interface {
	TryStart(ctx context.Context, kind, jobID, loanID, recipient string) error
	MarkSent(ctx context.Context, kind, loanID string) error
	MarkFailed(ctx context.Context, kind, loanID, errMsg string) error
}

type UserDirectory interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

type LoanReader interface {
	GetByID(ctx context.Context, id string) (loan.Loan, error)
}

type Config struct {
	PollInterval  time.Duration
	WorkerID      string
	Concurrency   int
	ShutdownGrace time.Duration
}

type Worker struct {
	cfg        Config
	jobs       JobsRepository
	deliveries DeliveriesRepository
	users      UserDirectory
	loans      LoanReader
	notifier   notifications.Notifier
	prom       *observability.Prom
	log        *slog.Logger

	readyMu sync.RWMutex
	ready   bool
}

func New(
	cfg Config,
	jobsRepo JobsRepository,
	deliveriesRepo DeliveriesRepository,
	users UserDirectory,
	loans LoanReader,
	notifier notifications.Notifier,
	prom *observability.Prom,
	log *slog.Logger,
) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}

	return &Worker{
		cfg:        cfg,
		jobs:       jobsRepo,
		deliveries: deliveriesRepo,
		users:      users,
		loans:      loans,
		notifier:   notifier,
		prom:       prom,
		log:        log,
	}
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}

// Run polls for pending jobs until ctx is cancelled, then waits up to
// ShutdownGrace for in-flight jobs to finish.
func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	var wg sync.WaitGroup

	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)

		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	w.setReady(false)

	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.log.Info("worker shutdown complete", "worker_id", w.cfg.WorkerID)
		return nil
	case <-time.After(w.cfg.ShutdownGrace):
		w.log.Warn("worker shutdown grace elapsed, abandoning in-flight jobs",
			"worker_id", w.cfg.WorkerID)
		return errors.New("shutdown grace elapsed")
	}
}

func (w *Worker) loop(ctx context.Context, slot int) {
	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := w.ProcessOne(ctx)

		if err != nil && ctx.Err() == nil {
			w.log.Error("job step failed", "slot", slot, "error", err)
		}

		// drain the queue while there is work, otherwise wait a beat
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}
