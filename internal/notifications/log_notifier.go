package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// LogNotifier is the dev/test implementation: it writes notices to the log
// instead of an email provider. Env knobs simulate provider latency/outage.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) simulate(ctx context.Context) error {
	if msStr := os.Getenv("NOTIFIER_SLEEP_MS"); msStr != "" {
		ms, _ := strconv.Atoi(msStr)
		if ms > 0 {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if os.Getenv("NOTIFIER_FAIL") == "1" {
		return fmt.Errorf("provider down (simulated)")
	}

	return nil
}

func (n *LogNotifier) SendLoanReceipt(ctx context.Context, in LoanReceiptInput) error {
	if err := n.simulate(ctx); err != nil {
		return err
	}

	n.log.InfoContext(ctx, "notification.loan_receipt",
		"email", in.Email, "loan", in.LoanID, "book", in.BookID, "due_at", in.DueAt,
	)
	return nil
}

func (n *LogNotifier) SendOverdueNotice(ctx context.Context, in OverdueNoticeInput) error {
	if err := n.simulate(ctx); err != nil {
		return err
	}

	n.log.InfoContext(ctx, "notification.overdue_notice",
		"email", in.Email, "loan", in.LoanID, "book", in.BookID, "due_at", in.DueAt,
	)
	return nil
}
