package notifications

import (
	"context"
	"time"
)

type LoanReceiptInput struct {
	Email  string
	LoanID string
	BookID string
	DueAt  time.Time
}

type OverdueNoticeInput struct {
	Email  string
	LoanID string
	BookID string
	DueAt  time.Time
}

type Notifier interface {
	SendLoanReceipt(ctx context.Context, input LoanReceiptInput) error
	SendOverdueNotice(ctx context.Context, input OverdueNoticeInput) error
}
