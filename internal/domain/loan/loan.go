package loan

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusReturned Status = "returned"
	StatusOverdue  Status = "overdue"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusReturned, StatusOverdue:
		return true
	default:
		return false
	}
}

type Loan struct {
	ID         string     `json:"id"`
	BookID     string     `json:"bookId"`
	UserID     string     `json:"userId"`
	BorrowedAt time.Time  `json:"borrowedAt"`
	DueAt      time.Time  `json:"dueAt"`
	ReturnedAt *time.Time `json:"returnedAt,omitempty"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

var (
	ErrNotFound        = errors.New("loan not found")
	ErrAlreadyReturned = errors.New("loan already returned")
	ErrAlreadyBorrowed = errors.New("user already has an active loan for this book")
	ErrBorrowerBlocked = errors.New("borrower is not in good standing")
)

type CreateLoanRequest struct {
	BookID string `json:"bookId" binding:"required,uuid"`
	// UserID comes from the session, never from the body.
	UserID  string `json:"-"`
	DueDays int    `json:"dueDays" binding:"omitempty,min=1,max=90"`
}

const DefaultLoanDays = 14

func NewFromCreateRequest(req CreateLoanRequest) Loan {
	now := time.Now().UTC()

	days := req.DueDays
	if days <= 0 {
		days = DefaultLoanDays
	}

	return Loan{
		ID:         uuid.NewString(),
		BookID:     req.BookID,
		UserID:     req.UserID,
		BorrowedAt: now,
		DueAt:      now.AddDate(0, 0, days),
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
