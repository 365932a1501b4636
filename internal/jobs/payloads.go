package jobs

import (
	"encoding/json"
	"time"
)

type LoanReceiptPayload struct {
	LoanID      string    `json:"loanId"`
	BookID      string    `json:"bookId"`
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	DueAt       time.Time `json:"dueAt"`
	RequestedAt time.Time `json:"requestedAt"`
}

func (p LoanReceiptPayload) JSON() (json.RawMessage, error) {
	b, err := json.Marshal(p)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

type LoanOverdueNoticePayload struct {
	LoanID string    `json:"loanId"`
	BookID string    `json:"bookId"`
	UserID string    `json:"userId"`
	DueAt  time.Time `json:"dueAt"`
}

func (p LoanOverdueNoticePayload) JSON() (json.RawMessage, error) {
	b, err := json.Marshal(p)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
