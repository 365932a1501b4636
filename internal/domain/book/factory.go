package book

import (
	"time"

	"github.com/google/uuid"
)

func NewFromCreateRequest(req CreateBookRequest) Book {
	now := time.Now().UTC()

	return Book{
		ID:              uuid.NewString(),
		Title:           req.Title,
		Author:          req.Author,
		ISBN:            req.ISBN,
		CategoryID:      req.CategoryID,
		Description:     req.Description,
		TotalCopies:     req.TotalCopies,
		AvailableCopies: req.TotalCopies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
