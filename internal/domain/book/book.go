package book

import (
	"errors"
	"time"
)

type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn"`
	CategoryID      *string   `json:"categoryId,omitempty"`
	Description     string    `json:"description,omitempty"`
	TotalCopies     int       `json:"totalCopies"`
	AvailableCopies int       `json:"availableCopies"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

var (
	ErrNotFound     = errors.New("book not found")
	ErrISBNTaken    = errors.New("isbn already registered")
	ErrNoCopiesLeft = errors.New("no copies available")
	ErrHasOpenLoans = errors.New("book has open loans")
)

// with pointers if optional, it will be nil
type ListFilter struct {
	Query         *string // case-insensitive match on title / author / isbn
	CategoryID    *string
	OnlyAvailable bool
	Limit         int
	Offset        int
}

type CreateBookRequest struct {
	Title       string  `json:"title" binding:"required,min=1,max=300"`
	Author      string  `json:"author" binding:"required,min=1,max=200"`
	ISBN        string  `json:"isbn" binding:"required,min=10,max=17"`
	CategoryID  *string `json:"categoryId" binding:"omitempty,uuid"`
	Description string  `json:"description" binding:"omitempty,max=2000"`
	TotalCopies int     `json:"totalCopies" binding:"required,min=1,max=10000"`
}

// UpdateBookRequest is a patch payload: nil means "leave untouched".
type UpdateBookRequest struct {
	Title       *string `json:"title" binding:"omitempty,min=1,max=300"`
	Author      *string `json:"author" binding:"omitempty,min=1,max=200"`
	CategoryID  *string `json:"categoryId" binding:"omitempty,uuid"`
	Description *string `json:"description" binding:"omitempty,max=2000"`
	TotalCopies *int    `json:"totalCopies" binding:"omitempty,min=1,max=10000"`
}

func (r UpdateBookRequest) IsEmpty() bool {
	return r.Title == nil &&
		r.Author == nil &&
		r.CategoryID == nil &&
		r.Description == nil &&
		r.TotalCopies == nil
}
