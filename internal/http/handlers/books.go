package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shelfhub/shelfhub/internal/cache"
	"github.com/shelfhub/shelfhub/internal/config"
	"github.com/shelfhub/shelfhub/internal/domain/book"
	"github.com/shelfhub/shelfhub/internal/repo/postgres"
	"github.com/shelfhub/shelfhub/internal/utils"
)

type BooksRepository interface {
	Create(ctx context.Context, req book.CreateBookRequest) (book.Book, error)
	GetByID(ctx context.Context, id string) (book.Book, error)
	List(ctx context.Context, filter book.ListFilter) ([]book.Book, int, error)
	Update(ctx context.Context, id string, req book.UpdateBookRequest) (book.Book, error)
	Delete(ctx context.Context, id string) error
}

type BooksHandler struct {
	repo      BooksRepository
	listCache *cache.Cache
}

func NewBooksHandler(repo BooksRepository, listCache *cache.Cache) *BooksHandler {
	return &BooksHandler{repo: repo, listCache: listCache}
}

type bookListPage struct {
	Items  []book.Book `json:"items"`
	Count  int         `json:"count"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// POST /books
func (h *BooksHandler) Create(ctx *gin.Context) {
	var req book.CreateBookRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	b, err := h.repo.Create(cctx, req)

	if err != nil {
		if errors.Is(err, book.ErrISBNTaken) {
			RespondConflict(ctx, "isbn_taken", "A book with this ISBN already exists.")
			return
		}

		RespondInternal(ctx, "Could not create book")
		return
	}

	h.invalidateLists()

	ctx.JSON(http.StatusCreated, b)
}

// GET /books?query=&categoryId=&available=&limit=&offset=
func (h *BooksHandler) List(ctx *gin.Context) {
	limit := parseIntDefault(ctx.Query("limit"), 20)

	if limit < 1 || limit > 100 {
		RespondBadRequest(ctx, "limit must be between 1 and 100", nil)
		return
	}

	offset := parseIntDefault(ctx.Query("offset"), 0)

	if offset < 0 {
		RespondBadRequest(ctx, "offset must not be negative", nil)
		return
	}

	filter := book.ListFilter{Limit: limit, Offset: offset}

	if q := ctx.Query("query"); q != "" {
		filter.Query = &q
	}

	if c := ctx.Query("categoryId"); c != "" {
		if !utils.IsUUID(c) {
			RespondBadRequest(ctx, "categoryId must be a valid UUID", nil)
			return
		}
		filter.CategoryID = &c
	}

	filter.OnlyAvailable = ctx.Query("available") == "true"

	key := utils.BuildBooksListCacheKey(limit, offset, filter.Query, filter.CategoryID, filter.OnlyAvailable)

	if h.listCache != nil {
		if v, ok := h.listCache.Get(key); ok {
			if page, ok := v.(bookListPage); ok {
				RespondJSONWithETag(ctx, http.StatusOK, page)
				return
			}
		}
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	books, total, err := h.repo.List(cctx, filter)

	if err != nil {
		RespondInternal(ctx, "Could not list books")
		return
	}

	page := bookListPage{
		Items:  books,
		Count:  len(books),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}

	if h.listCache != nil {
		h.listCache.Set(key, page)
	}

	RespondJSONWithETag(ctx, http.StatusOK, page)
}

// GET /books/:id
func (h *BooksHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "book id must be a valid UUID", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	b, err := h.repo.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, book.ErrNotFound) {
			RespondNotFound(ctx, "Book not found")
			return
		}

		RespondInternal(ctx, "Could not fetch book")
		return
	}

	ctx.JSON(http.StatusOK, b)
}

// PATCH /books/:id
func (h *BooksHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "book id must be a valid UUID", nil)
		return
	}

	var req book.UpdateBookRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if req.IsEmpty() {
		RespondBadRequest(ctx, "at least one field must be provided", nil)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	b, err := h.repo.Update(cctx, id, req)

	if err != nil {
		switch {
		case errors.Is(err, book.ErrNotFound):
			RespondNotFound(ctx, "Book not found")
		case errors.Is(err, postgres.ErrNoFields):
			RespondBadRequest(ctx, "at least one field must be provided", nil)
		default:
			RespondInternal(ctx, "Could not update book")
		}
		return
	}

	h.invalidateLists()

	ctx.JSON(http.StatusOK, b)
}

// DELETE /books/:id
func (h *BooksHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "book id must be a valid UUID", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if err := h.repo.Delete(cctx, id); err != nil {
		switch {
		case errors.Is(err, book.ErrNotFound):
			RespondNotFound(ctx, "Book not found")
		case errors.Is(err, book.ErrHasOpenLoans):
			RespondConflict(ctx, "has_open_loans", "Book still has copies out on loan.")
		default:
			RespondInternal(ctx, "Could not delete book")
		}
		return
	}

	h.invalidateLists()

	ctx.Status(http.StatusNoContent)
}

// list pages key on filter values, so any write clears the lot
func (h *BooksHandler) invalidateLists() {
	if h.listCache != nil {
		h.listCache.Clear()
	}
}
