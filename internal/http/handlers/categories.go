package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shelfhub/shelfhub/internal/config"
	"github.com/shelfhub/shelfhub/internal/domain/category"
	"github.com/shelfhub/shelfhub/internal/repo/postgres"
	"github.com/shelfhub/shelfhub/internal/utils"
)

type CategoriesRepository interface {
	Create(ctx context.Context, req category.CreateCategoryRequest) (category.Category, error)
	GetByID(ctx context.Context, id string) (category.Category, error)
	List(ctx context.Context) ([]category.Category, error)
	Update(ctx context.Context, id string, req category.UpdateCategoryRequest) (category.Category, error)
	Delete(ctx context.Context, id string) error
}

type CategoriesHandler struct {
	repo CategoriesRepository
}

func NewCategoriesHandler(repo CategoriesRepository) *CategoriesHandler {
	return &CategoriesHandler{repo: repo}
}

func (h *CategoriesHandler) Create(ctx *gin.Context) {
	var req category.CreateCategoryRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	c, err := h.repo.Create(cctx, req)

	if err != nil {
		if errors.Is(err, category.ErrNameTaken) {
			RespondConflict(ctx, "name_taken", "A category with this name already exists.")
			return
		}

		RespondInternal(ctx, "Could not create category")
		return
	}

	ctx.JSON(http.StatusCreated, c)
}

func (h *CategoriesHandler) List(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	cats, err := h.repo.List(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not list categories")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"items": cats,
		"count": len(cats),
	})
}

func (h *CategoriesHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "category id must be a valid UUID", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	c, err := h.repo.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, category.ErrNotFound) {
			RespondNotFound(ctx, "Category not found")
			return
		}

		RespondInternal(ctx, "Could not fetch category")
		return
	}

	ctx.JSON(http.StatusOK, c)
}

func (h *CategoriesHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "category id must be a valid UUID", nil)
		return
	}

	var req category.UpdateCategoryRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if req.IsEmpty() {
		RespondBadRequest(ctx, "at least one field must be provided", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	c, err := h.repo.Update(cctx, id, req)

	if err != nil {
		switch {
		case errors.Is(err, category.ErrNotFound):
			RespondNotFound(ctx, "Category not found")
		case errors.Is(err, category.ErrNameTaken):
			RespondConflict(ctx, "name_taken", "A category with this name already exists.")
		case errors.Is(err, postgres.ErrNoFields):
			RespondBadRequest(ctx, "at least one field must be provided", nil)
		default:
			RespondInternal(ctx, "Could not update category")
		}
		return
	}

	ctx.JSON(http.StatusOK, c)
}

func (h *CategoriesHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "category id must be a valid UUID", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if err := h.repo.Delete(cctx, id); err != nil {
		if errors.Is(err, category.ErrNotFound) {
			RespondNotFound(ctx, "Category not found")
			return
		}

		RespondInternal(ctx, "Could not delete category")
		return
	}

	ctx.Status(http.StatusNoContent)
}
