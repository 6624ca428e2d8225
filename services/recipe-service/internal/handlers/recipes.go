package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/recipeshare/libs/httpx"
	"github.com/md-rashed-zaman/recipeshare/services/recipe-service/internal/recipes"
)

type Creator interface {
	Create(ctx context.Context, in recipes.NewRecipe) (recipes.Created, error)
}

type RecipeHandler struct {
	creator Creator
	logger  *slog.Logger
}

func NewRecipeHandler(creator Creator, logger *slog.Logger) *RecipeHandler {
	return &RecipeHandler{creator: creator, logger: logger}
}

func (h *RecipeHandler) Register(mux *http.ServeMux, guard httpx.Middleware) {
	var create http.Handler = http.HandlerFunc(h.Create)
	if guard != nil {
		create = guard(create)
	}
	mux.Handle("POST /api/v1/recipes", create)
}

type createRecipeRequest struct {
	Title             string `json:"title"`
	Description       string `json:"description"`
	NotificationEmail string `json:"notification_email,omitempty"`
}

type createRecipeResponse struct {
	RecipeID  int64  `json:"recipe_id"`
	EventID   string `json:"event_id"`
	JobID     int64  `json:"job_id"`
	CreatedAt string `json:"created_at"`
}

func (h *RecipeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRecipeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid json body")
		return
	}

	out, err := h.creator.Create(r.Context(), recipes.NewRecipe{
		Title:             req.Title,
		Description:       req.Description,
		NotificationEmail: req.NotificationEmail,
	})
	if errors.Is(err, recipes.ErrInvalidRecipe) {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("create recipe failed", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, r, http.StatusInternalServerError, "could not create recipe")
		return
	}

	h.logger.Info("recipe created",
		"recipe_id", out.Recipe.ID,
		"event_id", out.EventID.String(),
		"job_id", out.JobID,
	)
	httpx.WriteJSON(w, http.StatusCreated, createRecipeResponse{
		RecipeID:  out.Recipe.ID,
		EventID:   out.EventID.String(),
		JobID:     out.JobID,
		CreatedAt: out.Recipe.CreatedAt.UTC().Format(time.RFC3339),
	})
}
