package storage

import (
	"context"

	"github.com/md-rashed-zaman/recipeshare/libs/db"
	"github.com/md-rashed-zaman/recipeshare/services/recipe-service/internal/model"
)

type RecipeRepository struct{}

func NewRecipeRepository() *RecipeRepository {
	return &RecipeRepository{}
}

// Insert stores r and fills in its id and creation time.
func (RecipeRepository) Insert(ctx context.Context, q db.Querier, r *model.Recipe) error {
	return q.QueryRow(ctx, `
		INSERT INTO recipes (title, description, notification_email)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, r.Title, r.Description, r.NotificationEmail).Scan(&r.ID, &r.CreatedAt)
}
