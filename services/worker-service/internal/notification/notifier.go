// Package notification sends the emails triggered by domain events.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/recipeshare/libs/events"
)

type Config struct {
	// BaseURL is used to build the recipe link in the email body.
	BaseURL string
}

type EmailNotifier struct {
	sender Sender
	logger *slog.Logger
	cfg    Config
}

var _ events.Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(sender Sender, logger *slog.Logger, cfg Config) *EmailNotifier {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &EmailNotifier{sender: sender, logger: logger, cfg: cfg}
}

// NotifyRecipeCreated emails the creator. A nil or blank email is not an
// error: the recipe simply has nobody to notify.
func (n *EmailNotifier) NotifyRecipeCreated(ctx context.Context, recipeID int64, title string, email *string) error {
	if email == nil || strings.TrimSpace(*email) == "" {
		n.logger.Info("recipe created without notification email, nothing to send", "recipe_id", recipeID)
		return nil
	}
	to := strings.TrimSpace(*email)

	subject, body := recipeCreatedMessage(n.cfg.BaseURL, recipeID, title)
	if err := n.sender.Send(ctx, to, subject, body); err != nil {
		return fmt.Errorf("send recipe created email: %w", err)
	}
	n.logger.Info("recipe created email sent", "recipe_id", recipeID, "recipient", to)
	return nil
}

func recipeCreatedMessage(baseURL string, recipeID int64, title string) (string, string) {
	title = strings.Join(strings.Fields(title), " ")
	subject := fmt.Sprintf("Your recipe %q is live", title)
	body := fmt.Sprintf("Thanks for sharing %q with the community.", title)
	if baseURL != "" {
		body += fmt.Sprintf("\r\n\r\nView it at %s/recipes/%d", baseURL, recipeID)
	}
	return subject, body
}
