package notification

import (
	"context"
	"fmt"
	"strings"
)

// FailingSender rejects recipients ending in suffix and passes the rest to
// next. Staging environments use it to drive jobs into retries and the dead
// letter path.
type FailingSender struct {
	next   Sender
	suffix string
}

// NewFailingSender returns next unchanged when suffix is blank.
func NewFailingSender(next Sender, suffix string) Sender {
	suffix = strings.TrimSpace(suffix)
	if suffix == "" {
		return next
	}
	return &FailingSender{next: next, suffix: suffix}
}

func (s *FailingSender) Send(ctx context.Context, to, subject, body string) error {
	if strings.HasSuffix(to, s.suffix) {
		return fmt.Errorf("delivery to %s rejected by fault injection", to)
	}
	return s.next.Send(ctx, to, subject, body)
}
