package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMail struct {
	to, subject, body string
}

type fakeSender struct {
	sent []sentMail
	err  error
}

func (s *fakeSender) Send(_ context.Context, to, subject, body string) error {
	s.sent = append(s.sent, sentMail{to: to, subject: subject, body: body})
	return s.err
}

func strPtr(s string) *string { return &s }

func TestNotifyRecipeCreated_Sends(t *testing.T) {
	sender := &fakeSender{}
	n := NewEmailNotifier(sender, testLogger(), Config{BaseURL: "https://recipes.example.com/"})

	if err := n.NotifyRecipeCreated(context.Background(), 12, "Lemon  Tart", strPtr(" cook@example.com ")); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(sender.sent))
	}
	m := sender.sent[0]
	if m.to != "cook@example.com" || m.subject != `Your recipe "Lemon Tart" is live` {
		t.Fatalf("unexpected mail %+v", m)
	}
	if !strings.Contains(m.body, "https://recipes.example.com/recipes/12") {
		t.Fatalf("missing link in body %q", m.body)
	}
}

func TestNotifyRecipeCreated_NilEmailIsNoop(t *testing.T) {
	sender := &fakeSender{err: errors.New("must not be called")}
	n := NewEmailNotifier(sender, testLogger(), Config{})

	for _, email := range []*string{nil, strPtr(""), strPtr("   ")} {
		if err := n.NotifyRecipeCreated(context.Background(), 1, "Soup", email); err != nil {
			t.Fatalf("expected nil error for missing email, got %v", err)
		}
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected nothing sent, got %d", len(sender.sent))
	}
}

func TestNotifyRecipeCreated_PropagatesSendErrors(t *testing.T) {
	n := NewEmailNotifier(&fakeSender{err: errors.New("connection refused")}, testLogger(), Config{})
	if err := n.NotifyRecipeCreated(context.Background(), 1, "Soup", strPtr("a@b.c")); err == nil {
		t.Fatal("expected send error to propagate for retry")
	}
}

func TestFailingSender(t *testing.T) {
	inner := &fakeSender{}
	if got := NewFailingSender(inner, "  "); got != Sender(inner) {
		t.Fatal("blank suffix must return the wrapped sender unchanged")
	}

	n := NewEmailNotifier(NewFailingSender(inner, "@fail.test"), testLogger(), Config{})
	if err := n.NotifyRecipeCreated(context.Background(), 1, "Soup", strPtr("x@fail.test")); err == nil {
		t.Fatal("expected delivery to a failing address to error")
	}
	if len(inner.sent) != 0 {
		t.Fatal("failing address must not reach the wrapped sender")
	}
	if err := n.NotifyRecipeCreated(context.Background(), 2, "Soup", strPtr("ok@example.com")); err != nil {
		t.Fatalf("other addresses must pass through: %v", err)
	}
	if len(inner.sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(inner.sent))
	}
}

func TestSMTPSenderRejectsHeaderInjection(t *testing.T) {
	s := NewSMTPSender("127.0.0.1", "1", "")
	if err := s.Send(context.Background(), "a@b.c\r\nBcc: x@y.z", "hi", "body"); err == nil {
		t.Fatal("expected header injection to be rejected")
	}
}

func TestBuildMessage(t *testing.T) {
	msg := buildMessage("from@x", "to@y", "Hello", "Body")
	if !strings.HasPrefix(msg, "From: from@x\r\nTo: to@y\r\nSubject: Hello\r\n") || !strings.HasSuffix(msg, "\r\n\r\nBody\r\n") {
		t.Fatalf("unexpected message %q", msg)
	}
}
