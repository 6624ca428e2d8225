package config

import (
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8081")
	p, err := Port("TEST_PORT", "9000")
	if err != nil || p != "8081" {
		t.Fatalf("expected 8081, got %q (%v)", p, err)
	}

	t.Setenv("TEST_PORT", "70000")
	if _, err := Port("TEST_PORT", "9000"); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestRequiredString(t *testing.T) {
	t.Setenv("TEST_REQUIRED", "")
	if _, err := RequiredString("TEST_REQUIRED"); err == nil {
		t.Fatal("expected error for missing value")
	}
}

func TestIntFallsBackBelowMin(t *testing.T) {
	t.Setenv("TEST_INT", "0")
	if got := Int("TEST_INT", 4, 1); got != 4 {
		t.Fatalf("expected fallback 4, got %d", got)
	}
	t.Setenv("TEST_INT", "12")
	if got := Int("TEST_INT", 4, 1); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "45")
	if got := Duration("TEST_DUR", time.Second); got != 45*time.Second {
		t.Fatalf("expected 45s, got %s", got)
	}
	t.Setenv("TEST_DUR", "250ms")
	if got := Duration("TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
	t.Setenv("TEST_DUR", "soon")
	if got := Duration("TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("TEST_BOOL", "yes")
	if !Bool("TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("TEST_BOOL", "maybe")
	if Bool("TEST_BOOL", false) {
		t.Fatal("expected fallback false")
	}

	t.Setenv("TEST_LIST", " critical, ,default ")
	got := List("TEST_LIST", "")
	if len(got) != 2 || got[0] != "critical" || got[1] != "default" {
		t.Fatalf("unexpected list: %v", got)
	}
}
