package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadyzReportsFailures(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "kafka", Check: func(context.Context) error { return errors.New("dial refused") }},
	)

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rw.Code)
	}

	var report readyReport
	if err := json.NewDecoder(rw.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Failures["kafka"] != "dial refused" {
		t.Fatalf("unexpected failures: %+v", report.Failures)
	}
	if _, ok := report.Failures["db"]; ok {
		t.Fatal("db should not be reported as failing")
	}
}

func TestReadyzOKWithoutChecks(t *testing.T) {
	mux := NewBaseMuxWithReady()
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}

func TestFailedCheckNamesSorted(t *testing.T) {
	fail := func(context.Context) error { return errors.New("down") }
	names := FailedCheckNames(context.Background(),
		ReadyCheck{Name: "redis", Check: fail},
		ReadyCheck{Name: "db", Check: fail},
	)
	if len(names) != 2 || names[0] != "db" || names[1] != "redis" {
		t.Fatalf("unexpected names: %v", names)
	}
}
