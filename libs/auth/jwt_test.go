package auth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestHS256RoundTrip(t *testing.T) {
	now := time.Now()
	claims := Claims{Sub: "ops-1", Role: RoleAdmin, Iat: now.Unix(), Exp: now.Add(time.Hour).Unix()}

	token, err := SignHS256(claims, "test-secret")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, "test-secret", now)
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if parsed.Sub != claims.Sub || parsed.Role != claims.Role {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := ParseAndVerifyHS256(token, "wrong-secret", now); err == nil {
		t.Fatal("expected verification error with wrong secret")
	}
	if _, err := ParseAndVerifyHS256(token, "test-secret", now.Add(2*time.Hour)); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestRejectsTokenWithoutExpiry(t *testing.T) {
	token, err := SignHS256(Claims{Sub: "ops-1", Role: RoleAdmin, Iat: time.Now().Unix()}, "test-secret")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "test-secret", time.Now()); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for a token without exp, got %v", err)
	}
}

func TestRejectsOtherAlgorithms(t *testing.T) {
	token, _ := SignHS256(Claims{Sub: "x", Role: RoleAdmin}, "s")
	parts := strings.Split(token, ".")
	parts[0] = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	unsigned := parts[0] + "." + parts[1]
	forged := unsigned + "." + hmacSHA256(unsigned, "s")

	if _, err := ParseAndVerifyHS256(forged, "s", time.Now()); err == nil {
		t.Fatal("expected non-HS256 header to be rejected")
	}
}

func TestRequireRole(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var gotSub string
	h := RequireRole("secret", clock, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := ClaimsFromContext(r.Context())
		gotSub = c.Sub
	}))

	call := func(authz string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/1/requeue", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	admin, _ := SignHS256(Claims{Sub: "ops-1", Role: RoleAdmin, Exp: clock.Now().Add(time.Hour).Unix()}, "secret")
	viewer, _ := SignHS256(Claims{Sub: "ops-2", Role: "viewer", Exp: clock.Now().Add(time.Hour).Unix()}, "secret")
	noExpiry, _ := SignHS256(Claims{Sub: "ops-3", Role: RoleAdmin}, "secret")

	if code := call(""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := call("Bearer garbage"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", code)
	}
	if code := call("Bearer " + noExpiry); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for admin token without exp, got %d", code)
	}
	if code := call("Bearer " + viewer); code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", code)
	}
	if code := call("bearer " + admin); code != http.StatusOK || gotSub != "ops-1" {
		t.Fatalf("expected admin to pass, got %d sub=%q", code, gotSub)
	}
}
