package auth

import (
	"context"
	"slices"
	"testing"
	"time"
)

func withSecret(t *testing.T, value string) {
	t.Helper()
	ResetSecretForTests()
	t.Setenv(secretEnvVariable, value)
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	withSecret(t, "unit-test-secret")

	token, err := GenerateToken("user-42", "Maria", []string{"Admin", "servidor", "ADMIN"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Name != "Maria" {
		t.Fatalf("unexpected name: %s", claims.Name)
	}
	if !slices.Contains(claims.Roles, "ADMIN") || !slices.Contains(claims.Roles, "SERVIDOR") {
		t.Fatalf("roles not normalized: %v", claims.Roles)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("roles not deduplicated: %v", claims.Roles)
	}

	p := claims.Principal()
	if p.ID != "user-42" || !p.HasRole("admin") || p.HasRole("DCA") {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	withSecret(t, "unit-test-secret")

	if _, err := GenerateToken("", "x", nil, time.Minute); err == nil {
		t.Fatal("expected error for empty user id")
	}
	if _, err := GenerateToken("user-1", "x", nil, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	withSecret(t, "unit-test-secret")

	token, err := GenerateToken("user-1", "", []string{"SERVIDOR"}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseAndValidate(token + "x"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseAndValidate(""); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	withSecret(t, "unit-test-secret")

	token, err := GenerateToken("user-1", "", nil, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	withSecret(t, "")

	if _, err := GenerateToken("user-1", "", nil, time.Minute); err == nil {
		t.Fatal("expected error with no secret configured")
	}
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatal("empty context must not carry a principal")
	}

	want := Principal{ID: "user-7", Name: "Ana", Roles: []string{"ALMC"}}
	ctx = ContextWithPrincipal(ctx, want)
	got, ok := PrincipalFromContext(ctx)
	if !ok || got.ID != want.ID || got.Name != want.Name || !got.HasRole("ALMC") {
		t.Fatalf("principal round trip failed: %+v, ok=%v", got, ok)
	}

	ctx = ContextWithToken(ctx, "raw-token")
	token, ok := TokenFromContext(ctx)
	if !ok || token != "raw-token" {
		t.Fatalf("token round trip failed: %q, ok=%v", token, ok)
	}
}
