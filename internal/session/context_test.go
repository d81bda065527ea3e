package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ctf-platform/ctf/internal/db"
	"github.com/ctf-platform/ctf/internal/model"
	"github.com/ctf-platform/ctf/internal/repository"
)

func setupStore(t *testing.T) *repository.CredentialRepository {
	t.Helper()
	database, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return repository.NewCredentialRepository(database)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func TestContext_LoadEmpty(t *testing.T) {
	store := setupStore(t)

	sc, err := Load(context.Background(), store)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if sc.Token() != "" {
		t.Errorf("expected empty token, got %q", sc.Token())
	}
	if _, err := sc.Require(); !errors.Is(err, model.ErrMissingContext) {
		t.Errorf("expected ErrMissingContext, got %v", err)
	}
}

func TestContext_SetTokenPersists(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	sc, err := Load(ctx, store)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := sc.SetToken(ctx, "opaque-token"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}

	// a fresh context sees the persisted slot
	reloaded, err := Load(ctx, store)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	token, err := reloaded.Require()
	if err != nil {
		t.Fatalf("Require failed: %v", err)
	}
	if token != "opaque-token" {
		t.Errorf("expected opaque-token, got %q", token)
	}

	if err := sc.SetToken(ctx, ""); !errors.Is(err, model.ErrMissingContext) {
		t.Errorf("expected ErrMissingContext for empty token, got %v", err)
	}
}

func TestContext_Logout(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	sc, _ := Load(ctx, store)
	if err := sc.SetToken(ctx, "opaque-token"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}

	done := sc.Done()
	if err := sc.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	select {
	case <-done:
	default:
		t.Error("Done should be closed after Logout")
	}
	if sc.Token() != "" {
		t.Error("token should be cleared after Logout")
	}
	if _, err := store.Get(ctx, TokenSlot); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("persisted slot should be gone, got %v", err)
	}

	// second logout is a no-op
	if err := sc.Logout(ctx); err != nil {
		t.Errorf("second Logout failed: %v", err)
	}

	// logging in again revives the context with a fresh Done channel
	if err := sc.SetToken(ctx, "next-token"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}
	select {
	case <-sc.Done():
		t.Error("Done should be open after a new login")
	default:
	}
}

func TestContext_RequireExpiry(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	t.Run("valid jwt", func(t *testing.T) {
		sc, _ := Load(ctx, store)
		token := signedToken(t, time.Now().Add(time.Hour))
		if err := sc.SetToken(ctx, token); err != nil {
			t.Fatalf("SetToken failed: %v", err)
		}
		got, err := sc.Require()
		if err != nil {
			t.Fatalf("Require failed: %v", err)
		}
		if got != token {
			t.Error("Require returned a different token")
		}
	})

	t.Run("expired jwt", func(t *testing.T) {
		sc, _ := Load(ctx, store)
		if err := sc.SetToken(ctx, signedToken(t, time.Now().Add(-time.Minute))); err != nil {
			t.Fatalf("SetToken failed: %v", err)
		}
		if _, err := sc.Require(); !errors.Is(err, model.ErrMissingContext) {
			t.Errorf("expected ErrMissingContext, got %v", err)
		}
	})

	t.Run("clock option", func(t *testing.T) {
		if err := store.Put(ctx, TokenSlot, signedToken(t, time.Now().Add(time.Hour))); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		later := func() time.Time { return time.Now().Add(2 * time.Hour) }
		sc, _ := Load(ctx, store, WithClock(later))
		if _, err := sc.Require(); !errors.Is(err, model.ErrMissingContext) {
			t.Errorf("expected ErrMissingContext after the clock passes exp, got %v", err)
		}
	})
}

func TestExpiry(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)

	got, ok := Expiry(signedToken(t, exp))
	if !ok {
		t.Fatal("expected expiry to be found")
	}
	if !got.Equal(exp) {
		t.Errorf("expected %v, got %v", exp, got)
	}

	if _, ok := Expiry("not-a-jwt"); ok {
		t.Error("opaque tokens have no expiry")
	}
}

func TestSubject(t *testing.T) {
	if got := Subject(signedToken(t, time.Now().Add(time.Hour))); got != "alice" {
		t.Errorf("expected alice, got %q", got)
	}
	if got := Subject("opaque-token"); got != "" {
		t.Errorf("expected empty subject for a non-JWT token, got %q", got)
	}
}
