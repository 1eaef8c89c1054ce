package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gitshopapp/preorder/internal/crypto"
	"github.com/gitshopapp/preorder/internal/logging"
)

func newTestManager(t *testing.T, now time.Time) (*Manager, *MemoryStore) {
	t.Helper()

	sealer, err := crypto.NewSealer(strings.Repeat("s", 32))
	if err != nil {
		t.Fatalf("failed to build sealer: %v", err)
	}
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	m := NewManager(store, sealer)
	m.now = func() time.Time { return now }
	return m, store
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "customer",
		"exp": exp.Unix(),
	}).SignedString([]byte("sellpass-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestLoginLookupLogout(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m, store := newTestManager(t, now)
	ctx := context.Background()
	token := signedToken(t, now.Add(2*time.Hour))

	sess, err := m.Login(ctx, 42, " Buyer@Example.com ", token)
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if sess.Email != "buyer@example.com" {
		t.Fatalf("expected normalized email, got %q", sess.Email)
	}
	if !sess.ExpiresAt.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("expected expiry from token, got %s", sess.ExpiresAt)
	}

	stored, err := store.Get(ctx, storeKey(42))
	if err != nil {
		t.Fatalf("store Get returned error: %v", err)
	}
	if stored.SealedToken == token || strings.Contains(stored.SealedToken, token) {
		t.Fatal("expected token to be sealed at rest")
	}

	got, err := m.Lookup(ctx, 42)
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if got.Token != token || got.Email != "buyer@example.com" {
		t.Fatalf("unexpected session %+v", got)
	}

	if err := m.Logout(ctx, 42); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if _, err := m.Lookup(ctx, 42); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after logout, got %v", err)
	}
}

func TestLogin_RejectsBadTokens(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "expired", token: signedToken(t, now.Add(-time.Minute)), wantErr: ErrTokenExpired},
		{name: "expires now", token: signedToken(t, now), wantErr: ErrTokenExpired},
		{name: "garbage", token: "not-a-jwt", wantErr: ErrInvalidToken},
		{name: "no exp claim", token: noExp, wantErr: ErrInvalidToken},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := m.Login(context.Background(), 1, "a@example.com", tc.token); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLookup_ExpiredSessionIsRemoved(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m, store := newTestManager(t, now)
	ctx := context.Background()

	if _, err := m.Login(ctx, 7, "a@example.com", signedToken(t, now.Add(time.Hour))); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}

	later := now.Add(2 * time.Hour)
	m.now = func() time.Time { return later }
	if _, err := m.Lookup(ctx, 7); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	store.now = func() time.Time { return now }
	if _, err := store.Get(ctx, storeKey(7)); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected expired session to be deleted, got %v", err)
	}
}

func TestSweepExpired_SinglePass(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, now)
	ctx := context.Background()

	if _, err := m.Login(ctx, 1, "short@example.com", signedToken(t, now.Add(time.Minute))); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if _, err := m.Login(ctx, 2, "long@example.com", signedToken(t, now.Add(time.Hour))); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}

	m.now = func() time.Time { return now.Add(10 * time.Minute) }
	removed, err := m.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := m.Lookup(ctx, 2); err != nil {
		t.Fatalf("expected long session to survive, got %v", err)
	}
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, time.Now())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- m.RunSweeper(ctx, time.Millisecond, slogDiscard())
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

type undeletableStore struct {
	*MemoryStore
}

func (undeletableStore) Delete(context.Context, string) error {
	return errors.New("store unavailable")
}

func TestLookup_LogsExpiredDeleteFailureToContextLogger(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sealer, err := crypto.NewSealer(strings.Repeat("s", 32))
	if err != nil {
		t.Fatalf("failed to build sealer: %v", err)
	}
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	m := NewManager(undeletableStore{MemoryStore: store}, sealer)
	m.now = func() time.Time { return now }

	var logs bytes.Buffer
	ctx := logging.WithLogger(context.Background(), slog.New(slog.NewTextHandler(&logs, nil)))
	if _, err := m.Login(ctx, 9, "a@example.com", signedToken(t, now.Add(time.Hour))); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}

	m.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := m.Lookup(ctx, 9); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if !strings.Contains(logs.String(), "failed to delete expired session") || !strings.Contains(logs.String(), "user_id=9") {
		t.Fatalf("expected delete failure on the context logger, got %q", logs.String())
	}
}
