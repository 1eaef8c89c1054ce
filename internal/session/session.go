// Package session keeps each chat user's Sellpass login: the customer email
// and bearer token, valid until the token's own expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gitshopapp/preorder/internal/crypto"
	"github.com/gitshopapp/preorder/internal/logging"
)

var (
	ErrNoSession    = errors.New("no valid session")
	ErrTokenExpired = errors.New("token is expired")
	ErrInvalidToken = errors.New("token is not a valid JWT with an expiry")
)

// Session is a resolved login with the bearer token in the clear.
type Session struct {
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Data is what a Store persists. The token is sealed.
type Data struct {
	UserID      int64     `json:"user_id"`
	Email       string    `json:"email"`
	SealedToken string    `json:"sealed_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store interface {
	Get(ctx context.Context, key string) (*Data, error)
	Set(ctx context.Context, key string, data *Data, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// SweepExpired removes entries whose expiry is at or before now and
	// returns how many were removed.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}

type Manager struct {
	store  Store
	sealer crypto.Sealer
	parser *jwt.Parser
	now    func() time.Time
}

func NewManager(store Store, sealer crypto.Sealer) *Manager {
	return &Manager{
		store:  store,
		sealer: sealer,
		parser: jwt.NewParser(),
		now:    time.Now,
	}
}

func (m *Manager) Close() error {
	if m == nil || m.store == nil {
		return nil
	}
	return m.store.Close()
}

// Login stores the user's token. The expiry comes from the token's exp claim,
// read without verifying the signature; Sellpass remains the verifier.
func (m *Manager) Login(ctx context.Context, userID int64, email, token string) (*Session, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	expiresAt, err := m.tokenExpiry(token)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if !expiresAt.After(now) {
		return nil, ErrTokenExpired
	}

	key := storeKey(userID)
	sealed, err := m.sealer.Seal(token, key)
	if err != nil {
		return nil, fmt.Errorf("failed to seal token: %w", err)
	}

	data := &Data{
		UserID:      userID,
		Email:       email,
		SealedToken: sealed,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}
	if err := m.store.Set(ctx, key, data, expiresAt.Sub(now)); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	return &Session{UserID: userID, Email: email, Token: token, ExpiresAt: expiresAt}, nil
}

// Lookup returns the user's session, or ErrNoSession if none is stored or it
// has expired.
func (m *Manager) Lookup(ctx context.Context, userID int64) (*Session, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}

	key := storeKey(userID)
	data, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !data.ExpiresAt.After(m.now()) {
		if err := m.store.Delete(ctx, key); err != nil {
			logging.FromContext(ctx, nil).WarnContext(ctx, "failed to delete expired session", "user_id", userID, "error", err)
		}
		return nil, ErrNoSession
	}

	token, err := m.sealer.Open(data.SealedToken, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open session token: %w", err)
	}
	return &Session{UserID: data.UserID, Email: data.Email, Token: token, ExpiresAt: data.ExpiresAt}, nil
}

func (m *Manager) Logout(ctx context.Context, userID int64) error {
	if ctx == nil {
		return fmt.Errorf("context is required")
	}
	return m.store.Delete(ctx, storeKey(userID))
}

// SweepExpired runs one pass over the store.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	return m.store.SweepExpired(ctx, m.now())
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := m.SweepExpired(ctx)
			if err != nil {
				logger.Warn("session sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("removed expired sessions", "count", removed)
			}
		}
	}
}

func (m *Manager) tokenExpiry(token string) (time.Time, error) {
	parsed, _, err := m.parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, ErrInvalidToken
	}
	return exp.Time, nil
}

func storeKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func cloneData(data *Data) *Data {
	if data == nil {
		return nil
	}
	cloned := *data
	return &cloned
}
