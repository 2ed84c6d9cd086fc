// Package session enforces the single-active-session rule: each user
// holds at most one valid device session, and logging in on a new
// device invalidates the previous one.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/thsalrkd/todaydo/internal/remote"
)

// ErrConflict means the presented token is no longer the user's active
// session, which is how a login on another device surfaces here.
var ErrConflict = errors.New("session superseded by another device")

// Ops is the session document surface the manager needs.
// *remote.Client satisfies it; tests substitute fakes.
type Ops interface {
	PutSession(ctx context.Context, userID, token, device string) error
	GetSession(ctx context.Context, userID string) (*remote.Session, error)
	DeleteSession(ctx context.Context, userID string) error
}

// Claims carried in a session token.
type Claims struct {
	Device string `json:"device"`
	jwt.RegisteredClaims
}

// Manager issues, validates, and revokes session tokens against the
// shared session store.
type Manager struct {
	ops    Ops
	secret []byte
	device string
	logger *log.Logger
	now    func() time.Time
}

// New creates a session manager for one device. The secret signs
// tokens; every device of the install shares it. If logger is nil, a
// default logger writing to stderr is used.
func New(ops Ops, secret []byte, device string, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	return &Manager{
		ops:    ops,
		secret: secret,
		device: device,
		logger: logger,
		now:    time.Now,
	}
}

// Start mints a fresh token for the user and publishes it as the single
// active session, invalidating whatever token any other device held.
func (m *Manager) Start(ctx context.Context, userID string) (string, error) {
	now := m.now()
	claims := Claims{
		Device: m.device,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	if err := m.ops.PutSession(ctx, userID, token, m.device); err != nil {
		return "", fmt.Errorf("failed to publish session: %w", err)
	}

	m.logger.Printf("session started for %s on %s", userID, m.device)
	return token, nil
}

// Validate checks that the token is well-formed, signed by us, issued
// for the user, and still the user's active session. A token displaced
// by a newer login fails with ErrConflict; the caller should tear the
// local session down.
func (m *Manager) Validate(ctx context.Context, userID, token string) error {
	if _, err := m.parse(userID, token); err != nil {
		return err
	}

	current, err := m.ops.GetSession(ctx, userID)
	if errors.Is(err, remote.ErrNotFound) {
		return fmt.Errorf("no active session for %s: %w", userID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to load active session: %w", err)
	}
	if current.Token != token {
		return fmt.Errorf("token displaced by %s: %w", current.Device, ErrConflict)
	}
	return nil
}

// End revokes the user's session if this token still owns it. A token
// already displaced by another device leaves the newer session intact;
// End is idempotent either way.
func (m *Manager) End(ctx context.Context, userID, token string) error {
	current, err := m.ops.GetSession(ctx, userID)
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load active session: %w", err)
	}
	if current.Token != token {
		m.logger.Printf("session for %s already owned by %s, leaving it", userID, current.Device)
		return nil
	}

	if err := m.ops.DeleteSession(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	m.logger.Printf("session ended for %s", userID)
	return nil
}

// parse verifies the token signature and subject.
func (m *Manager) parse(userID, token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if claims.Subject != userID {
		return nil, fmt.Errorf("token issued for %q, not %q: %w", claims.Subject, userID, ErrConflict)
	}
	return &claims, nil
}
