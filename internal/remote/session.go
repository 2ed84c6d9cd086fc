package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session is the single active-session document stored per user.
// At most one device holds the currently-valid token.
type Session struct {
	UserID   string
	Token    string
	Device   string
	IssuedAt time.Time
}

// PutSession writes a fresh session token for the user, overwriting any
// existing token and thereby invalidating a previous device's session.
func (c *Client) PutSession(ctx context.Context, userID, token, device string) error {
	_, err := c.conn.ExecContext(ctx, `
		INSERT INTO sessions (user_id, token, device, issued_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(user_id) DO UPDATE SET
			token = excluded.token,
			device = excluded.device,
			issued_at = excluded.issued_at`,
		userID, token, device)
	if err != nil {
		return fmt.Errorf("failed to write session for %s: %w", userID, err)
	}
	return nil
}

// GetSession returns the current session for the user, or ErrNotFound
// when no token is stored.
func (c *Client) GetSession(ctx context.Context, userID string) (*Session, error) {
	var s Session
	var issuedAt string
	err := c.conn.QueryRowContext(ctx, `
		SELECT user_id, token, COALESCE(device, ''), issued_at
		FROM sessions WHERE user_id = ?`, userID).
		Scan(&s.UserID, &s.Token, &s.Device, &issuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session for %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session for %s: %w", userID, err)
	}

	if t, err := time.Parse("2006-01-02 15:04:05", issuedAt); err == nil {
		s.IssuedAt = t
	}
	return &s, nil
}

// DeleteSession clears the user's session token. Idempotent.
func (c *Client) DeleteSession(ctx context.Context, userID string) error {
	if _, err := c.conn.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	return nil
}
