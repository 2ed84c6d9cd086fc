// Package auth models the identity lifecycle around the sync engine.
// The credential backend itself is an external collaborator reached
// through the Provider interface; this package owns the explicit state
// machine and the coupling between login and the device session token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
)

// User is the authenticated identity the rest of the system keys on.
type User struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

// State is the current phase of the identity lifecycle. Transitional
// states exist so callers can render progress and so concurrent
// attempts are rejected instead of interleaved.
type State string

const (
	StateAnonymous     State = "anonymous"
	StateSigningUp     State = "signing_up"
	StateLoggingIn     State = "logging_in"
	StateAuthenticated State = "authenticated"
	StateLoggingOut    State = "logging_out"
)

// ErrBusy means an auth transition is already in progress.
var ErrBusy = errors.New("auth transition in progress")

// Provider is the external credential backend.
type Provider interface {
	SignUp(ctx context.Context, email, password, nickname string) (*User, error)
	SignIn(ctx context.Context, email, password string) (*User, error)
	SignOut(ctx context.Context) error
}

// Sessions is the device-session surface the flow drives on login and
// logout. *session.Manager satisfies it.
type Sessions interface {
	Start(ctx context.Context, userID string) (string, error)
	End(ctx context.Context, userID, token string) error
	Validate(ctx context.Context, userID, token string) error
}

// Flow is the auth state machine for one app instance.
type Flow struct {
	provider Provider
	sessions Sessions
	logger   *log.Logger

	mu    sync.Mutex
	state State
	user  *User
	token string

	onChange func(State, *User)
}

// New creates an anonymous flow. If logger is nil, a default logger
// writing to stderr is used.
func New(provider Provider, sessions Sessions, logger *log.Logger) *Flow {
	if logger == nil {
		logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	return &Flow{
		provider: provider,
		sessions: sessions,
		logger:   logger,
		state:    StateAnonymous,
	}
}

// OnChange installs a listener invoked after every state transition.
// Must be set before the flow is driven.
func (f *Flow) OnChange(fn func(State, *User)) {
	f.onChange = fn
}

// State returns the current lifecycle state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// CurrentUser returns the authenticated user, or nil.
func (f *Flow) CurrentUser() *User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

// Token returns the active session token, or "".
func (f *Flow) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

// SignUp registers a new account and leaves the flow authenticated with
// a fresh device session.
func (f *Flow) SignUp(ctx context.Context, email, password, nickname string) (*User, error) {
	if err := f.begin(StateSigningUp); err != nil {
		return nil, err
	}

	user, err := f.provider.SignUp(ctx, email, password, nickname)
	if err != nil {
		f.settle(StateAnonymous, nil, "")
		return nil, fmt.Errorf("sign-up failed: %w", err)
	}
	return f.establish(ctx, user)
}

// SignIn authenticates existing credentials and claims the user's
// single active session, displacing any other device.
func (f *Flow) SignIn(ctx context.Context, email, password string) (*User, error) {
	if err := f.begin(StateLoggingIn); err != nil {
		return nil, err
	}

	user, err := f.provider.SignIn(ctx, email, password)
	if err != nil {
		f.settle(StateAnonymous, nil, "")
		return nil, fmt.Errorf("sign-in failed: %w", err)
	}
	return f.establish(ctx, user)
}

// SignOut ends the device session and returns the flow to anonymous.
// Local teardown happens even when the backend calls fail: the user
// asked to be logged out on this device, and that always succeeds.
func (f *Flow) SignOut(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateAuthenticated {
		f.mu.Unlock()
		return nil
	}
	f.state = StateLoggingOut
	user, token := f.user, f.token
	f.mu.Unlock()
	f.notify(StateLoggingOut, user)

	if err := f.sessions.End(ctx, user.UID, token); err != nil {
		f.logger.Printf("WARNING: failed to revoke session for %s: %v", user.UID, err)
	}
	if err := f.provider.SignOut(ctx); err != nil {
		f.logger.Printf("WARNING: backend sign-out failed: %v", err)
	}

	f.settle(StateAnonymous, nil, "")
	return nil
}

// CheckSession verifies this device still owns the user's session. A
// takeover by another device forces the flow back to anonymous and
// reports the validation error.
func (f *Flow) CheckSession(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateAuthenticated {
		f.mu.Unlock()
		return nil
	}
	user, token := f.user, f.token
	f.mu.Unlock()

	err := f.sessions.Validate(ctx, user.UID, token)
	if err == nil {
		return nil
	}

	f.logger.Printf("session for %s no longer valid, signing out locally: %v", user.UID, err)
	f.settle(StateAnonymous, nil, "")
	return err
}

// establish claims the session token and lands in authenticated.
func (f *Flow) establish(ctx context.Context, user *User) (*User, error) {
	token, err := f.sessions.Start(ctx, user.UID)
	if err != nil {
		f.settle(StateAnonymous, nil, "")
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	f.settle(StateAuthenticated, user, token)
	f.logger.Printf("authenticated as %s", user.UID)
	return user, nil
}

// begin enters a transitional state, rejecting overlap.
func (f *Flow) begin(s State) error {
	f.mu.Lock()
	if f.state != StateAnonymous {
		cur := f.state
		f.mu.Unlock()
		return fmt.Errorf("cannot %s while %s: %w", s, cur, ErrBusy)
	}
	f.state = s
	f.mu.Unlock()
	f.notify(s, nil)
	return nil
}

func (f *Flow) settle(s State, user *User, token string) {
	f.mu.Lock()
	f.state = s
	f.user = user
	f.token = token
	f.mu.Unlock()
	f.notify(s, user)
}

func (f *Flow) notify(s State, user *User) {
	if f.onChange != nil {
		f.onChange(s, user)
	}
}
