package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/persona-lab/internal/domain"
)

// EventType names a change of authentication state.
type EventType string

const (
	EventInitialSession EventType = "INITIAL_SESSION"
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// Event is delivered to every listener after the session changes.
// Session is nil when nobody is signed in.
type Event struct {
	Type    EventType
	Session *domain.AuthSession
}

// Listener receives auth events.
type Listener func(ctx context.Context, ev Event)

// SessionKey is the entry holding the backend session tokens.
const SessionKey = "auth-session"

// Backend is the hosted authentication API.
type Backend interface {
	SignUp(ctx context.Context, email, password string) (*domain.AuthSession, error)
	SignInWithPassword(ctx context.Context, email, password string) (*domain.AuthSession, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*domain.User, error)
}

// Client holds one device's backend session and emits change events.
type Client struct {
	backend Backend
	persist Persister
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	session   *domain.AuthSession
	listeners map[int]Listener
	nextID    int
}

// NewClient creates a signed-out client. persist may be nil.
func NewClient(backend Backend, persist Persister, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		backend:   backend,
		persist:   persist,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
}

// Restore loads the session saved by a previous process without emitting events.
func (c *Client) Restore(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}
	raw, err := c.persist.Get(ctx, SessionKey)
	if errors.Is(err, ErrEntryNotFound) || (err == nil && raw == "") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load auth session: %w", err)
	}
	var sess domain.AuthSession
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return fmt.Errorf("decode auth session: %w", err)
	}
	c.mu.Lock()
	c.session = &sess
	c.mu.Unlock()
	return nil
}

// OnAuthStateChange registers fn and returns a function that removes it.
func (c *Client) OnAuthStateChange(fn Listener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Session returns the current session, or nil.
func (c *Client) Session() *domain.AuthSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// AccessToken returns the bearer token of the current session.
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

// SignUp registers a new account. The backend may or may not sign the user in
// immediately, depending on whether email confirmation is required.
func (c *Client) SignUp(ctx context.Context, email, password string) (*domain.AuthSession, error) {
	sess, err := c.backend.SignUp(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	if sess != nil && sess.AccessToken != "" {
		c.setSession(ctx, EventSignedIn, sess)
	}
	return sess, nil
}

// SignIn authenticates with email and password.
func (c *Client) SignIn(ctx context.Context, email, password string) (*domain.AuthSession, error) {
	sess, err := c.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	c.setSession(ctx, EventSignedIn, sess)
	return sess, nil
}

// SignOut ends the session locally even if the backend call fails.
func (c *Client) SignOut(ctx context.Context) error {
	token := c.AccessToken()
	var err error
	if token != "" {
		if signOutErr := c.backend.SignOut(ctx, token); signOutErr != nil {
			err = fmt.Errorf("sign out: %w", signOutErr)
		}
	}
	c.setSession(ctx, EventSignedOut, nil)
	return err
}

// CheckSession validates the held session against the backend and emits
// INITIAL_SESSION with the result.
func (c *Client) CheckSession(ctx context.Context) (*domain.AuthSession, error) {
	sess := c.Session()
	if sess == nil || sess.Expired(c.now()) {
		c.setSession(ctx, EventInitialSession, nil)
		return nil, nil
	}

	user, err := c.backend.GetUser(ctx, sess.AccessToken)
	if err == nil && user == nil {
		err = errors.New("token has no user")
	}
	if err != nil {
		c.setSession(ctx, EventInitialSession, nil)
		return nil, fmt.Errorf("check session: %w", err)
	}

	refreshed := *sess
	refreshed.User = user
	c.setSession(ctx, EventInitialSession, &refreshed)
	return &refreshed, nil
}

func (c *Client) setSession(ctx context.Context, typ EventType, sess *domain.AuthSession) {
	c.mu.Lock()
	c.session = sess
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	c.save(ctx, sess)

	ev := Event{Type: typ, Session: sess}
	for _, l := range listeners {
		l(ctx, ev)
	}
}

func (c *Client) save(ctx context.Context, sess *domain.AuthSession) {
	if c.persist == nil {
		return
	}
	value := ""
	if sess != nil {
		data, err := json.Marshal(sess)
		if err != nil {
			c.logger.Warn("Failed to encode auth session", "error", err)
			return
		}
		value = string(data)
	}
	// The snapshot in Store is authoritative for clients; a lost token only
	// forces another sign in.
	if err := c.persist.Put(ctx, SessionKey, value); err != nil {
		c.logger.Warn("Failed to persist auth session", "error", err)
	}
}
