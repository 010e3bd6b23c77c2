package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/ashureev/persona-lab/internal/auth"
	"github.com/ashureev/persona-lab/internal/domain"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (u *authUser) toDomain() *domain.User {
	if u == nil || u.ID == "" {
		return nil
	}
	return &domain.User{ID: u.ID, Email: u.Email}
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	User         *authUser `json:"user"`

	// Sign up without a session returns the user at the top level.
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (t *tokenResponse) toSession(now time.Time) *domain.AuthSession {
	sess := &domain.AuthSession{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		User:         t.User.toDomain(),
	}
	switch {
	case t.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		sess.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	if sess.User == nil && t.ID != "" {
		sess.User = &domain.User{ID: t.ID, Email: t.Email}
	}
	return sess
}

// SignUp registers an account. The returned session has no access token when
// the project requires email confirmation.
func (c *Client) SignUp(ctx context.Context, email, password string) (*domain.AuthSession, error) {
	body, err := jsonBody(credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	resp, err := request[tokenResponse](ctx, c, reqConfig{Method: http.MethodPost, Path: "/auth/v1/signup", Body: body})
	if err != nil {
		return nil, err
	}
	return resp.toSession(time.Now()), nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.AuthSession, error) {
	body, err := jsonBody(credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	resp, err := request[tokenResponse](ctx, c, reqConfig{
		Method: http.MethodPost,
		Path:   "/auth/v1/token?grant_type=password",
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	return resp.toSession(time.Now()), nil
}

// SignOut revokes the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, reqConfig{Method: http.MethodPost, Path: "/auth/v1/logout", Token: accessToken})
	return err
}

// GetUser returns the user owning accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*domain.User, error) {
	resp, err := request[authUser](ctx, c, reqConfig{Method: http.MethodGet, Path: "/auth/v1/user", Token: accessToken})
	if err != nil {
		return nil, err
	}
	return resp.toDomain(), nil
}

var _ auth.Backend = (*Client)(nil)
