package api

import (
	"context"

	"github.com/sangamlink/client-go/internal/model"
)

// RegisterRequest is the registration form payload.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"` // member (default) or agency
}

type authResponse struct {
	Token        string     `json:"token"`
	RefreshToken string     `json:"refreshToken"`
	User         model.User `json:"user"`
}

// Login authenticates with email/password and returns the token pair plus
// the user snapshot.
func (c *Client) Login(ctx context.Context, email, password string) (model.AuthResult, error) {
	body := map[string]string{"email": email, "password": password}
	var resp authResponse
	if err := c.post(ctx, "/auth/login", body, &resp, noBearer(), noAuthRetry()); err != nil {
		return model.AuthResult{}, err
	}
	return model.AuthResult{
		Tokens: model.Tokens{AccessToken: resp.Token, RefreshToken: resp.RefreshToken},
		User:   resp.User,
	}, nil
}

// Register creates an account and returns the same shape as Login.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (model.AuthResult, error) {
	var resp authResponse
	if err := c.post(ctx, "/auth/register", req, &resp, noBearer(), noAuthRetry()); err != nil {
		return model.AuthResult{}, err
	}
	return model.AuthResult{
		Tokens: model.Tokens{AccessToken: resp.Token, RefreshToken: resp.RefreshToken},
		User:   resp.User,
	}, nil
}

// RefreshToken exchanges a refresh token for a new access token (and
// possibly a rotated refresh token). Never retried on 401: a rejection here
// is the terminal "session expired" signal.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (model.Tokens, error) {
	body := map[string]string{"refreshToken": refreshToken}
	var resp authResponse
	if err := c.post(ctx, "/auth/refresh", body, &resp, noBearer(), noAuthRetry()); err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: resp.Token, RefreshToken: resp.RefreshToken}, nil
}

// Logout invalidates the refresh token server-side.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refreshToken": refreshToken}
	return c.post(ctx, "/auth/logout", body, nil, noAuthRetry())
}

// Me fetches the live user record for the current session.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.get(ctx, "/auth/me", &u); err != nil {
		return nil, err
	}
	return &u, nil
}
