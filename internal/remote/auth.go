package remote

import (
	"context"
	"errors"
	"net/http"

	"github.com/hackgods/clinic-booking-gateway/internal/session"
)

var _ session.AuthService = (*Client)(nil)

type loginResponse struct {
	Token     string       `json:"token"`
	ID        id           `json:"id"`
	Email     string       `json:"email"`
	FirstName string       `json:"firstName"`
	LastName  string       `json:"lastName"`
	Role      session.Role `json:"role"`
}

type userResponse struct {
	ID        id           `json:"id"`
	Email     string       `json:"email"`
	FirstName string       `json:"firstName"`
	LastName  string       `json:"lastName"`
	Role      session.Role `json:"role"`
}

func (u userResponse) user() session.User {
	return session.User{
		ID:        string(u.ID),
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
}

// Register creates an account. Missing names are sent as empty strings.
func (c *Client) Register(ctx context.Context, req session.RegisterRequest) error {
	r, err := jsonRequest(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":     req.Email,
		"password":  req.Password,
		"firstName": req.FirstName,
		"lastName":  req.LastName,
	})
	if err != nil {
		return err
	}
	return rejection(c.do(ctx, r, nil))
}

func (c *Client) Login(ctx context.Context, email, password string) (*session.LoginResult, error) {
	r, err := jsonRequest(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	var resp loginResponse
	if err := c.do(ctx, r, &resp); err != nil {
		return nil, rejection(err)
	}

	return &session.LoginResult{
		Token: resp.Token,
		User: session.User{
			ID:        string(resp.ID),
			Email:     resp.Email,
			FirstName: resp.FirstName,
			LastName:  resp.LastName,
			Role:      resp.Role,
		},
	}, nil
}

func (c *Client) CurrentUser(ctx context.Context, token string) (*session.User, error) {
	if token == "" {
		return nil, session.ErrUnauthenticated
	}
	r, err := jsonRequest(http.MethodGet, "/api/users/me", token, nil)
	if err != nil {
		return nil, err
	}

	var resp userResponse
	if err := c.do(ctx, r, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Status {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return nil, session.ErrUnauthenticated
			}
		}
		return nil, err
	}

	u := resp.user()
	return &u, nil
}

// rejection turns an API refusal into a session.Rejection so its message can
// be shown to the user.
func rejection(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &session.Rejection{Status: apiErr.Status, Message: apiErr.Message}
	}
	return err
}
