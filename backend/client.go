// Package backend is a typed client for the companion backend's auth and user endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/pkg/errors"
)

// Endpoint paths
const (
	LoginPath    = "/auth/login"
	RegisterPath = "/auth/register"
	RefreshPath  = "/auth/refresh"
	LogoutPath   = "/auth/logout"
	MePath       = "/users/me"
	HealthPath   = "/health"
)

// maxErrorBody bounds how much of a failed response is read for its detail.
const maxErrorBody = 64 << 10

// Client talks to the backend over the supplied http.Client. Authorization is
// the http.Client's concern; Client never sets it.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) Login(ctx context.Context, email, password string) (oauthmodel.TokenResponse, error) {
	var tr oauthmodel.TokenResponse
	err := c.do(ctx, http.MethodPost, LoginPath, oauthmodel.LoginRequest{Email: email, Password: password}, &tr)
	if err != nil {
		return oauthmodel.TokenResponse{}, errors.Wrap(err, "[Client.Login]")
	}
	if err := tr.Validate(); err != nil {
		return oauthmodel.TokenResponse{}, errors.Wrapf(autherrors.ErrInvalidResponse, "[Client.Login] %s", err)
	}
	return tr, nil
}

func (c *Client) Register(ctx context.Context, req oauthmodel.RegisterRequest) (*oauthmodel.User, error) {
	var u oauthmodel.User
	if err := c.do(ctx, http.MethodPost, RegisterPath, req, &u); err != nil {
		return nil, errors.Wrap(err, "[Client.Register]")
	}
	return &u, nil
}

// Refresh exchanges refreshToken for a new pair. The old refresh token is
// invalid once this succeeds.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (oauthmodel.TokenResponse, error) {
	var tr oauthmodel.TokenResponse
	if err := c.do(ctx, http.MethodPost, RefreshPath, oauthmodel.RefreshRequest{RefreshToken: refreshToken}, &tr); err != nil {
		if errors.Is(err, autherrors.ErrAuthentication) {
			err = errors.Wrap(autherrors.ErrRefreshRejected, err.Error())
		}
		return oauthmodel.TokenResponse{}, errors.Wrap(err, "[Client.Refresh]")
	}
	return tr, nil
}

func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return errors.Wrap(c.do(ctx, http.MethodPost, LogoutPath, oauthmodel.LogoutRequest{RefreshToken: refreshToken}, nil), "[Client.Logout]")
}

func (c *Client) Me(ctx context.Context) (*oauthmodel.User, error) {
	var u oauthmodel.User
	if err := c.do(ctx, http.MethodGet, MePath, nil, &u); err != nil {
		return nil, errors.Wrap(err, "[Client.Me]")
	}
	return &u, nil
}

func (c *Client) Health(ctx context.Context) (oauthmodel.HealthResponse, error) {
	var h oauthmodel.HealthResponse
	if err := c.do(ctx, http.MethodGet, HealthPath, nil, &h); err != nil {
		return oauthmodel.HealthResponse{}, errors.Wrap(err, "[Client.Health]")
	}
	return h, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "json.Marshal")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "http.NewRequest")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(autherrors.ErrTransport, "%s %s: %s", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(autherrors.ErrInvalidResponse, "%s %s: %s", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var er oauthmodel.ErrorResponse
	if err := json.Unmarshal(raw, &er); err != nil || er.Detail == "" {
		er.Detail = strings.TrimSpace(string(raw))
	}
	return autherrors.NewAPIError(resp.StatusCode, er.Detail)
}
