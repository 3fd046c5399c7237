// Package auth handles portal sign-in against the hosted auth service, the
// encrypted session cookie, token refresh and the route gate.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"kolibri/internal/models"
	"kolibri/internal/utils"
)

var (
	// ErrInvalidCredentials is returned when email or password is wrong.
	ErrInvalidCredentials = utils.NewAPIError(http.StatusUnauthorized, "Invalid login credentials")
	// ErrRefreshFailed is returned when a refresh token is rejected.
	ErrRefreshFailed = utils.NewAPIError(http.StatusUnauthorized, "Session expired, please sign in again")
)

// ClientConfig configures a Client.
type ClientConfig struct {
	URL        string
	AnonKey    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the auth service's REST API.
type Client struct {
	base    string
	anonKey string
	timeout time.Duration
	http    *http.Client
	logger  *zap.Logger
	now     func() time.Time
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid auth url %q", cfg.URL)
	}
	c := &Client{
		base:    strings.TrimRight(cfg.URL, "/"),
		anonKey: cfg.AnonKey,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
		now:     time.Now,
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

type wireUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	ExpiresIn    int      `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	RefreshToken string   `json:"refresh_token"`
	User         wireUser `json:"user"`
}

// SignIn exchanges email and password for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, utils.NewAPIError(http.StatusBadRequest, "Email and password are required")
	}
	var tok tokenResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", map[string]string{
		"email":    email,
		"password": password,
	}, &tok)
	if err != nil {
		if s := utils.StatusOf(err); s == http.StatusBadRequest || s == http.StatusUnauthorized {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return c.session(tok), nil
}

// Refresh trades a refresh token for a new session. Refresh tokens are
// single use.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, ErrRefreshFailed
	}
	var tok tokenResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", map[string]string{
		"refresh_token": refreshToken,
	}, &tok)
	if err != nil {
		if s := utils.StatusOf(err); s >= 400 && s < 500 && s != http.StatusRequestTimeout {
			return nil, ErrRefreshFailed
		}
		return nil, err
	}
	return c.session(tok), nil
}

// User returns the account behind accessToken.
func (c *Client) User(ctx context.Context, accessToken string) (*models.User, error) {
	var u wireUser
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &u); err != nil {
		return nil, err
	}
	user := toUser(u)
	return &user, nil
}

// SignOut revokes the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

func (c *Client) session(tok tokenResponse) *Session {
	exp := time.Unix(tok.ExpiresAt, 0)
	if tok.ExpiresAt == 0 {
		exp = c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    exp.UTC(),
		User:         toUser(tok.User),
	}
}

func toUser(u wireUser) models.User {
	str := func(k string) string {
		s, _ := u.UserMetadata[k].(string)
		return s
	}
	user := models.User{
		ID:       u.ID,
		Email:    u.Email,
		UserName: str("user_name"),
		Role:     models.Role(str("role")),
		BankID:   str("bank_id"),
		BankName: str("bank_name"),
		Phone:    str("phone"),
	}
	if user.Phone == "" {
		user.Phone = u.Phone
	}
	if !user.Role.Valid() {
		user.Role = models.RoleBankUser
	}
	return user
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("auth service unreachable", zap.String("path", path), zap.Error(err))
		return utils.NewAPIError(http.StatusServiceUnavailable, "authentication service unavailable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return utils.NewAPIError(resp.StatusCode, authMessage(resp.StatusCode, raw))
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return utils.NewAPIError(http.StatusBadGateway, "malformed auth response")
	}
	return nil
}

func authMessage(status int, raw []byte) string {
	var e struct {
		Msg              string `json:"msg"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	if json.Unmarshal(raw, &e) == nil {
		for _, m := range []string{e.Msg, e.ErrorDescription, e.Message} {
			if m != "" {
				return m
			}
		}
	}
	return http.StatusText(status)
}
