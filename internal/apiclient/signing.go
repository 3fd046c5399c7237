package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"kolibri/internal/models"
	"kolibri/internal/utils"
)

// ErrInvalidSigningLink is reported for unknown, used or expired tokens.
var ErrInvalidSigningLink = utils.NewAPIError(http.StatusGone, "Invalid or expired signing link")

// VerifySigningToken resolves a signing link. It needs no session.
func (c *Client) VerifySigningToken(ctx context.Context, token string) (*models.SigningInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSigningLink
	}
	resp, err := c.send(ctx, call{
		method: http.MethodGet,
		path:   "/api/signing/verify/" + url.PathEscape(token),
		public: true,
	})
	if err != nil {
		return nil, signingError(err)
	}
	var info models.SigningInfo
	if err := decode(resp.body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Sign confirms the signature behind token.
func (c *Client) Sign(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidSigningLink
	}
	req := call{
		method: http.MethodPost,
		path:   "/api/signing/sign",
		body:   models.SignRequest{Token: token, SignatureConfirmed: true},
		public: true,
	}
	return signingError(c.mutate(ctx, req, nil, deedsFamily))
}

func signingError(err error) error {
	switch utils.StatusOf(err) {
	case http.StatusNotFound, http.StatusGone, http.StatusBadRequest:
		return ErrInvalidSigningLink
	}
	return err
}
