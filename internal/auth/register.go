package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"net/mail"
	"strings"

	"kolibri/internal/models"
	"kolibri/internal/utils"
)

// MinPasswordLength is the shortest password the auth service accepts.
const MinPasswordLength = 6

// SignUpRequest is a new account. The account is not signed in afterwards;
// the user has to confirm their email first.
type SignUpRequest struct {
	Email    string
	Password string
	UserName string
	Phone    string
	Role     models.Role
	BankName string
}

// Validate checks the request before it is sent.
func (r SignUpRequest) Validate() error {
	if _, err := mail.ParseAddress(strings.TrimSpace(r.Email)); err != nil {
		return utils.NewAPIError(http.StatusBadRequest, "A valid email address is required")
	}
	if len(r.Password) < MinPasswordLength {
		return utils.NewAPIError(http.StatusBadRequest, fmt.Sprintf("Password should be at least %d characters", MinPasswordLength))
	}
	if r.Role != "" && !r.Role.Valid() {
		return utils.NewAPIError(http.StatusBadRequest, "Unknown role "+string(r.Role))
	}
	return nil
}

// metadata is what ends up in the account's user_metadata.
func (r SignUpRequest) metadata() (map[string]any, error) {
	role := r.Role
	if role == "" {
		role = models.RoleBankUser
	}
	m := map[string]any{
		"role":      string(role),
		"user_name": strings.TrimSpace(r.UserName),
		"phone":     strings.TrimSpace(r.Phone),
	}
	if role == models.RoleBankUser {
		id, err := NewBankID()
		if err != nil {
			return nil, err
		}
		m["bank_id"] = id
		if r.BankName != "" {
			m["bank_name"] = r.BankName
		}
	}
	return m, nil
}

// SignUp registers a new account and returns it.
func (c *Client) SignUp(ctx context.Context, r SignUpRequest) (*models.User, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	data, err := r.metadata()
	if err != nil {
		return nil, err
	}
	var u wireUser
	err = c.do(ctx, http.MethodPost, "/signup", "", map[string]any{
		"email":    strings.TrimSpace(r.Email),
		"password": r.Password,
		"data":     data,
	}, &u)
	if err != nil {
		return nil, err
	}
	user := toUser(u)
	return &user, nil
}

// NewBankID returns a random 8 digit bank identifier.
func NewBankID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(90_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%08d", n.Int64()+10_000_000), nil
}
