package devbackend

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

// account is a registered user of the fake auth service.
type account struct {
	ID       string
	Email    string
	Hash     []byte
	Metadata map[string]any
}

type issued struct {
	email     string
	expiresAt time.Time
}

// authService mimics the subset of the hosted auth REST API the portal uses.
type authService struct {
	mu       sync.Mutex
	now      func() time.Time
	tokenTTL time.Duration
	anonKey  string
	cost     int

	accounts map[string]*account
	access   map[string]issued
	refresh  map[string]string
}

func newAuthService(now func() time.Time, tokenTTL time.Duration, anonKey string) *authService {
	return &authService{
		now:      now,
		tokenTTL: tokenTTL,
		anonKey:  anonKey,
		cost:     bcrypt.MinCost,
		accounts: make(map[string]*account),
		access:   make(map[string]issued),
		refresh:  make(map[string]string),
	}
}

type wireUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone,omitempty"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int      `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	RefreshToken string   `json:"refresh_token"`
	User         wireUser `json:"user"`
}

func (a *authService) routes(r *mux.Router) {
	r.Use(a.requireAPIKey)
	r.HandleFunc("/token", a.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/signup", a.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/user", a.handleUser).Methods(http.MethodGet)
	r.HandleFunc("/logout", a.handleLogout).Methods(http.MethodPost)
}

func (a *authService) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.anonKey != "" && r.Header.Get("apikey") != a.anonKey {
			writeAuthError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *authService) register(email, password string, metadata map[string]any) (*account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.accounts[email]; exists {
		return nil, errUserExists
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	acc := &account{ID: uuid.NewString(), Email: email, Hash: hash, Metadata: metadata}
	a.accounts[email] = acc
	return acc, nil
}

var errUserExists = &authError{status: http.StatusUnprocessableEntity, msg: "User already registered"}

type authError struct {
	status int
	msg    string
}

func (e *authError) Error() string { return e.msg }

func (a *authService) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Data     map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeAuthError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if len(req.Password) < 6 {
		writeAuthError(w, http.StatusUnprocessableEntity, "Password should be at least 6 characters")
		return
	}
	acc, err := a.register(req.Email, req.Password, req.Data)
	if err != nil {
		if ae, ok := err.(*authError); ok {
			writeAuthError(w, ae.status, ae.msg)
			return
		}
		writeAuthError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.wire(acc))
}

func (a *authService) handleToken(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("grant_type") {
	case "password":
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAuthError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		a.mu.Lock()
		acc, ok := a.accounts[strings.ToLower(strings.TrimSpace(req.Email))]
		a.mu.Unlock()
		if !ok || bcrypt.CompareHashAndPassword(acc.Hash, []byte(req.Password)) != nil {
			writeAuthError(w, http.StatusBadRequest, "Invalid login credentials")
			return
		}
		writeJSON(w, http.StatusOK, a.issue(acc))

	case "refresh_token":
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAuthError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		a.mu.Lock()
		email, ok := a.refresh[req.RefreshToken]
		if ok {
			// Refresh tokens are single use.
			delete(a.refresh, req.RefreshToken)
		}
		acc := a.accounts[email]
		a.mu.Unlock()
		if !ok || acc == nil {
			writeAuthError(w, http.StatusBadRequest, "Invalid Refresh Token")
			return
		}
		writeJSON(w, http.StatusOK, a.issue(acc))

	default:
		writeAuthError(w, http.StatusBadRequest, "unsupported grant_type")
	}
}

func (a *authService) issue(acc *account) tokenResponse {
	a.mu.Lock()
	defer a.mu.Unlock()
	access := randomToken()
	refresh := randomToken()
	exp := a.now().Add(a.tokenTTL)
	a.access[access] = issued{email: acc.Email, expiresAt: exp}
	a.refresh[refresh] = acc.Email
	return tokenResponse{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int(a.tokenTTL / time.Second),
		ExpiresAt:    exp.Unix(),
		RefreshToken: refresh,
		User:         a.wire(acc),
	}
}

func (a *authService) wire(acc *account) wireUser {
	u := wireUser{ID: acc.ID, Email: acc.Email, UserMetadata: acc.Metadata}
	if p, ok := acc.Metadata["phone"].(string); ok {
		u.Phone = p
	}
	return u
}

// lookup resolves an access token to its account.
func (a *authService) lookup(token string) (*account, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	is, ok := a.access[token]
	if !ok || !a.now().Before(is.expiresAt) {
		return nil, false
	}
	acc, ok := a.accounts[is.email]
	return acc, ok
}

func (a *authService) handleUser(w http.ResponseWriter, r *http.Request) {
	acc, ok := a.lookup(bearer(r))
	if !ok {
		writeAuthError(w, http.StatusUnauthorized, "invalid JWT")
		return
	}
	writeJSON(w, http.StatusOK, a.wire(acc))
}

func (a *authService) handleLogout(w http.ResponseWriter, r *http.Request) {
	tok := bearer(r)
	a.mu.Lock()
	if is, ok := a.access[tok]; ok {
		delete(a.access, tok)
		for rt, email := range a.refresh {
			if email == is.email {
				delete(a.refresh, rt)
			}
		}
	}
	a.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func randomToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": http.StatusText(status), "error_description": msg, "msg": msg})
}
