package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"kolibri/internal/crypto"
	"kolibri/internal/models"
)

var (
	// ErrSessionNotFound is returned when the request carries no usable
	// session cookie.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when the session is past its expiry
	// and cannot be refreshed.
	ErrSessionExpired = errors.New("session expired")
)

// DefaultCookieMaxAge bounds how long the browser keeps the cookie. The
// refresh token inside outlives the access token by far.
const DefaultCookieMaxAge = 7 * 24 * time.Hour

// Session is a signed-in user's tokens plus their profile.
type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresAt    time.Time   `json:"expires_at"`
	User         models.User `json:"user"`
}

// ExpiresWithin reports whether the access token expires within d of now.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !now.Add(d).Before(s.ExpiresAt)
}

// CookieStore keeps the session in an encrypted, HttpOnly cookie.
type CookieStore struct {
	name   string
	secure bool
	maxAge time.Duration
	sealer *crypto.Sealer
}

// NewCookieStore creates a CookieStore whose key is derived from masterKey.
func NewCookieStore(name string, secure bool, masterKey []byte) (*CookieStore, error) {
	sealer, err := crypto.NewSealerFor(masterKey, crypto.PurposeSessionCookie)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "kolibri_session"
	}
	return &CookieStore{name: name, secure: secure, maxAge: DefaultCookieMaxAge, sealer: sealer}, nil
}

// Name returns the cookie name.
func (s *CookieStore) Name() string { return s.name }

// Load reads the session from r. A missing, tampered or undecodable cookie
// is reported as ErrSessionNotFound.
func (s *CookieStore) Load(r *http.Request) (*Session, error) {
	c, err := r.Cookie(s.name)
	if err != nil || c.Value == "" {
		return nil, ErrSessionNotFound
	}
	plain, err := s.sealer.OpenString(c.Value, []byte(s.name))
	if err != nil {
		return nil, ErrSessionNotFound
	}
	var sess Session
	if err := json.Unmarshal(plain, &sess); err != nil || sess.AccessToken == "" {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

// Save writes sess as the session cookie.
func (s *CookieStore) Save(w http.ResponseWriter, sess *Session) error {
	plain, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	value, err := s.sealer.SealString(plain, []byte(s.name))
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.maxAge / time.Second),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie.
func (s *CookieStore) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
