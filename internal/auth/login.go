package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/quantbridge/quantbridge/pkg/errors"
)

const (
	loginCookieName = "qb_session"
	loginUserKey    = "user"

	loginMaxAge = 12 * 60 * 60 // seconds; trading days are shorter than this
)

// LoginStore authenticates human operators against a static user table and
// tracks them with a signed session cookie.
type LoginStore struct {
	store *sessions.CookieStore
	users map[string]string // username -> password
}

// NewLoginStore builds a login store. cookieSecret signs the session cookie
// and must stay stable across restarts or every operator gets logged out.
func NewLoginStore(cookieSecret string, users map[string]string) *LoginStore {
	store := sessions.NewCookieStore([]byte(cookieSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   loginMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &LoginStore{
		store: store,
		users: users,
	}
}

// Login checks the credentials and, on success, issues the session cookie.
func (l *LoginStore) Login(w http.ResponseWriter, r *http.Request, username, password string) error {
	expected, ok := l.users[username]
	if !ok || !constantTimeEqual(password, expected) {
		return errors.New(errors.ErrCodeNotLoggedIn, "bad username or password")
	}

	session, _ := l.store.Get(r, loginCookieName)
	session.Values[loginUserKey] = username

	if err := session.Save(r, w); err != nil {
		return errors.Wrap(errors.ErrCodeNotLoggedIn, "session save failed", err)
	}

	return nil
}

// Logout clears the session cookie.
func (l *LoginStore) Logout(w http.ResponseWriter, r *http.Request) {
	session, _ := l.store.Get(r, loginCookieName)
	session.Options.MaxAge = -1
	_ = session.Save(r, w)
}

// CurrentUser returns the logged-in username, or "" when the request carries
// no valid session.
func (l *LoginStore) CurrentUser(r *http.Request) string {
	session, err := l.store.Get(r, loginCookieName)
	if err != nil {
		return ""
	}

	user, _ := session.Values[loginUserKey].(string)

	return user
}

// constantTimeEqual compares two short strings without leaking their common
// prefix length through timing.
func constantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))

	return hmac.Equal(ha[:], hb[:])
}
