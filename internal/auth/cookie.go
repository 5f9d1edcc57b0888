package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/sessions"
)

const (
	TokenHeader    = "X-SESSION-TOKEN"
	cookieName     = "blogsrv_session"
	cookieTokenKey = "token"
)

// CookieCodec carries the session token in a signed, HTTP-only cookie. Its MaxAge equals the
// session TTL and is renewed by re-writing the cookie whenever the session is used.
type CookieCodec struct {
	store *sessions.CookieStore
}

func NewCookieCodec(secret []byte, secure bool, ttl time.Duration) *CookieCodec {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &CookieCodec{
		store: store,
	}
}

func (c *CookieCodec) Write(w http.ResponseWriter, r *http.Request, token string) error {
	// a broken or foreign cookie just gets replaced
	session, _ := c.store.Get(r, cookieName)
	session.Values[cookieTokenKey] = token
	return session.Save(r, w)
}

func (c *CookieCodec) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := c.store.Get(r, cookieName)
	delete(session.Values, cookieTokenKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// TokenFromRequest returns the session token of the request, see ReadToken.
func (c *CookieCodec) TokenFromRequest(r *http.Request) string {
	token, _ := c.ReadToken(r)
	return token
}

// ReadToken prefers an explicit TokenHeader over the cookie, so a request naming a session
// in the header always acts on that session. fromCookie tells whether the cookie was used.
func (c *CookieCodec) ReadToken(r *http.Request) (token string, fromCookie bool) {
	if token := strings.TrimSpace(r.Header.Get(TokenHeader)); token != "" {
		return token, false
	}
	if session, err := c.store.Get(r, cookieName); err == nil {
		if token, ok := session.Values[cookieTokenKey].(string); ok && token != "" {
			return token, true
		}
	}
	return "", false
}
