package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCookieSecret = []byte("0123456789abcdef0123456789abcdef")

func TestCookieCodec(t *testing.T) {
	codec := NewCookieCodec(testCookieSecret, false, time.Hour)

	rr := httptest.NewRecorder()
	require.NoError(t, codec.Write(rr, httptest.NewRequest(http.MethodPost, "/login", nil), "token-1"))

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, cookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, 3600, cookies[0].MaxAge)
	assert.NotContains(t, cookies[0].Value, "token-1")

	req := httptest.NewRequest(http.MethodGet, "/blog/my-blogs", nil)
	req.AddCookie(cookies[0])
	assert.Equal(t, "token-1", codec.TokenFromRequest(req))

	// header fallback
	req = httptest.NewRequest(http.MethodGet, "/blog/my-blogs", nil)
	req.Header.Set(TokenHeader, "token-2")
	assert.Equal(t, "token-2", codec.TokenFromRequest(req))

	// an explicit header wins over the cookie
	req = httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(cookies[0])
	req.Header.Set(TokenHeader, "token-2")
	token, fromCookie := codec.ReadToken(req)
	assert.Equal(t, "token-2", token)
	assert.False(t, fromCookie)

	req = httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(cookies[0])
	req.Header.Set(TokenHeader, "   ")
	token, fromCookie = codec.ReadToken(req)
	assert.Equal(t, "token-1", token)
	assert.True(t, fromCookie)

	// tampered cookie is ignored
	req = httptest.NewRequest(http.MethodGet, "/blog/my-blogs", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: cookies[0].Value + "x"})
	assert.Empty(t, codec.TokenFromRequest(req))

	// cookie signed with another secret is ignored
	otherCodec := NewCookieCodec([]byte("another-secret-another-secret-00"), false, time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/blog/my-blogs", nil)
	req.AddCookie(cookies[0])
	assert.Empty(t, otherCodec.TokenFromRequest(req))

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(cookies[0])
	require.NoError(t, codec.Clear(rr, req))
	cleared := rr.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Less(t, cleared[0].MaxAge, 0)
}
