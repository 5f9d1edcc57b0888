//go:build integration_test

package integration_testing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2beens/blogsrv/internal/auth"
	"github.com/2beens/blogsrv/internal/blog"
)

type testAccount struct {
	email    string
	username string
	password string
}

func newTestAccount() testAccount {
	return testAccount{
		email:    strings.ToLower(gofakeit.Email()),
		username: gofakeit.Username(),
		password: gofakeit.Password(true, true, true, false, false, 12),
	}
}

func (s *IntegrationTestSuite) doJSON(
	ctx context.Context,
	method, path, token string,
	body any,
) *http.Response {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(s.T(), err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, serverEndpoint+path, reader)
	require.NoError(s.T(), err)
	req.Header.Set("User-Agent", "test-agent")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(auth.TokenHeader, token)
	}

	resp, err := s.httpClient.Do(req)
	require.NoError(s.T(), err)
	return resp
}

func (s *IntegrationTestSuite) decode(resp *http.Response, v any) {
	defer resp.Body.Close()
	require.NoError(s.T(), json.NewDecoder(resp.Body).Decode(v))
}

func (s *IntegrationTestSuite) register(ctx context.Context, account testAccount) auth.SessionResponse {
	resp := s.doJSON(ctx, http.MethodPost, "/register", "", map[string]string{
		"email":    account.email,
		"username": account.username,
		"password": account.password,
	})
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var session auth.SessionResponse
	s.decode(resp, &session)
	require.NotEmpty(s.T(), session.Token)
	return session
}

func (s *IntegrationTestSuite) login(ctx context.Context, account testAccount) string {
	resp := s.doJSON(ctx, http.MethodPost, "/login", "", map[string]string{
		"email":    account.email,
		"password": account.password,
	})
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var session auth.SessionResponse
	s.decode(resp, &session)
	require.NotEmpty(s.T(), session.Token)
	return session.Token
}

func (s *IntegrationTestSuite) TestBlogLifecycle() {
	ctx := context.Background()

	author := newTestAccount()
	s.register(ctx, author)
	authorToken := s.login(ctx, author)

	stranger := newTestAccount()
	strangerToken := s.register(ctx, stranger).Token

	resp := s.doJSON(ctx, http.MethodPost, "/blog/create", authorToken, map[string]any{
		"title":    "Integration testing in Go",
		"summary":  "<i>containers</i> all the way down",
		"body":     "<p>hello</p><script>alert(1)</script>",
		"category": "Technology",
		"tags":     []string{"go", "docker"},
	})
	require.Equal(s.T(), http.StatusCreated, resp.StatusCode)
	var created blog.BlogResponse
	s.decode(resp, &created)
	require.NotNil(s.T(), created.Blog)
	blogID := created.Blog.ID
	assert.Equal(s.T(), "containers all the way down", created.Blog.Summary)
	assert.Equal(s.T(), "<p>hello</p>", created.Blog.Body)
	assert.Equal(s.T(), []string{"go", "docker"}, created.Blog.Tags)
	assert.Equal(s.T(), author.username, created.Blog.Author.Username)

	resp = s.doJSON(ctx, http.MethodGet, "/blog/my-blogs", authorToken, nil)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var mine blog.PostsResponse
	s.decode(resp, &mine)
	require.Equal(s.T(), 1, mine.Total)
	assert.Equal(s.T(), blogID, mine.Blogs[0].ID)

	resp = s.doJSON(ctx, http.MethodGet, "/blog/my-blogs", strangerToken, nil)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var strangers blog.PostsResponse
	s.decode(resp, &strangers)
	assert.Zero(s.T(), strangers.Total)

	resp = s.doJSON(ctx, http.MethodPut, "/blog/"+blogID, strangerToken, map[string]any{
		"title": "Hijacked title",
	})
	assert.Equal(s.T(), http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = s.doJSON(ctx, http.MethodPut, "/blog/"+blogID, authorToken, map[string]any{
		"title": "Integration testing, revisited",
	})
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var updated blog.BlogResponse
	s.decode(resp, &updated)
	assert.Equal(s.T(), "Integration testing, revisited", updated.Blog.Title)
	assert.Equal(s.T(), created.Blog.Summary, updated.Blog.Summary)

	resp = s.doJSON(ctx, http.MethodDelete, "/blog/delete/"+blogID, strangerToken, nil)
	assert.Equal(s.T(), http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = s.doJSON(ctx, http.MethodDelete, "/blog/delete/"+blogID, authorToken, nil)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var deleted map[string]string
	s.decode(resp, &deleted)
	assert.Equal(s.T(), blogID, deleted["id"])

	resp = s.doJSON(ctx, http.MethodGet, "/blog/"+blogID, authorToken, nil)
	assert.Equal(s.T(), http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	var count int
	require.NoError(s.T(), s.DB.QueryRowContext(ctx, "SELECT count(*) FROM blogs WHERE id = $1", blogID).Scan(&count))
	assert.Zero(s.T(), count)
}

func (s *IntegrationTestSuite) TestBlogRequiresSession() {
	ctx := context.Background()

	resp := s.doJSON(ctx, http.MethodPost, "/blog/create", "", map[string]any{
		"title":    "Anonymous attempt",
		"body":     "body",
		"category": "Health",
	})
	assert.Equal(s.T(), http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = s.doJSON(ctx, http.MethodGet, "/blog/my-blogs", "", nil)
	assert.Equal(s.T(), http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = s.doJSON(ctx, http.MethodGet, fmt.Sprintf("/blog/%s", gofakeit.UUID()), "", nil)
	assert.Equal(s.T(), http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
