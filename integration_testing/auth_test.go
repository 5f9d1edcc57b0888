//go:build integration_test

package integration_testing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2beens/blogsrv/internal/profile"
)

func (s *IntegrationTestSuite) TestRegisterDuplicateEmail() {
	ctx := context.Background()

	account := newTestAccount()
	first := s.register(ctx, account)
	assert.Equal(s.T(), account.email, first.User.Email)
	assert.Empty(s.T(), first.User.PasswordHash)

	duplicate := account
	duplicate.email = strings.ToUpper(account.email)
	resp := s.doJSON(ctx, http.MethodPost, "/register", "", map[string]string{
		"email":    duplicate.email,
		"username": "someone-else",
		"password": duplicate.password,
	})
	assert.Equal(s.T(), http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	var users int
	require.NoError(s.T(), s.DB.QueryRowContext(ctx,
		"SELECT count(*) FROM users WHERE lower(email) = $1", account.email,
	).Scan(&users))
	assert.Equal(s.T(), 1, users)
}

func (s *IntegrationTestSuite) TestRegisterConcurrentSameEmail() {
	ctx := context.Background()
	const attempts = 8

	account := newTestAccount()
	payloads := make([][]byte, attempts)
	for i := range payloads {
		payload, err := json.Marshal(map[string]string{
			"email":    account.email,
			"username": fmt.Sprintf("%s-%d", account.username, i),
			"password": account.password,
		})
		require.NoError(s.T(), err)
		payloads[i] = payload
	}

	// require must not be called off the test goroutine, so results are collected first
	codes := make([]int, attempts)
	errs := make([]error, attempts)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverEndpoint+"/register", bytes.NewReader(payloads[i]))
			if err != nil {
				errs[i] = err
				return
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := s.httpClient.Do(req)
			if err != nil {
				errs[i] = err
				return
			}
			codes[i] = resp.StatusCode
			errs[i] = resp.Body.Close()
		}(i)
	}
	close(start)
	wg.Wait()

	created, conflicts := 0, 0
	for i := 0; i < attempts; i++ {
		require.NoError(s.T(), errs[i])
		switch codes[i] {
		case http.StatusOK:
			created++
		case http.StatusConflict:
			conflicts++
		default:
			s.T().Errorf("register attempt %d: unexpected status %d", i, codes[i])
		}
	}
	assert.Equal(s.T(), 1, created)
	assert.Equal(s.T(), attempts-1, conflicts)

	var users int
	require.NoError(s.T(), s.DB.QueryRowContext(ctx,
		"SELECT count(*) FROM users WHERE lower(email) = $1", account.email,
	).Scan(&users))
	assert.Equal(s.T(), 1, users)
}

func (s *IntegrationTestSuite) TestLoginWrongPassword() {
	ctx := context.Background()

	account := newTestAccount()
	s.register(ctx, account)

	resp := s.doJSON(ctx, http.MethodPost, "/login", "", map[string]string{
		"email":    account.email,
		"password": account.password + "-nope",
	})
	assert.Equal(s.T(), http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func (s *IntegrationTestSuite) TestLogoutTwice() {
	ctx := context.Background()

	account := newTestAccount()
	token := s.register(ctx, account).Token

	resp := s.doJSON(ctx, http.MethodGet, "/logout", token, nil)
	assert.Equal(s.T(), http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.doJSON(ctx, http.MethodGet, "/logout", token, nil)
	assert.Equal(s.T(), http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = s.doJSON(ctx, http.MethodGet, "/blog/my-blogs", token, nil)
	assert.Equal(s.T(), http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func (s *IntegrationTestSuite) TestProfileUpdateAndPasswordChange() {
	ctx := context.Background()

	account := newTestAccount()
	token := s.register(ctx, account).Token

	resp := s.doJSON(ctx, http.MethodPut, "/profile/update", token, map[string]string{
		"username": "renamed-" + account.username,
	})
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var updated profile.UserResponse
	s.decode(resp, &updated)
	assert.Equal(s.T(), "renamed-"+account.username, updated.User.Username)
	assert.Equal(s.T(), account.email, updated.User.Email)

	newPassword := account.password + "-v2"
	resp = s.doJSON(ctx, http.MethodPut, "/user/change-password", token, map[string]string{
		"oldPassword": account.password,
		"newPassword": newPassword,
	})
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.doJSON(ctx, http.MethodPost, "/login", "", map[string]string{
		"email":    account.email,
		"password": account.password,
	})
	assert.Equal(s.T(), http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	account.password = newPassword
	assert.NotEmpty(s.T(), s.login(ctx, account))
}
