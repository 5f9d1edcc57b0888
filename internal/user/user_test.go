package user

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2beens/blogsrv/internal/apperr"
)

func TestUser_JSONNeverExposesPasswordHash(t *testing.T) {
	u := &User{
		ID:           gofakeit.UUID(),
		Email:        gofakeit.Email(),
		Username:     gofakeit.Username(),
		PasswordHash: "$2a$04$secret-hash-value",
	}

	uJson, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(uJson), "secret-hash-value")
	assert.NotContains(t, string(uJson), "password")

	pub := u.ToPublic()
	assert.Equal(t, u.ID, pub.ID)
	assert.Equal(t, u.Email, pub.Email)
}

func TestNormalizeAndValidEmail(t *testing.T) {
	assert.Equal(t, "ann@example.com", NormalizeEmail("  Ann@Example.COM "))
	assert.True(t, ValidEmail("ann@example.com"))
	assert.False(t, ValidEmail("ann"))
	assert.False(t, ValidEmail(""))
	assert.False(t, ValidEmail("Ann <ann@example.com>"))
}

func TestTestRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewTestRepo()

	u := &User{Email: "ann@example.com", Username: "ann", PasswordHash: "h1"}
	require.NoError(t, repo.Create(ctx, u))
	require.NotEmpty(t, u.ID)

	err := repo.Create(ctx, &User{Email: "ANN@example.com", Username: "ann2", PasswordHash: "h2"})
	assert.True(t, apperr.Is(err, apperr.KindDuplicateIdentity))
	assert.Equal(t, 1, repo.Count())

	found, err := repo.GetByEmail(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	swapped, err := repo.UpdatePasswordHash(ctx, u.ID, "wrong", "h3")
	require.NoError(t, err)
	assert.False(t, swapped)
	swapped, err = repo.UpdatePasswordHash(ctx, u.ID, "h1", "h3")
	require.NoError(t, err)
	assert.True(t, swapped)

	found, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "h3", found.PasswordHash)
}
