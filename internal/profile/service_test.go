package profile

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/2beens/blogsrv/internal/apperr"
	"github.com/2beens/blogsrv/internal/auth"
	"github.com/2beens/blogsrv/internal/telemetry/metrics"
	"github.com/2beens/blogsrv/internal/upload"
	"github.com/2beens/blogsrv/internal/user"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestValidator(t *testing.T) (*upload.Validator, string) {
	t.Helper()
	root := t.TempDir()
	storage, err := upload.NewDiskStorage(root)
	require.NoError(t, err)
	return upload.NewValidator(storage, upload.DefaultMaxFileSize, metrics.NewTestManager()), root
}

func storedPictures(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, "users"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func pictureForm(t *testing.T) *multipart.Form {
	t.Helper()
	body, contentType, err := upload.NewTestMultipartBody(nil, testPicture)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, "/", body)
	req.Header.Set("Content-Type", contentType)
	require.NoError(t, req.ParseMultipartForm(upload.DefaultMaxFileSize))
	t.Cleanup(func() { _ = req.MultipartForm.RemoveAll() })
	return req.MultipartForm
}

var testPicture = upload.TestFile{
	Field:       "profilePicture",
	Filename:    "avatar.gif",
	ContentType: "image/gif",
	Content:     upload.TestGIFContent,
}

func TestService_UpdateProfile(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := NewMockuserRepo(ctrl)
	uploads, root := newTestValidator(t)
	service := NewService(users, NewMockpasswordChanger(ctrl), uploads)

	identity := &auth.Identity{User: &user.User{ID: "ann"}}
	users.EXPECT().GetByID(gomock.Any(), "ann").Return(&user.User{
		ID:           "ann",
		Email:        "ann@example.com",
		Username:     "ann",
		PasswordHash: "hash",
	}, nil)
	users.EXPECT().UpdateProfile(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u *user.User) error {
		assert.Equal(t, "ann.new@example.com", u.Email)
		assert.Equal(t, "ann", u.Username)
		assert.Contains(t, u.ProfilePicture, "/uploads/users/")
		return nil
	})

	updated, err := service.UpdateProfile(context.Background(), identity, UpdateParams{Email: " Ann.New@Example.com "}, pictureForm(t))
	require.NoError(t, err)
	assert.Equal(t, "ann.new@example.com", updated.Email)
	assert.Empty(t, updated.PasswordHash)
	assert.Len(t, storedPictures(t, root), 1)
}

func TestService_UpdateProfile_Failures(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := NewMockuserRepo(ctrl)
	uploads, root := newTestValidator(t)
	service := NewService(users, NewMockpasswordChanger(ctrl), uploads)
	ctx := context.Background()

	identity := &auth.Identity{User: &user.User{ID: "ann"}}
	current := &user.User{ID: "ann", Email: "ann@example.com", Username: "ann"}

	_, err := service.UpdateProfile(ctx, nil, UpdateParams{Username: "x"}, nil)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	users.EXPECT().GetByID(gomock.Any(), "ann").Return(current, nil)
	_, err = service.UpdateProfile(ctx, identity, UpdateParams{Email: "not-an-email"}, pictureForm(t))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	users.EXPECT().GetByID(gomock.Any(), "ann").Return(current, nil)
	users.EXPECT().UpdateProfile(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))
	_, err = service.UpdateProfile(ctx, identity, UpdateParams{Username: "annie"}, pictureForm(t))
	require.Error(t, err)
	assert.Equal(t, apperr.KindStore, apperr.KindOf(err))

	users.EXPECT().GetByID(gomock.Any(), "ann").Return(nil, apperr.NotFound("user ann not found"))
	_, err = service.UpdateProfile(ctx, identity, UpdateParams{Username: "annie"}, nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	// the accepted picture of the failed write is discarded
	assert.Empty(t, storedPictures(t, root))
}

func TestService_ChangePassword(t *testing.T) {
	ctrl := gomock.NewController(t)
	passwords := NewMockpasswordChanger(ctrl)
	uploads, _ := newTestValidator(t)
	service := NewService(NewMockuserRepo(ctrl), passwords, uploads)
	ctx := context.Background()

	assert.True(t, apperr.Is(service.ChangePassword(ctx, nil, "old", "new"), apperr.KindUnauthorized))

	passwords.EXPECT().ChangePassword(gomock.Any(), "ann", "old", "new").Return(nil)
	assert.NoError(t, service.ChangePassword(ctx, &auth.Identity{User: &user.User{ID: "ann"}}, "old", "new"))
}
