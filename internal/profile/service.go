package profile

import (
	"context"
	"fmt"
	"mime/multipart"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2beens/blogsrv/internal/apperr"
	"github.com/2beens/blogsrv/internal/auth"
	"github.com/2beens/blogsrv/internal/telemetry/tracing"
	"github.com/2beens/blogsrv/internal/upload"
	"github.com/2beens/blogsrv/internal/user"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=profile

type userRepo interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
	UpdateProfile(ctx context.Context, u *user.User) error
}

type passwordChanger interface {
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
}

// UpdateParams holds the profile fields a user may change. Empty fields are left unchanged.
type UpdateParams struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type Service struct {
	users     userRepo
	passwords passwordChanger
	uploads   *upload.Validator
}

func NewService(users userRepo, passwords passwordChanger, uploads *upload.Validator) *Service {
	return &Service{
		users:     users,
		passwords: passwords,
		uploads:   uploads,
	}
}

func (s *Service) UpdateProfile(ctx context.Context, identity *auth.Identity, params UpdateParams, form *multipart.Form) (_ *user.User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.profile.update")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	if identity == nil {
		return nil, apperr.ErrUnauthorized
	}
	span.SetAttributes(attribute.String("user.id", identity.User.ID))

	current, err := s.users.GetByID(ctx, identity.User.ID)
	if err != nil {
		return nil, err
	}

	updated := *current
	if username := strings.TrimSpace(params.Username); username != "" {
		updated.Username = username
	}
	if params.Email != "" {
		email := user.NormalizeEmail(params.Email)
		if !user.ValidEmail(email) {
			return nil, apperr.Validation("invalid email address: %s", email)
		}
		updated.Email = email
	}

	picture, err := s.uploads.Accept(ctx, form, upload.ProfilePicturePolicy)
	if err != nil {
		return nil, err
	}
	if picture != nil {
		updated.ProfilePicture = picture.Path
	}

	if err := s.users.UpdateProfile(ctx, &updated); err != nil {
		s.uploads.Discard(ctx, picture)
		return nil, fmt.Errorf("update profile: %w", err)
	}

	log.Debugf("profile of user %s updated", updated.ID)
	updated.PasswordHash = ""
	return &updated, nil
}

func (s *Service) ChangePassword(ctx context.Context, identity *auth.Identity, oldPassword, newPassword string) error {
	if identity == nil {
		return apperr.ErrUnauthorized
	}
	return s.passwords.ChangePassword(ctx, identity.User.ID, oldPassword, newPassword)
}
