package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2beens/blogsrv/internal/apperr"
	"github.com/2beens/blogsrv/internal/telemetry/tracing"
	"github.com/2beens/blogsrv/internal/user"
	"github.com/2beens/blogsrv/pkg"
)

type userRepo interface {
	Create(ctx context.Context, u *user.User) error
	GetByID(ctx context.Context, id string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	UpdatePasswordHash(ctx context.Context, id, oldHash, newHash string) (bool, error)
}

type RegisterParams struct {
	Email          string `json:"email"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	ProfilePicture string `json:"-"`
}

// Normalize trims the fields, lower-cases the email and checks that everything required is there.
func (p *RegisterParams) Normalize() error {
	p.Email = user.NormalizeEmail(p.Email)
	p.Username = strings.TrimSpace(p.Username)

	if p.Username == "" || p.Email == "" || p.Password == "" {
		return apperr.Validation("username, email and password are required")
	}
	if !user.ValidEmail(p.Email) {
		return apperr.Validation("invalid email address: %s", p.Email)
	}
	return nil
}

type Service struct {
	users    userRepo
	sessions *SessionStore
	hashCost int
	// compared against when the login email is unknown, so both failure paths cost the same
	dummyHash string
	// ability to inject user id generator func (for unit and dev testing)
	NewIDFunc func() string
}

func NewService(users userRepo, sessions *SessionStore, hashCost int) (*Service, error) {
	if hashCost == 0 {
		hashCost = pkg.DefaultPasswordHashCost
	}

	dummyHash, err := pkg.HashPassword("blogsrv-dummy-password", hashCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}

	return &Service{
		users:     users,
		sessions:  sessions,
		hashCost:  hashCost,
		dummyHash: dummyHash,
		NewIDFunc: uuid.NewString,
	}, nil
}

func (s *Service) Register(ctx context.Context, params RegisterParams) (_ *user.User, _ string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.auth.register")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	if err := params.Normalize(); err != nil {
		return nil, "", err
	}

	passwordHash, err := pkg.HashPassword(params.Password, s.hashCost)
	if err != nil {
		return nil, "", apperr.Store(err, "hash password")
	}

	newUser := &user.User{
		ID:             s.NewIDFunc(),
		Email:          params.Email,
		Username:       params.Username,
		PasswordHash:   passwordHash,
		ProfilePicture: params.ProfilePicture,
	}
	if err := s.users.Create(ctx, newUser); err != nil {
		return nil, "", fmt.Errorf("create user: %w", err)
	}
	span.SetAttributes(attribute.String("user.id", newUser.ID))

	token, err := s.sessions.Create(ctx, newUser.ID)
	if err != nil {
		return nil, "", apperr.Store(err, "create session")
	}

	log.Debugf("user registered: %s [%s]", newUser.ID, newUser.Username)
	return newUser, token, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (_ *user.User, _ string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.auth.login")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	email = user.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, "", apperr.Validation("email and password are required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			pkg.CheckPasswordHash(password, s.dummyHash)
			return nil, "", apperr.ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("get user: %w", err)
	}

	if !pkg.CheckPasswordHash(password, u.PasswordHash) {
		return nil, "", apperr.ErrInvalidCredentials
	}

	token, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		return nil, "", apperr.Store(err, "create session")
	}

	span.SetAttributes(attribute.String("user.id", u.ID))
	return u, token, nil
}

func (s *Service) Logout(ctx context.Context, token string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.auth.logout")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	if token == "" {
		return apperr.ErrNoActiveSession
	}

	deleted, err := s.sessions.Delete(ctx, token)
	if err != nil {
		return apperr.Store(err, "delete session")
	}
	if !deleted {
		return apperr.ErrNoActiveSession
	}

	return nil
}

// Resolve returns the user owning the session token, nil if the token does not
// belong to a live session of an existing user.
func (s *Service) Resolve(ctx context.Context, token string) (*user.User, error) {
	if token == "" {
		return nil, nil
	}

	userID, err := s.sessions.UserID(ctx, token)
	if err != nil {
		return nil, apperr.Store(err, "resolve session")
	}
	if userID == "" {
		return nil, nil
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session user: %w", err)
	}

	return u, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.auth.changePassword")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()
	span.SetAttributes(attribute.String("user.id", userID))

	if oldPassword == "" || newPassword == "" {
		return apperr.Validation("old and new password are required")
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	if !pkg.CheckPasswordHash(oldPassword, u.PasswordHash) {
		return apperr.New(apperr.KindInvalidCredentials, "old password is incorrect")
	}

	newHash, err := pkg.HashPassword(newPassword, s.hashCost)
	if err != nil {
		return apperr.Store(err, "hash password")
	}

	swapped, err := s.users.UpdatePasswordHash(ctx, u.ID, u.PasswordHash, newHash)
	if err != nil {
		return apperr.Store(err, "update password")
	}
	if !swapped {
		// the password was changed by a concurrent request in the meantime
		return apperr.New(apperr.KindInvalidCredentials, "old password is incorrect")
	}

	log.Debugf("password changed for user %s", u.ID)
	return nil
}
