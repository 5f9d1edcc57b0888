package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2beens/blogsrv/internal/apperr"
	"github.com/2beens/blogsrv/internal/telemetry/tracing"
	"github.com/2beens/blogsrv/pkg"
)

const userColumns = `id::text, email, username, password_hash, profile_picture, created_at`

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) Create(ctx context.Context, u *User) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.user.create")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}

	if err := r.db.QueryRow(
		ctx,
		`INSERT INTO users (id, email, username, password_hash, profile_picture)
		VALUES ($1::uuid, $2, $3, $4, $5)
		RETURNING created_at;`,
		u.ID, u.Email, u.Username, u.PasswordHash, u.ProfilePicture,
	).Scan(&u.CreatedAt); err != nil {
		if pkg.IsUniqueViolationError(err) {
			return apperr.Wrap(apperr.KindDuplicateIdentity, err, "email %s already registered", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

func (r *Repo) GetByID(ctx context.Context, id string) (_ *User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.user.get")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()
	span.SetAttributes(attribute.String("user.id", id))

	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.NotFound("user %s not found", id)
	}

	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1::uuid;`, id)
}

func (r *Repo) GetByEmail(ctx context.Context, email string) (_ *User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.user.getByEmail")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1);`, email)
}

func (r *Repo) getOne(ctx context.Context, query string, arg string) (*User, error) {
	var u User
	if err := r.db.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.ProfilePicture, &u.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("user %s not found", arg)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// UpdateProfile stores username, email and profile picture of the given user.
func (r *Repo) UpdateProfile(ctx context.Context, u *User) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.user.updateProfile")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()
	span.SetAttributes(attribute.String("user.id", u.ID))

	tag, err := r.db.Exec(
		ctx,
		`UPDATE users SET email = $1, username = $2, profile_picture = $3 WHERE id = $4::uuid;`,
		u.Email, u.Username, u.ProfilePicture, u.ID,
	)
	if err != nil {
		if pkg.IsUniqueViolationError(err) {
			return apperr.Wrap(apperr.KindDuplicateIdentity, err, "email %s already registered", u.Email)
		}
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user %s not found", u.ID)
	}

	return nil
}

// UpdatePasswordHash swaps the hash only if the stored one still equals oldHash.
// Returns false when the swap did not happen.
func (r *Repo) UpdatePasswordHash(ctx context.Context, id, oldHash, newHash string) (_ bool, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.user.updatePassword")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	tag, err := r.db.Exec(
		ctx,
		`UPDATE users SET password_hash = $1 WHERE id = $2::uuid AND password_hash = $3;`,
		newHash, id, oldHash,
	)
	if err != nil {
		return false, fmt.Errorf("update password hash: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
