package blog

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

// manual caching of blog posts not needed (at least for this use case):
// https://github.com/jackc/pgx/wiki/Automatic-Prepared-Statement-Caching

const selectBlogs = `
	SELECT
		b.id::text, b.title, b.summary, b.body, b.category, b.tags, b.cover_image,
		b.author_id::text, b.created_at,
		u.username, u.email, u.profile_picture
	FROM blogs b
	JOIN users u ON u.id = b.author_id`

const blogsOrder = ` ORDER BY b.created_at DESC, b.id DESC`

var _ blogRepo = (*Repo)(nil)

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) Add(ctx context.Context, blog *Blog) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.add")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	if blog.ID == "" {
		blog.ID = uuid.NewString()
	}

	if err := r.db.QueryRow(
		ctx,
		`INSERT INTO blogs (id, title, summary, body, category, tags, cover_image, author_id)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8::uuid)
		RETURNING created_at;`,
		blog.ID, blog.Title, blog.Summary, blog.Body, string(blog.Category), blog.Tags, blog.CoverImage, blog.AuthorID,
	).Scan(&blog.CreatedAt); err != nil {
		if pkg.IsForeignKeyViolationError(err) {
			return apperr.Wrap(apperr.KindUnauthorized, err, "author %s does not exist", blog.AuthorID)
		}
		return fmt.Errorf("insert blog: %w", err)
	}

	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (_ *Blog, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.get")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()
	span.SetAttributes(attribute.String("blog.id", id))

	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.NotFound("blog %s not found", id)
	}

	blog, err := scanBlog(r.db.QueryRow(ctx, selectBlogs+` WHERE b.id = $1::uuid;`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("blog %s not found", id)
		}
		return nil, fmt.Errorf("get blog: %w", err)
	}

	return blog, nil
}

// Update stores all mutable fields of the blog; author and created_at never change.
func (r *Repo) Update(ctx context.Context, blog *Blog) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.update")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()
	span.SetAttributes(attribute.String("blog.id", blog.ID))

	tag, err := r.db.Exec(
		ctx,
		`UPDATE blogs
		SET title = $1, summary = $2, body = $3, category = $4, tags = $5, cover_image = $6
		WHERE id = $7::uuid;`,
		blog.Title, blog.Summary, blog.Body, string(blog.Category), blog.Tags, blog.CoverImage, blog.ID,
	)
	if err != nil {
		return fmt.Errorf("update blog: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("blog %s not found", blog.ID)
	}

	return nil
}

func (r *Repo) Delete(ctx context.Context, id string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.delete")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()
	span.SetAttributes(attribute.String("blog.id", id))

	if _, err := uuid.Parse(id); err != nil {
		return apperr.NotFound("blog %s not found", id)
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM blogs WHERE id = $1::uuid;`, id)
	if err != nil {
		return fmt.Errorf("delete blog: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("blog %s not found", id)
	}

	return nil
}

func (r *Repo) All(ctx context.Context) (_ []*Blog, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.all")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	return r.list(ctx, selectBlogs+blogsOrder+`;`)
}

func (r *Repo) ByAuthor(ctx context.Context, authorID string) (_ []*Blog, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.blog.byAuthor")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()
	span.SetAttributes(attribute.String("author.id", authorID))

	if _, err := uuid.Parse(authorID); err != nil {
		return []*Blog{}, nil
	}

	return r.list(ctx, selectBlogs+` WHERE b.author_id = $1::uuid`+blogsOrder+`;`, authorID)
}

func (r *Repo) list(ctx context.Context, query string, args ...any) ([]*Blog, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query blogs: %w", err)
	}
	defer rows.Close()

	blogs := []*Blog{}
	for rows.Next() {
		blog, err := scanBlog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan blog: %w", err)
		}
		blogs = append(blogs, blog)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read blogs: %w", err)
	}

	return blogs, nil
}

func scanBlog(row pgx.Row) (*Blog, error) {
	var (
		blog     Blog
		category string
	)
	if err := row.Scan(
		&blog.ID, &blog.Title, &blog.Summary, &blog.Body, &category, &blog.Tags, &blog.CoverImage,
		&blog.AuthorID, &blog.CreatedAt,
		&blog.Author.Username, &blog.Author.Email, &blog.Author.ProfilePicture,
	); err != nil {
		return nil, err
	}

	blog.Category = Category(category)
	blog.Author.ID = blog.AuthorID
	if blog.Tags == nil {
		blog.Tags = []string{}
	}
	return &blog, nil
}
