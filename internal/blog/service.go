package blog

import (
	"context"
	"fmt"
	"mime/multipart"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2beens/blogsrv/internal/apperr"
	"github.com/2beens/blogsrv/internal/auth"
	"github.com/2beens/blogsrv/internal/telemetry/metrics"
	"github.com/2beens/blogsrv/internal/telemetry/tracing"
	"github.com/2beens/blogsrv/internal/upload"
)

type blogRepo interface {
	Add(ctx context.Context, blog *Blog) error
	Get(ctx context.Context, id string) (*Blog, error)
	Update(ctx context.Context, blog *Blog) error
	Delete(ctx context.Context, id string) error
	All(ctx context.Context) ([]*Blog, error)
	ByAuthor(ctx context.Context, authorID string) ([]*Blog, error)
}

type Service struct {
	repo    blogRepo
	uploads *upload.Validator
	metrics *metrics.Manager
	// when false, any authenticated user may delete any blog
	enforceDeleteOwnership bool
}

func NewService(
	repo blogRepo,
	uploads *upload.Validator,
	metricsManager *metrics.Manager,
	enforceDeleteOwnership bool,
) *Service {
	return &Service{
		repo:                   repo,
		uploads:                uploads,
		metrics:                metricsManager,
		enforceDeleteOwnership: enforceDeleteOwnership,
	}
}

// Create validates the fields, accepts the optional cover image and stores the blog
// with the identity's user as author.
func (s *Service) Create(ctx context.Context, identity *auth.Identity, fields Fields, form *multipart.Form) (_ *Blog, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.blog.create")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()

	if identity == nil {
		return nil, apperr.ErrUnauthorized
	}

	blog := &Blog{
		Title:    fields.Title,
		Summary:  fields.Summary,
		Body:     fields.Body,
		Category: Category(fields.Category),
		Tags:     ParseTags(string(fields.Tags)),
		AuthorID: identity.User.ID,
	}
	blog.normalize()
	if err := blog.Validate(); err != nil {
		return nil, err
	}

	cover, err := s.uploads.Accept(ctx, form, upload.CoverImagePolicy)
	if err != nil {
		return nil, err
	}
	if cover != nil {
		blog.CoverImage = cover.Path
	}

	if err := s.repo.Add(ctx, blog); err != nil {
		s.uploads.Discard(ctx, cover)
		return nil, fmt.Errorf("add blog: %w", err)
	}

	blog.Author = identity.User.ToPublic()
	s.metrics.CounterBlogsCreated.Inc()
	span.SetAttributes(attribute.String("blog.id", blog.ID))

	return blog, nil
}

func (s *Service) ListAll(ctx context.Context) ([]*Blog, error) {
	return s.repo.All(ctx)
}

func (s *Service) ListMine(ctx context.Context, identity *auth.Identity) ([]*Blog, error) {
	if identity == nil {
		return nil, apperr.ErrUnauthorized
	}
	return s.repo.ByAuthor(ctx, identity.User.ID)
}

func (s *Service) Get(ctx context.Context, identity *auth.Identity, id string) (*Blog, error) {
	if identity == nil {
		return nil, apperr.ErrUnauthorized
	}
	return s.repo.Get(ctx, id)
}

// Update applies the non-empty patch fields and the optional new cover image.
// Only the author may update a blog; the check happens before any upload is accepted.
func (s *Service) Update(ctx context.Context, identity *auth.Identity, id string, patch Fields, form *multipart.Form) (_ *Blog, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.blog.update")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()
	span.SetAttributes(attribute.String("blog.id", id))

	if identity == nil {
		return nil, apperr.ErrUnauthorized
	}

	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.AuthorID != identity.User.ID {
		log.Warnf("user %s tried to update blog %s of %s", identity.User.ID, id, existing.AuthorID)
		return nil, apperr.ErrForbidden
	}

	cover, err := s.uploads.Accept(ctx, form, upload.CoverImagePolicy)
	if err != nil {
		return nil, err
	}

	merged := *existing
	if patch.Title != "" {
		merged.Title = patch.Title
	}
	if patch.Summary != "" {
		merged.Summary = patch.Summary
	}
	if patch.Body != "" {
		merged.Body = patch.Body
	}
	if patch.Category != "" {
		merged.Category = Category(patch.Category)
	}
	if patch.Tags != "" {
		merged.Tags = ParseTags(string(patch.Tags))
	}
	if cover != nil {
		merged.CoverImage = cover.Path
	}

	merged.normalize()
	if err := merged.Validate(); err != nil {
		s.uploads.Discard(ctx, cover)
		return nil, err
	}

	if err := s.repo.Update(ctx, &merged); err != nil {
		s.uploads.Discard(ctx, cover)
		return nil, fmt.Errorf("update blog: %w", err)
	}

	return &merged, nil
}

func (s *Service) Delete(ctx context.Context, identity *auth.Identity, id string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.blog.delete")
	defer func() { tracing.EndSpanWithErrCheck(span, err) }()
	span.SetAttributes(attribute.String("blog.id", id))

	if identity == nil {
		return apperr.ErrUnauthorized
	}

	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.enforceDeleteOwnership && existing.AuthorID != identity.User.ID {
		return apperr.ErrForbidden
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete blog: %w", err)
	}

	log.Debugf("blog %s deleted by %s", id, identity.User.ID)
	return nil
}
