package blog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2beens/blogsrv/internal/apperr"
	"github.com/2beens/blogsrv/internal/user"
)

var _ blogRepo = (*TestRepo)(nil)

// TestRepo keeps blogs in memory and joins authors from a user.TestRepo.
type TestRepo struct {
	mutex sync.Mutex
	users *user.TestRepo
	Posts map[string]*Blog
	// now is advanced on every insert so listing order is deterministic
	now time.Time
}

func NewTestRepo(users *user.TestRepo) *TestRepo {
	return &TestRepo{
		users: users,
		Posts: make(map[string]*Blog),
		now:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (r *TestRepo) Add(ctx context.Context, blog *Blog) error {
	if _, err := r.users.GetByID(ctx, blog.AuthorID); err != nil {
		return apperr.Wrap(apperr.KindUnauthorized, err, "author %s does not exist", blog.AuthorID)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if blog.ID == "" {
		blog.ID = uuid.NewString()
	}
	r.now = r.now.Add(time.Minute)
	blog.CreatedAt = r.now

	stored := *blog
	stored.Tags = append([]string{}, blog.Tags...)
	r.Posts[blog.ID] = &stored
	return nil
}

func (r *TestRepo) Get(ctx context.Context, id string) (*Blog, error) {
	r.mutex.Lock()
	stored, ok := r.Posts[id]
	r.mutex.Unlock()
	if !ok {
		return nil, apperr.NotFound("blog %s not found", id)
	}
	return r.withAuthor(ctx, stored), nil
}

func (r *TestRepo) Update(_ context.Context, blog *Blog) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, ok := r.Posts[blog.ID]
	if !ok {
		return apperr.NotFound("blog %s not found", blog.ID)
	}
	stored.Title = blog.Title
	stored.Summary = blog.Summary
	stored.Body = blog.Body
	stored.Category = blog.Category
	stored.Tags = append([]string{}, blog.Tags...)
	stored.CoverImage = blog.CoverImage
	return nil
}

func (r *TestRepo) Delete(_ context.Context, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.Posts[id]; !ok {
		return apperr.NotFound("blog %s not found", id)
	}
	delete(r.Posts, id)
	return nil
}

func (r *TestRepo) All(ctx context.Context) ([]*Blog, error) {
	return r.filter(ctx, func(*Blog) bool { return true }), nil
}

func (r *TestRepo) ByAuthor(ctx context.Context, authorID string) ([]*Blog, error) {
	return r.filter(ctx, func(b *Blog) bool { return b.AuthorID == authorID }), nil
}

func (r *TestRepo) PostsCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.Posts)
}

func (r *TestRepo) filter(ctx context.Context, keep func(*Blog) bool) []*Blog {
	r.mutex.Lock()
	var matching []*Blog
	for _, b := range r.Posts {
		if keep(b) {
			matching = append(matching, b)
		}
	}
	r.mutex.Unlock()

	blogs := []*Blog{}
	for _, b := range matching {
		blogs = append(blogs, r.withAuthor(ctx, b))
	}
	sort.Slice(blogs, func(i, j int) bool {
		if blogs[i].CreatedAt.Equal(blogs[j].CreatedAt) {
			return blogs[i].ID > blogs[j].ID
		}
		return blogs[i].CreatedAt.After(blogs[j].CreatedAt)
	})
	return blogs
}

func (r *TestRepo) withAuthor(ctx context.Context, stored *Blog) *Blog {
	r.mutex.Lock()
	blog := *stored
	blog.Tags = append([]string{}, stored.Tags...)
	r.mutex.Unlock()

	if author, err := r.users.GetByID(ctx, blog.AuthorID); err == nil {
		blog.Author = author.ToPublic()
	} else {
		blog.Author = user.Public{ID: blog.AuthorID}
	}
	return &blog
}
