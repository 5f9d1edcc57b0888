package user

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2beens/blogsrv/internal/apperr"
)

// TestRepo is an in-memory user store used by unit tests across packages.
type TestRepo struct {
	mutex sync.Mutex
	users map[string]*User
}

func NewTestRepo() *TestRepo {
	return &TestRepo{
		users: make(map[string]*User),
	}
}

func (r *TestRepo) Create(_ context.Context, u *User) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, existing := range r.users {
		if NormalizeEmail(existing.Email) == NormalizeEmail(u.Email) {
			return apperr.New(apperr.KindDuplicateIdentity, "email %s already registered", u.Email)
		}
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now()

	stored := *u
	r.users[u.ID] = &stored
	return nil
}

func (r *TestRepo) GetByID(_ context.Context, id string) (*User, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, apperr.NotFound("user %s not found", id)
	}
	found := *u
	return &found, nil
}

func (r *TestRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, u := range r.users {
		if NormalizeEmail(u.Email) == NormalizeEmail(email) {
			found := *u
			return &found, nil
		}
	}
	return nil, apperr.NotFound("user %s not found", email)
}

func (r *TestRepo) UpdateProfile(_ context.Context, u *User) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, ok := r.users[u.ID]
	if !ok {
		return apperr.NotFound("user %s not found", u.ID)
	}
	for id, other := range r.users {
		if id != u.ID && NormalizeEmail(other.Email) == NormalizeEmail(u.Email) {
			return apperr.New(apperr.KindDuplicateIdentity, "email %s already registered", u.Email)
		}
	}

	stored.Email = u.Email
	stored.Username = u.Username
	stored.ProfilePicture = u.ProfilePicture
	return nil
}

func (r *TestRepo) UpdatePasswordHash(_ context.Context, id, oldHash, newHash string) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, ok := r.users[id]
	if !ok || stored.PasswordHash != oldHash {
		return false, nil
	}
	stored.PasswordHash = newHash
	return true, nil
}

func (r *TestRepo) Count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.users)
}
