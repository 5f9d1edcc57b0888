package auth

import (
	"context"

	"github.com/2beens/blogsrv/internal/user"
)

// Identity is the authenticated caller of a single request.
type Identity struct {
	User  *user.User
	Token string
}

type identityCtxKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, identity)
}

// IdentityFromContext returns the identity attached by the identity middleware, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityCtxKey{}).(*Identity)
	if !ok || identity == nil || identity.User == nil {
		return nil, false
	}
	return identity, true
}
