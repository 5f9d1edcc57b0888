package middleware

import (
	"context"
	"net/http"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/2beens/blogsrv/internal/auth"
	"github.com/2beens/blogsrv/internal/telemetry/tracing"
	"github.com/2beens/blogsrv/internal/user"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=middleware_test

type identityResolver interface {
	Resolve(ctx context.Context, token string) (*user.User, error)
}

type IdentityMiddlewareHandler struct {
	resolver identityResolver
	cookies  *auth.CookieCodec
}

func NewIdentityMiddlewareHandler(resolver identityResolver, cookies *auth.CookieCodec) *IdentityMiddlewareHandler {
	return &IdentityMiddlewareHandler{
		resolver: resolver,
		cookies:  cookies,
	}
}

// ResolveIdentity attaches the session's user to the request context when the request
// carries a live session token. It never rejects a request; handlers decide whether
// an identity is required.
func (h *IdentityMiddlewareHandler) ResolveIdentity() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, fromCookie := h.cookies.ReadToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.identity")
			u, err := h.resolver.Resolve(ctx, token)
			switch {
			case err != nil:
				log.Errorf("[identity middleware] resolve session => %s: %s", r.URL.Path, err)
				span.SetStatus(codes.Error, "resolve-failed")
				span.RecordError(err)
			case u == nil:
				log.Tracef("[identity middleware] unknown or expired token => %s", r.URL.Path)
				span.SetStatus(codes.Ok, "anonymous")
			default:
				span.SetAttributes(attribute.String("user.id", u.ID))
				span.SetStatus(codes.Ok, "ok")
				r = r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{
					User:  u,
					Token: token,
				}))
				// resolving slid the session TTL, the cookie follows
				if fromCookie {
					if err := h.cookies.Write(w, r, token); err != nil {
						log.Warnf("[identity middleware] refresh session cookie: %s", err)
					}
				}
			}
			span.End()

			next.ServeHTTP(w, r)
		})
	}
}
