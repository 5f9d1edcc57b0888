package auth

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/2beens/blogsrv/internal/apperr"
	"github.com/2beens/blogsrv/internal/telemetry/metrics"
	"github.com/2beens/blogsrv/internal/telemetry/tracing"
	"github.com/2beens/blogsrv/internal/upload"
	"github.com/2beens/blogsrv/internal/user"
	"github.com/2beens/blogsrv/pkg"
)

type SessionResponse struct {
	Message string     `json:"message"`
	User    *user.User `json:"user"`
	Token   string     `json:"token"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Handler struct {
	service *Service
	cookies *CookieCodec
	uploads *upload.Validator
	metrics *metrics.Manager
}

func NewHandler(
	service *Service,
	cookies *CookieCodec,
	uploads *upload.Validator,
	metricsManager *metrics.Manager,
) *Handler {
	return &Handler{
		service: service,
		cookies: cookies,
		uploads: uploads,
		metrics: metricsManager,
	}
}

// SetupRoutes registers /register, /login and /logout. rateLimit, when set, wraps /register and /login.
func (h *Handler) SetupRoutes(router *mux.Router, rateLimit mux.MiddlewareFunc) {
	limited := func(handlerFunc http.HandlerFunc) http.Handler {
		if rateLimit == nil {
			return handlerFunc
		}
		return rateLimit(handlerFunc)
	}

	router.Handle("/register", limited(h.handleRegister)).Methods("POST", "OPTIONS").Name("register")
	router.Handle("/login", limited(h.handleLogin)).Methods("POST", "OPTIONS").Name("login")
	router.HandleFunc("/logout", h.handleLogout).Methods("GET", "OPTIONS").Name("logout")
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.register")
	defer span.End()

	var params RegisterParams
	if pkg.IsJSONRequest(r) {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			log.Errorf("register, unmarshal json params: %s", err)
			apperr.WriteHTTP(w, "registration failed", apperr.Validation("malformed json body"))
			return
		}
	} else {
		if err := h.uploads.ParseRequest(w, r); err != nil {
			apperr.WriteHTTP(w, "registration failed", err)
			return
		}
		params = RegisterParams{
			Email:    r.FormValue("email"),
			Username: r.FormValue("username"),
			Password: r.FormValue("password"),
		}
	}

	if err := params.Normalize(); err != nil {
		apperr.WriteHTTP(w, "registration failed", err)
		return
	}

	picture, err := h.uploads.Accept(ctx, r.MultipartForm, upload.ProfilePicturePolicy)
	if err != nil {
		apperr.WriteHTTP(w, "registration failed", err)
		return
	}
	if picture != nil {
		params.ProfilePicture = picture.Path
	}

	newUser, token, err := h.service.Register(ctx, params)
	if err != nil {
		h.uploads.Discard(ctx, picture)
		log.Debugf("register [%s] failed: %s", params.Email, err)
		apperr.WriteHTTP(w, "registration failed", err)
		return
	}

	span.SetAttributes(attribute.String("user.id", newUser.ID))
	h.metrics.CounterRegistrations.Inc()

	if err := h.cookies.Write(w, r, token); err != nil {
		log.Errorf("register, write session cookie: %s", err)
	}

	log.Tracef("new user registered: %s", newUser.ID)
	pkg.WriteJSON(w, http.StatusOK, SessionResponse{
		Message: "user registered",
		User:    newUser,
		Token:   token,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.login")
	defer span.End()

	var loginReq loginRequest
	if pkg.IsJSONRequest(r) {
		if err := json.NewDecoder(r.Body).Decode(&loginReq); err != nil {
			log.Errorf("login, unmarshal json params: %s", err)
			apperr.WriteHTTP(w, "login failed", apperr.Validation("malformed json body"))
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			log.Errorf("login failed, parse form error: %s", err)
			apperr.WriteHTTP(w, "login failed", apperr.Validation("malformed form body"))
			return
		}
		loginReq = loginRequest{
			Email:    r.Form.Get("email"),
			Password: r.Form.Get("password"),
		}
	}

	u, token, err := h.service.Login(ctx, loginReq.Email, loginReq.Password)
	if err != nil {
		h.metrics.CounterLogins.WithLabelValues("fail").Inc()
		log.Tracef("failed login attempt for: %s", loginReq.Email)
		apperr.WriteHTTP(w, "login failed", err)
		return
	}

	h.metrics.CounterLogins.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.String("user.id", u.ID))

	if err := h.cookies.Write(w, r, token); err != nil {
		log.Errorf("login, write session cookie: %s", err)
	}

	log.Trace("new login success")
	pkg.WriteJSON(w, http.StatusOK, SessionResponse{
		Message: "logged in",
		User:    u,
		Token:   token,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.logout")
	defer span.End()

	token := h.cookies.TokenFromRequest(r)
	if err := h.service.Logout(ctx, token); err != nil {
		apperr.WriteHTTP(w, "logout failed", err)
		return
	}

	if err := h.cookies.Clear(w, r); err != nil {
		log.Errorf("logout, clear session cookie: %s", err)
	}

	pkg.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}
