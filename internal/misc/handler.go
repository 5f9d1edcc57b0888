package misc

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"

	"github.com/2beens/blogsrv/internal/telemetry/tracing"
	"github.com/2beens/blogsrv/pkg"
)

// Pinger is a dependency whose liveness is reported by /health, e.g. the db pool or redis.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type Handler struct {
	versionInfo  string
	dependencies map[string]Pinger
}

func NewHandler(versionInfo string, dependencies map[string]Pinger) *Handler {
	return &Handler{
		versionInfo:  versionInfo,
		dependencies: dependencies,
	}
}

func (handler *Handler) SetupRoutes(mainRouter *mux.Router) {
	mainRouter.HandleFunc("/", handler.handleRoot).Methods("GET", "POST", "OPTIONS").Name("root")
	mainRouter.HandleFunc("/version", handler.handleGetVersionInfo).Methods("GET").Name("version")
	mainRouter.HandleFunc("/health", handler.handleHealth).Methods("GET").Name("health")
}

func (handler *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, "I'm OK, thanks ;)")
}

func (handler *Handler) handleGetVersionInfo(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, handler.versionInfo)
}

func (handler *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "miscHandler.health")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	status := http.StatusOK
	report := make(map[string]string, len(handler.dependencies))
	for name, dep := range handler.dependencies {
		if err := dep.Ping(ctx); err != nil {
			log.Errorf("health check, %s: %s", name, err)
			report[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		report[name] = "ok"
	}

	if status != http.StatusOK {
		span.SetStatus(codes.Error, "unhealthy")
	}
	pkg.WriteJSON(w, status, report)
}
