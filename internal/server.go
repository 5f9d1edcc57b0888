package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/2beens/blogsrv/internal/apperr"
	"github.com/2beens/blogsrv/internal/auth"
	"github.com/2beens/blogsrv/internal/blog"
	"github.com/2beens/blogsrv/internal/config"
	"github.com/2beens/blogsrv/internal/db"
	"github.com/2beens/blogsrv/internal/middleware"
	"github.com/2beens/blogsrv/internal/misc"
	"github.com/2beens/blogsrv/internal/profile"
	"github.com/2beens/blogsrv/internal/telemetry/metrics"
	"github.com/2beens/blogsrv/internal/telemetry/tracing"
	"github.com/2beens/blogsrv/internal/upload"
	"github.com/2beens/blogsrv/internal/user"
	"github.com/2beens/blogsrv/pkg"
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config      *config.Config
	dbPool      *pgxpool.Pool
	redisClient *redis.Client

	sessions    *auth.SessionStore
	authService *auth.Service
	cookies     *auth.CookieCodec
	userRepo    *user.Repo

	clientIPs   *pkg.ClientIPReader
	uploads     *upload.Validator
	diskStorage *upload.DiskStorage // nil unless the disk backend is used

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	VersionInfo             string
	SessionSecret           []byte
	RedisPassword           string
	PostgresPassword        string
	S3AccessKey             string
	S3SecretKey             string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config
	if len(params.SessionSecret) == 0 {
		return nil, errors.New("session secret not set")
	}

	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:         cfg.PostgresHost,
		DBPort:         cfg.PostgresPort,
		DBName:         cfg.PostgresDBName,
		DBUser:         cfg.PostgresUser,
		DBPassword:     params.PostgresPassword,
		TracingEnabled: params.HoneycombTracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("new db pool: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Warnf("failed to ping db: %s", err)
	}
	if err := db.Migrate(ctx, dbPool); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	pgxpoolCollector := pgxpoolprometheus.NewCollector(
		dbPool,
		map[string]string{"db_name": cfg.PostgresDBName},
	)
	promRegistry := metrics.SetupPrometheus(pgxpoolCollector)
	metricsManager := metrics.NewManager("blogsrv", "main", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password: params.RedisPassword,
		DB:       0, // use default DB
	})

	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		log.Errorf("--> failed to ping redis: %s", err)
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "blogsrv", rdb)
	if err != nil {
		return nil, err
	}

	tracedHttpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	storage, diskStorage, err := newUploadStorage(ctx, cfg, params, tracedHttpClient)
	if err != nil {
		return nil, fmt.Errorf("setup uploads storage: %w", err)
	}

	clientIPs, err := pkg.NewClientIPReader(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	userRepo := user.NewRepo(dbPool)
	sessions := auth.NewSessionStore(cfg.SessionTTL(), rdb)
	authService, err := auth.NewService(userRepo, sessions, cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("new auth service: %w", err)
	}

	s := &Server{
		versionInfo: params.VersionInfo,
		config:      cfg,
		dbPool:      dbPool,
		redisClient: rdb,

		sessions:    sessions,
		authService: authService,
		cookies:     auth.NewCookieCodec(params.SessionSecret, cfg.SessionCookieSecure, cfg.SessionTTL()),
		userRepo:    userRepo,

		clientIPs:   clientIPs,
		uploads:     upload.NewValidator(storage, cfg.UploadMaxSizeBytes, metricsManager),
		diskStorage: diskStorage,

		// telemetry
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}

	go s.cleanSessionsPeriodically(ctx, cfg.SessionsCleanupInterval())

	return s, nil
}

func newUploadStorage(
	ctx context.Context,
	cfg *config.Config,
	params NewServerParams,
	httpClient *http.Client,
) (upload.Storage, *upload.DiskStorage, error) {
	switch cfg.UploadsBackend {
	case "s3":
		s3Storage, err := upload.NewS3Storage(ctx, upload.S3Params{
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			AccessKey:     params.S3AccessKey,
			SecretKey:     params.S3SecretKey,
			BaseEndpoint:  cfg.S3BaseEndpoint,
			PublicBaseURL: cfg.S3PublicBaseURL,
			HTTPClient:    httpClient,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Debugf("uploads stored in s3 bucket: %s", cfg.S3Bucket)
		return s3Storage, nil, nil
	default:
		diskStorage, err := upload.NewDiskStorage(cfg.UploadsRootPath)
		if err != nil {
			return nil, nil, err
		}
		log.Debugf("uploads stored on disk: %s", cfg.UploadsRootPath)
		return diskStorage, diskStorage, nil
	}
}

// cleanSessionsPeriodically drops expired tokens from the sessions set until ctx is done.
func (s *Server) cleanSessionsPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleaned := s.sessions.ScanAndClean(ctx)
			s.metricsManager.CounterSessionsCleaned.Add(float64(cleaned))
		}
	}
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("blogsrv-router"))

	reqRateLimiter := redis_rate.NewLimiter(s.redisClient)
	authHandler := auth.NewHandler(s.authService, s.cookies, s.uploads, s.metricsManager)
	authHandler.SetupRoutes(r, middleware.RateLimit(
		reqRateLimiter,
		s.clientIPs,
		"auth",
		s.config.LoginRateLimitAllowedPerMin,
		s.metricsManager,
	))

	blogService := blog.NewService(
		blog.NewRepo(s.dbPool),
		s.uploads,
		s.metricsManager,
		s.config.EnforceDeleteOwnership,
	)
	blog.NewHandler(blogService, s.uploads).SetupRoutes(r)

	profileService := profile.NewService(s.userRepo, s.authService, s.uploads)
	profile.NewHandler(profileService, s.uploads).SetupRoutes(r)

	miscHandler := misc.NewHandler(s.versionInfo, map[string]misc.Pinger{
		"postgres": s.dbPool,
		"redis": misc.PingFunc(func(ctx context.Context) error {
			return s.redisClient.Ping(ctx).Err()
		}),
	})
	miscHandler.SetupRoutes(r)

	if s.diskStorage != nil {
		r.PathPrefix(upload.DiskURLPrefix).Handler(s.diskStorage.Handler()).Methods("GET").Name("uploads")
	}

	// all the rest - unhandled paths
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apperr.WriteHTTP(w, "not found", apperr.NotFound("no such resource: %s", r.URL.Path))
	})

	identityMiddleware := middleware.NewIdentityMiddlewareHandler(s.authService, s.cookies)

	maxDrainBytes := s.config.UploadMaxSizeBytes
	if maxDrainBytes <= 0 {
		maxDrainBytes = upload.DefaultMaxFileSize
	}

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(identityMiddleware.ResolveIdentity())
	r.Use(middleware.DrainAndCloseRequest(maxDrainBytes))

	return r
}

func (s *Server) Serve(host string, port int) {
	// CORS wraps the whole router, so preflight requests are answered for every route
	handler := middleware.Cors(s.config.AllowedOrigins)(s.routerSetup())

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      handler,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.InstrumentMetricHandler(
		s.promRegistry,
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	// stop taking requests before the dependencies they use go away
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Errorf(" >>> failed to gracefully shutdown http server: %s", err)
		}
		log.Warnln("server shut down")
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Errorf(" >>> failed to gracefully shutdown metrics http server: %s", err)
		}
		log.Warnln("metrics server shut down")
	}

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
