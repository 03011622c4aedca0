// Package server provides the HTTP server for the partition control
// plane: the REST API operators and host agents use to install
// schedules, register partitions and hosts, and manage domain health,
// wrapped around one embedded dispatcher instance.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/arinc653/partitiond/internal/config"
	"github.com/arinc653/partitiond/internal/domain"
	"github.com/arinc653/partitiond/internal/ha"
	"github.com/arinc653/partitiond/internal/partition"
	"github.com/arinc653/partitiond/internal/partition/hostops"
	"github.com/arinc653/partitiond/internal/repository/etcd"
	"github.com/arinc653/partitiond/internal/repository/postgres"
	"github.com/arinc653/partitiond/internal/repository/redis"
	"github.com/arinc653/partitiond/internal/server/middleware"
	"github.com/arinc653/partitiond/internal/services/alert"
	"github.com/arinc653/partitiond/internal/services/auth"
	partitionsvc "github.com/arinc653/partitiond/internal/services/partition"
)

// Server is the control-plane HTTP server. It always embeds a live
// dispatcher Instance (there is no mode where schedule install/read or
// domain params are unavailable); PostgreSQL, Redis and etcd are
// optional infrastructure that gate only the features built on top of
// persistence — partition/host registration, auth, alerting and the
// multi-replica leader gate.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux

	// Infrastructure, all optional.
	db    *postgres.DB
	cache *redis.Cache
	etcd  *etcd.Client

	// The dispatcher this process embeds as its own reference host.
	instance *partition.Instance
	simHost  *hostops.SimHost

	// Repositories, nil when db is nil.
	partitionRepo *postgres.PartitionRepository
	hostRepo      *postgres.HostRepository
	userRepo      *postgres.UserRepository
	alertRepo     *postgres.AlertRepository
	auditRepo     *postgres.AuditRepository

	// Services, nil when their repository dependencies are unavailable.
	jwtManager       *auth.JWTManager
	authService      *auth.Service
	alertService     *alert.Service
	partitionService *partitionsvc.Service
	haManager        *ha.Manager

	leader *etcd.Leader
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPostgreSQL enables PostgreSQL-backed persistence: partition and
// host registration, operator accounts, alerts and the audit trail.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) { s.db = db }
}

// WithRedis enables Redis-backed session storage, schedule snapshot
// caching and pub/sub event publishing.
func WithRedis(cache *redis.Cache) ServerOption {
	return func(s *Server) { s.cache = cache }
}

// WithEtcd enables etcd-backed leader election: only the elected
// leader runs the domain health monitor and accepts mutating requests.
func WithEtcd(client *etcd.Client) ServerOption {
	return func(s *Server) { s.etcd = client }
}

// New creates a new server instance.
func New(cfg *config.Config, logger *zap.Logger, opts ...ServerOption) *Server {
	mux := http.NewServeMux()

	s := &Server{
		config: cfg,
		logger: logger,
		mux:    mux,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.initInstance()
	s.initRepositories()
	s.initServices()
	s.registerRoutes()

	handler := s.setupMiddleware(mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// initInstance brings up the dispatcher this process embeds as its own
// reference host, per Config.Partition, and initializes domain 0 so
// there is always at least one registerable domain on a fresh host.
func (s *Server) initInstance() {
	pcfg := partition.DefaultConfig()
	if s.config.Partition.MaxEntries > 0 {
		pcfg.MaxEntries = s.config.Partition.MaxEntries
	}
	if s.config.Partition.MaxProviders > 0 {
		pcfg.MaxProviders = s.config.Partition.MaxProviders
	}
	pcfg.EnableDom0AutoExtend = s.config.Partition.EnableDom0AutoExtend

	s.simHost = hostops.NewSimHost(time.Now().UnixNano())
	s.instance = partition.New(pcfg, s.simHost)

	if err := s.instance.InitDomain(0); err != nil {
		s.logger.Warn("failed to init domain 0", zap.Error(err))
	}

	s.logger.Info("dispatcher instance initialized",
		zap.Int("max_entries", pcfg.MaxEntries),
		zap.Int("max_providers", pcfg.MaxProviders),
		zap.Bool("dom0_auto_extend", pcfg.EnableDom0AutoExtend),
	)
}

// initRepositories constructs PostgreSQL repositories when a database
// is configured. Without one, every feature built on durable storage
// is simply absent — this server does not fall back to fabricated
// in-memory repositories for them.
func (s *Server) initRepositories() {
	if s.db == nil {
		s.logger.Warn("no PostgreSQL connection configured; partition/host registration, auth and alerting are disabled")
		return
	}

	s.partitionRepo = postgres.NewPartitionRepository(s.db, s.logger)
	s.hostRepo = postgres.NewHostRepository(s.db, s.logger)
	s.userRepo = postgres.NewUserRepository(s.db, s.logger)
	s.alertRepo = postgres.NewAlertRepository(s.db, s.logger)
	s.auditRepo = postgres.NewAuditRepository(s.db, s.logger)
}

// initServices wires the services above the repository layer. Each
// one independently requires only its own repository dependency, so
// e.g. auth can come up even if alerting's repository failed to.
func (s *Server) initServices() {
	var leaderChecker ha.LeaderChecker
	if s.etcd != nil {
		leaderChecker = leaderCheckerFunc(func() bool {
			return s.leader != nil && s.leader.IsLeader()
		})
	}

	if s.alertRepo != nil {
		var publisher alert.EventPublisher
		if s.cache != nil {
			publisher = &alertEventPublisher{cache: s.cache}
		}
		s.alertService = alert.NewService(s.alertRepo, publisher, s.logger)
	}

	s.jwtManager = auth.NewJWTManager(s.config.Auth)
	if s.userRepo != nil && s.auditRepo != nil {
		var sessionStore auth.SessionStore
		if s.cache != nil {
			sessionStore = s.cache
		}
		s.authService = auth.NewService(s.userRepo, s.auditRepo, sessionStore, s.jwtManager, s.logger)
	}

	var haAlerts ha.AlertService
	if s.alertService != nil {
		haAlerts = s.alertService
	}
	var haEvents ha.EventPublisher
	if s.cache != nil {
		haEvents = &haEventPublisher{cache: s.cache}
	}
	s.haManager = ha.NewManager(s.config.HA, s.instance, haAlerts, haEvents, leaderChecker, s.logger)

	if s.partitionRepo != nil {
		var events partitionsvc.EventPublisher
		if s.cache != nil {
			events = s.cache
		}
		s.partitionService = partitionsvc.NewService(s.instance, s.partitionRepo, s.haManager, events, s.logger)
	}

	s.logger.Info("services initialized",
		zap.Bool("auth", s.authService != nil),
		zap.Bool("alert", s.alertService != nil),
		zap.Bool("partition_registration", s.partitionService != nil),
	)
}

// leaderCheckerFunc adapts a bare func to ha.LeaderChecker.
type leaderCheckerFunc func() bool

func (f leaderCheckerFunc) IsLeader() bool { return f() }

// alertEventPublisher adapts redis.Cache's pub/sub to alert.EventPublisher.
type alertEventPublisher struct {
	cache *redis.Cache
}

func (p *alertEventPublisher) PublishAlert(ctx context.Context, eventType string, a *domain.Alert) error {
	return p.cache.Publish(ctx, "alerts", redis.Event{
		Type:       eventType,
		ResourceID: a.ID,
		Data:       a,
	})
}

// haEventPublisher adapts redis.Cache's pub/sub to ha.EventPublisher.
type haEventPublisher struct {
	cache *redis.Cache
}

func (p *haEventPublisher) PublishHealthEvent(ctx context.Context, domainID int32, healthy bool) error {
	return p.cache.Publish(ctx, "events:schedule", redis.Event{
		Type:       "domain.health_changed",
		ResourceID: fmt.Sprintf("%d", domainID),
		Data:       map[string]bool{"healthy": healthy},
	})
}

// registerRoutes wires every REST handler onto the mux.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/healthz", s.healthHandler)
	s.mux.HandleFunc("/readyz", s.readyHandler)
	s.mux.HandleFunc("/api/v1/info", s.infoHandler)

	s.mux.Handle("/api/v1/schedule", NewScheduleRestHandler(s))
	s.mux.Handle("/api/v1/domains/", NewDomainRestHandler(s))
	s.mux.Handle("/api/v1/partitions", NewPartitionRestHandler(s))
	s.mux.Handle("/api/v1/partitions/", NewPartitionRestHandler(s))
	s.mux.Handle("/api/v1/hosts", NewHostRestHandler(s))
	s.mux.Handle("/api/v1/hosts/", NewHostRestHandler(s))
	s.mux.Handle("/api/v1/auth/", NewAuthRestHandler(s))
	s.mux.Handle("/api/v1/alerts", NewAlertRestHandler(s))
	s.mux.Handle("/api/v1/alerts/", NewAlertRestHandler(s))

	s.logger.Info("all routes registered")
}

// setupMiddleware builds the handler chain: CORS and structured
// logging and panic recovery wrap every request; auth wraps everything
// but the public paths, and the leader-write-gate rejects every
// mutating request on a non-leader replica, public paths included.
func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	if s.authService != nil {
		handler = middleware.Auth(s.authService, s.logger)(handler)
	}

	if s.etcd != nil {
		handler = middleware.LeaderGate(leaderCheckerFunc(func() bool {
			return s.leader != nil && s.leader.IsLeader()
		}), s.logger)(handler)
	}

	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400,
	})
	handler = corsHandler.Handler(handler)

	return handler
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			return
		}

		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware recovers from panics raised by handlers. Note
// this does NOT shield DoSchedule's own invariant panics: those are
// never reachable from an HTTP handler, since this server only
// exposes the control-plane operations, not the dispatch call itself.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", zap.Any("error", err), zap.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"healthy","service":"partitiond"}`)
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready := true
	details := map[string]string{}

	if s.db != nil {
		if err := s.db.Health(ctx); err != nil {
			ready = false
			details["postgres"] = "unhealthy"
		} else {
			details["postgres"] = "healthy"
		}
	}
	if s.cache != nil {
		if err := s.cache.Health(ctx); err != nil {
			ready = false
			details["redis"] = "unhealthy"
		} else {
			details["redis"] = "healthy"
		}
	}
	if s.etcd != nil {
		if err := s.etcd.Health(ctx); err != nil {
			ready = false
			details["etcd"] = "unhealthy"
		} else {
			details["etcd"] = "healthy"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	fmt.Fprintf(w, `{"ready":%t,"components":%s}`, ready, toJSON(details))
}

func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"name": "partitiond control plane",
		"api_version": "v1",
		"description": "ARINC 653-style time-partitioned dispatcher control plane",
		"infrastructure": {
			"postgres": %t,
			"redis": %t,
			"etcd": %t
		}
	}`, s.db != nil, s.cache != nil, s.etcd != nil)
}

// Instance returns the embedded dispatcher.
func (s *Server) Instance() *partition.Instance { return s.instance }

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting server", zap.String("address", s.config.Server.Address()))

	if s.etcd != nil {
		leader, err := s.etcd.CampaignForLeader(ctx, "partitiond-controlplane", func(isLeader bool) {
			if isLeader {
				s.logger.Info("this replica is now the leader")
			} else {
				s.logger.Info("this replica is now a follower")
			}
		})
		if err != nil {
			s.logger.Warn("failed to start leader election", zap.Error(err))
		} else {
			s.leader = leader
		}
	}

	go s.haManager.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down server...")

	if s.leader != nil {
		if err := s.leader.Resign(shutdownCtx); err != nil {
			s.logger.Warn("failed to resign leadership", zap.Error(err))
		}
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown error: %w", err)
	}

	s.instance.Close()

	if s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warn("failed to close etcd", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}

	s.logger.Info("server stopped gracefully")
	return nil
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Server.Address()
}

func toJSON(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	result := "{"
	first := true
	for k, v := range m {
		if !first {
			result += ","
		}
		result += fmt.Sprintf(`"%s":"%s"`, k, v)
		first = false
	}
	result += "}"
	return result
}
