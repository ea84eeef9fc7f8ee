// Package web implements the HTTP API for the wirecutter job queue
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/wirecutter/app/queue"
	"github.com/umputun/wirecutter/app/users"
)

// Server represents the web server
type Server struct {
	queue     JobQueue
	auth      Authenticator // nil disables authentication
	health    func(ctx context.Context) error
	version   string
	writeRate float64 // max mutating requests per second per client, 0 disables
}

// JobQueue defines job, rank and status operations, implemented by queue.Service
type JobQueue interface {
	List(ctx context.Context) ([]queue.Job, error)
	Get(ctx context.Context, jobID string) (queue.Job, error)
	Create(ctx context.Context, fields queue.JobFields) (queue.Job, error)
	Update(ctx context.Context, jobID string, upd queue.JobUpdate) (queue.Job, error)
	Delete(ctx context.Context, jobID string) error
	Rerank(ctx context.Context, entries []queue.RankEntry) error
	Push(ctx context.Context, entries []queue.StatusEntry) (queue.Snapshot, error)
	Latest(ctx context.Context) (queue.Snapshot, error)
}

// Authenticator checks user credentials, implemented by users.Store
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (users.Credential, error)
}

// Config holds server configuration
type Config struct {
	Queue          JobQueue
	Auth           Authenticator                   // optional, enables basic auth on mutating endpoints
	Health         func(ctx context.Context) error // optional, checks storage for /api/v1/health
	Version        string
	WriteRateLimit float64 // max mutating requests per second per client, 0 disables
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("web server initialization failed: Queue is required")
	}
	health := cfg.Health
	if health == nil {
		health = func(context.Context) error { return nil }
	}
	return &Server{
		queue:     cfg.Queue,
		auth:      cfg.Auth,
		health:    health,
		version:   cfg.Version,
		writeRate: cfg.WriteRateLimit,
	}, nil
}

// Run starts the web server and blocks until ctx is canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("wirecutter", "umputun", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(1024*1024),
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	if s.auth != nil {
		log.Printf("[INFO] authentication enabled for mutating endpoints")
	}
	write := s.writeMiddlewares()
	admin := append(s.writeMiddlewares(), s.requireRole(users.RoleAdmin))

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)

		api.HandleFunc("GET /health", s.handleHealth)
		api.HandleFunc("GET /system", s.handleSystem)
		api.HandleFunc("GET /schema/{name}", s.handleSchema)

		api.HandleFunc("GET /mcp101", s.handleListJobs)
		api.HandleFunc("GET /mcp101/status/last", s.handleLatestStatus)
		api.HandleFunc("GET /mcp101/{id}", s.handleGetJob)

		api.With(write...).HandleFunc("POST /mcp101", s.handleCreateJob)
		api.With(write...).HandleFunc("PUT /mcp101/{id}", s.handleUpdateJob)
		api.With(write...).HandleFunc("DELETE /mcp101/{id}", s.handleDeleteJob)
		api.With(write...).HandleFunc("POST /mcp101/status", s.handlePushStatus)
		api.With(admin...).HandleFunc("POST /mcp101/rank", s.handleRerank)
	})

	return router
}

// writeMiddlewares returns rate limiting and auth for mutating endpoints
func (s *Server) writeMiddlewares() []func(http.Handler) http.Handler {
	res := []func(http.Handler) http.Handler{}
	if s.writeRate > 0 {
		lmt := tollbooth.NewLimiter(s.writeRate, nil)
		lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
		lmt.SetMessageContentType("application/json")
		lmt.SetMessage(`{"error":"rate limit exceeded","kind":"rate_limited"}`)
		res = append(res, tollbooth.HTTPMiddleware(lmt))
	}
	if s.auth != nil {
		res = append(res, s.authMiddleware)
	}
	return res
}
