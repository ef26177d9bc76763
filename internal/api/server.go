// Package api exposes the engine's HTTP control surface: read-only status
// and history endpoints plus authenticated breaker overrides.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/executor"
	"solana-mirror-engine/internal/observability"
	"solana-mirror-engine/internal/solana"
	"solana-mirror-engine/internal/storage"
)

// Breaker is the circuit-breaker surface the API consumes.
type Breaker interface {
	Snapshot() domain.BreakerSnapshot
	RemainingCooldown() time.Duration
	ForceTrip(ctx context.Context, actor, reason string)
	ForceReset(ctx context.Context, actor, reason string)
}

// QueueStats reports lane occupancy.
type QueueStats interface {
	Depths() domain.QueueDepths
}

// ExecStatus reports the executor's submission mode and failover state.
type ExecStatus interface {
	Status() executor.Status
}

// Options configures the API server. BearerToken empty disables auth on
// mutating routes; that is only acceptable for local development.
type Options struct {
	Trades         storage.TradeStore
	Audit          storage.AuditStore
	Breaker        Breaker
	Queue          QueueStats
	Executor       ExecStatus
	RPC            solana.RPCClient // balance lookups for /status; may be nil
	WalletAddress  string
	BearerToken    string
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// Server wires HTTP endpoints around the engine's components.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	trades   storage.TradeStore
	audit    storage.AuditStore
	breaker  Breaker
	queue    QueueStats
	executor ExecStatus
	rpc      solana.RPCClient
	wallet   string
	token    string
	log      zerolog.Logger
	started  time.Time
}

// NewServer builds the router with middleware and routes registered.
func NewServer(opts Options) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(opts.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = opts.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:   router,
		trades:   opts.Trades,
		audit:    opts.Audit,
		breaker:  opts.Breaker,
		queue:    opts.Queue,
		executor: opts.Executor,
		rpc:      opts.RPC,
		wallet:   opts.WalletAddress,
		token:    opts.BearerToken,
		log:      opts.Logger.With().Str("component", "api").Logger(),
		started:  time.Now(),
	}
	s.routes()
	return s
}

// Router returns the underlying gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(observability.Handler()))
	s.router.GET("/status", s.handleStatus)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/trades", s.handleListTrades)
		v1.GET("/trades/:uuid", s.handleGetTrade)
		v1.GET("/queue", s.handleQueue)
		v1.GET("/breaker", s.handleBreaker)
		v1.GET("/audit", s.handleAudit)

		protected := v1.Group("")
		protected.Use(s.requireBearer())
		{
			protected.POST("/breaker/trip", s.handleBreakerTrip)
			protected.POST("/breaker/reset", s.handleBreakerReset)
		}
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("api listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve api: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
