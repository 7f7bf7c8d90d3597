// Package server assembles the gateway: configuration, logging,
// metrics, the session store, the upstream fetcher, and the HTTP
// surface, with graceful shutdown tying their lifecycles together.
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	api "github.com/mirrorgate/mirrorgate/internal/api/http"
	"github.com/mirrorgate/mirrorgate/internal/api/middleware"
	"github.com/mirrorgate/mirrorgate/internal/domain/session"
	"github.com/mirrorgate/mirrorgate/internal/gateway/intercept"
	"github.com/mirrorgate/mirrorgate/internal/gateway/redirect"
	"github.com/mirrorgate/mirrorgate/internal/gateway/upstream"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/config"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/logging"
	"github.com/mirrorgate/mirrorgate/internal/infrastructure/monitoring"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router   *gin.Engine
	httpSrv  *http.Server
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	sessions *session.Manager
	fetcher  *upstream.Fetcher

	janitorCancel context.CancelFunc
}

// NewServer builds a fully wired gateway from configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	target, err := url.Parse(cfg.Target.Origin)
	if err != nil || target.Hostname() == "" {
		return nil, fmt.Errorf("invalid target origin %q: %w", cfg.Target.Origin, err)
	}

	logger.Info("Initializing gateway",
		zap.String("port", cfg.Server.Port),
		zap.String("target", cfg.Target.Origin),
		zap.String("upstream", cfg.Upstream.ProxyAddr),
	)

	metrics := monitoring.NewMetrics()

	var extraDomains, extraGlobs []string
	if cfg.Intercept.DomainListFile != "" {
		list, err := config.LoadDomainList(cfg.Intercept.DomainListFile)
		if err != nil {
			logger.Warn("domain list file ignored", zap.Error(err))
		} else {
			extraDomains = list.Domains.Ad
			extraGlobs = list.Domains.AdPaths
			logger.Info("domain list loaded",
				zap.Int("domains", len(extraDomains)),
				zap.Int("path_globs", len(extraGlobs)),
			)
		}
	}
	classifier := intercept.NewClassifier(target, extraDomains, extraGlobs)
	assets, err := intercept.NewAssets(target, classifier.AdDomains())
	if err != nil {
		return nil, fmt.Errorf("failed to render interception assets: %w", err)
	}

	fetcher := upstream.NewFetcher(cfg.Upstream, logger, metrics)
	resolver := redirect.NewResolver(fetcher, logger, metrics)
	sessions := session.NewManager(cfg.Session.TTL, logger, metrics)

	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	sessions.StartJanitor(janitorCtx, func(s *session.Session) {
		fetcher.CloseCredential(s.CredentialID())
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := api.NewHandlers(cfg, target, logger, metrics, sessions, fetcher, resolver, classifier, assets)
	handlers.Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info("Gateway initialized")

	return &Server{
		router:        router,
		logger:        logger,
		config:        cfg,
		metrics:       metrics,
		sessions:      sessions,
		fetcher:       fetcher,
		janitorCancel: janitorCancel,
	}, nil
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close drains the HTTP server, stops the session janitor, and tears
// down every live upstream tunnel.
func (s *Server) Close() error {
	s.logger.Info("Shutting down gateway...")

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
	}

	s.janitorCancel()
	s.sessions.StopJanitor()
	s.fetcher.Close()

	s.logger.Sync()
	return nil
}
