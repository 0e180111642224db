// Package api exposes the HTTP surface: webhook ingress, the delta-sync
// endpoint, stock reads, the admin refresh trigger, and the user/message
// routes.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"edgesync.shamra.dev/cache"
	"edgesync.shamra.dev/config"
	"edgesync.shamra.dev/kv"
	"edgesync.shamra.dev/refresh"
	"edgesync.shamra.dev/stream"
	"edgesync.shamra.dev/users"
	"edgesync.shamra.dev/webhook"
)

// Server wires the HTTP routes to the underlying subsystems.
type Server struct {
	echo      *echo.Echo
	cfg       *config.Config
	log       *logrus.Logger
	metrics   *Metrics
	store     *kv.Store
	cache     *cache.Cache
	processor *webhook.Processor
	syncer    *stream.Syncer
	streams   *stream.Manager
	refresher *refresh.Refresher
	users     *users.Store
	messages  *users.MessageStore
	tokens    *users.TokenService
}

// Deps carries the subsystems the server serves.
type Deps struct {
	Store     *kv.Store
	Cache     *cache.Cache
	Processor *webhook.Processor
	Syncer    *stream.Syncer
	Streams   *stream.Manager
	Refresher *refresh.Refresher
	Users     *users.Store
	Messages  *users.MessageStore
	Tokens    *users.TokenService
}

// NewServer creates the Echo server with the standard middleware stack and
// registers every route.
func NewServer(cfg *config.Config, deps Deps, metrics *Metrics, log *logrus.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	if cfg.Server.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	}
	if len(cfg.Security.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.Security.AllowedOrigins,
			AllowMethods: []string{
				http.MethodGet,
				http.MethodPost,
				http.MethodPut,
				http.MethodDelete,
				http.MethodOptions,
			},
			AllowHeaders: []string{
				echo.HeaderOrigin,
				echo.HeaderContentType,
				echo.HeaderAccept,
				echo.HeaderAuthorization,
			},
		}))
	}
	e.Use(middleware.RequestID())
	if cfg.Security.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(cfg.Security.RateLimit),
		)))
	}
	if metrics != nil {
		e.Use(metrics.Middleware())
	}

	s := &Server{
		echo:      e,
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		store:     deps.Store,
		cache:     deps.Cache,
		processor: deps.Processor,
		syncer:    deps.Syncer,
		streams:   deps.Streams,
		refresher: deps.Refresher,
		users:     deps.Users,
		messages:  deps.Messages,
		tokens:    deps.Tokens,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/health", s.handleHealth)
	if s.metrics != nil {
		e.GET("/metrics", s.metrics.Handler())
	}

	api := e.Group("/api")

	admin := api.Group("", s.adminGuard)
	admin.POST("/webhooks/erpnext", s.handleWebhook)
	admin.POST("/webhooks/price-update", s.handlePriceUpdate)
	admin.POST("/stock/update-all", s.handleRefreshAll)

	api.GET("/sync/:family", s.handleSync)
	api.GET("/stock/warehouses/reference", s.handleWarehouseReference)
	api.GET("/stock/:itemCode", s.handleStock)
	api.GET("/certificate-info", s.handleCertificateInfo)

	api.POST("/users/register", s.handleRegister)
	api.POST("/users/login", s.handleLogin)

	auth := api.Group("", echojwt.WithConfig(echojwt.Config{
		SigningKey: s.tokens.Secret(),
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return &users.Claims{}
		},
		// A missing or invalid token is an authentication failure, not a
		// malformed request.
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid token")
		},
	}))
	auth.GET("/users/me", s.handleMe)
	auth.GET("/messages", s.handleListMessages)

	admin.POST("/messages", s.handleCreateMessage)
	admin.DELETE("/messages/:id", s.handleDeleteMessage)
}

// adminGuard protects ingress and admin routes with the shared webhook
// token. When no token is configured the routes stay open, which is the
// development default.
func (s *Server) adminGuard(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := s.cfg.Security.WebhookToken
		if token != "" && c.Request().Header.Get("X-Webhook-Token") != token {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook token")
		}
		return next(c)
	}
}

// Start serves HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	s.log.WithField("addr", srv.Addr).Info("http server listening")
	return s.echo.StartServer(srv)
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
