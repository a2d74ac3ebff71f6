package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	cidpkg "oggstream/internal/cid"
	"oggstream/internal/config"
	"oggstream/internal/metrics"
	"oggstream/internal/state"
)

const tracerName = "oggstream/cmd/server"

// Server holds the dependencies shared by all HTTP handlers.
type Server struct {
	ctx          context.Context
	cfg          *config.Config
	logger       *slog.Logger
	stateManager *state.Manager
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
}

// NewServer wires a server. ctx bounds the lifetime of every session and
// WebSocket stream. reg may be nil, in which case metrics are kept but not
// exported.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ctx:    ctx,
		cfg:    cfg,
		logger: logger,
	}
	if reg != nil {
		s.metrics = metrics.New(reg)
		s.gatherer = reg
	} else {
		s.metrics = metrics.New(nil)
	}
	s.stateManager = state.NewManager(s.metrics.SetActiveSessions)
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.cidMiddleware())
	r.Use(s.otelMiddleware())
	r.Use(s.metricsMiddleware())
	r.Use(s.logMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "oggstream",
		})
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.stateManager.GetStats())
	})
	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleGetSession)
	api.DELETE("/sessions/:id", s.handleDeleteSession)
	api.GET("/sessions/:id/streams", s.handleListStreams)
	api.GET("/sessions/:id/streams/:serial/seek", s.handleSeek)
	api.GET("/sessions/:id/streams/:serial/ws", s.handleStreamWebSocket)

	return r
}

// Run serves until ctx is cancelled, then closes every session.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("oggstream server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.stateManager.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// cidMiddleware makes sure every request carries a correlation id, keeping
// the one the caller sent.
func (s *Server) cidMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(cidpkg.HeaderName)
		if id == "" {
			id = cidpkg.New()
		}
		c.Request = c.Request.WithContext(cidpkg.WithCID(c.Request.Context(), id))
		c.Header(cidpkg.HeaderName, id)
		c.Next()
	}
}

func (s *Server) otelMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		name := c.FullPath()
		if name == "" {
			name = c.Request.URL.Path
		}
		ctx, span := otel.Tracer(tracerName).Start(ctx, c.Request.Method+" "+name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.target", c.Request.URL.RequestURI()),
			))
		defer span.End()
		if id := cidpkg.CIDFromContext(ctx); id != "" {
			span.SetAttributes(attribute.String(cidpkg.AttributeName, id))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.metrics == nil {
			return
		}
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		s.metrics.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

func (s *Server) logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log(c.Request.Context()).Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// log returns the server logger tagged with the CID of ctx.
func (s *Server) log(ctx context.Context) *slog.Logger {
	l := s.logger
	if l == nil {
		l = slog.Default()
	}
	if id := cidpkg.CIDFromContext(ctx); id != "" {
		return l.With(cidpkg.LogAttr(ctx))
	}
	return l
}
