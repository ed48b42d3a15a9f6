// Package server exposes the compression pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"videra/internal/logging"
	"videra/internal/pipeline"
	"videra/pkg/models"
)

const (
	maxHeaderBytes  = 1 << 20
	readTimeout     = 5 * time.Minute
	shutdownTimeout = 5 * time.Second
)

// StatsSource reports host load for /health.
type StatsSource interface {
	GetStats(ctx context.Context) (models.HardwareStats, error)
}

type Options struct {
	Addr          string
	MaxChunkBytes uint64
	CompressedDir string
}

type Server struct {
	echo    *echo.Echo
	svc     *pipeline.Service
	monitor StatsSource
	opts    Options
	logger  *zap.Logger
}

func New(svc *pipeline.Service, monitor StatsSource, opts Options, logger *zap.Logger) *Server {
	s := &Server{
		echo:    echo.New(),
		svc:     svc,
		monitor: monitor,
		opts:    opts,
		logger:  logging.OrNop(logger).Named("http"),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Validator = newRequestValidator()

	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.requestLogger())

	s.mapHandlers(s.echo)
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	server := &http.Server{
		Addr:              s.opts.Addr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
	s.logger.Info("listening", zap.String("addr", s.opts.Addr))
	if err := s.echo.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits briefly for active ones.
// Open progress streams are cut; their jobs are cleaned up by the
// disconnect.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down server")
	if err := s.echo.Shutdown(ctx); err != nil {
		return s.echo.Close()
	}
	return nil
}

func (s *Server) mapHandlers(e *echo.Echo) {
	v1 := e.Group("/api/v1")
	v1.POST("/upload/chunk", s.uploadChunk())
	v1.POST("/upload/complete", s.completeUpload())
	v1.GET("/stream/:jobId", s.streamJob())
	v1.POST("/jobs/:jobId/cancel", s.cancelJob())
	v1.GET("/config", s.clientConfig())

	e.Static("/compressed", s.opts.CompressedDir)
	e.GET("/health", s.health())
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health" || c.Path() == "/metrics"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				s.logger.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			s.logger.Debug("request", fields...)
			return nil
		},
	})
}

type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names so messages match what the client sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: v}
}

func (rv *requestValidator) Validate(i interface{}) error {
	return rv.validate.Struct(i)
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return "Invalid request payload"
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fe.Field()+" must satisfy "+fe.Tag()+"="+fe.Param())
			continue
		}
		parts = append(parts, fe.Field()+" is "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
