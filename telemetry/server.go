package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig configures the telemetry HTTP endpoint (metrics + health),
// mirroring the shape of the teacher's ServerConfig down to its field
// names, trimmed to what an internal-only metrics/health listener needs.
type ServerConfig struct {
	Addr            string
	MetricsPath     string
	HealthPath      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns sensible defaults for the telemetry listener.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":9090",
		MetricsPath:     "/metrics",
		HealthPath:      "/healthz",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// HealthResponse is the JSON body served at HealthPath.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service,omitempty"`
	Version string                 `json:"version,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Server serves /metrics (Prometheus) and a readiness endpoint backed by a
// Registry of component health checkers.
type Server struct {
	echo   *echo.Echo
	cfg    ServerConfig
	server *http.Server
}

// NewServer wires the metrics and health routes onto a fresh Echo instance,
// following the teacher's NewEchoServer middleware stack (recover, request
// id) minus the CORS/API-key layers this internal listener doesn't need.
func NewServer(cfg ServerConfig, serviceName, serviceVersion string, registry *Registry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}

	metricsHandler := promhttp.Handler()
	e.GET(cfg.MetricsPath, func(c echo.Context) error {
		metricsHandler.ServeHTTP(c.Response(), c.Request())
		return nil
	})

	e.GET(cfg.HealthPath, func(c echo.Context) error {
		status := "healthy"
		code := http.StatusOK
		details := map[string]interface{}{}

		if registry != nil {
			allHealthy, statuses := registry.CheckAll(c.Request().Context())
			for _, s := range statuses {
				details[s.Component] = map[string]interface{}{
					"healthy": s.Healthy,
					"detail":  s.Detail,
				}
			}
			if !allHealthy {
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}

		return c.JSON(code, HealthResponse{
			Status:  status,
			Service: serviceName,
			Version: serviceVersion,
			Details: details,
		})
	})

	return &Server{echo: e, cfg: cfg}
}

// Start begins serving in the background. Call Shutdown to stop it.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	go func() {
		_ = s.echo.StartServer(s.server)
	}()
	return nil
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry server shutdown failed: %w", err)
	}
	return nil
}
