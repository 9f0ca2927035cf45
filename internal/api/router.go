package api

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeventeLantos/sms-router/internal/model"
)

type Options struct {
	// Password, when set, must accompany every /router request.
	Password string
	// Registry receives HTTP metrics and is served at /metrics. Optional.
	Registry *prometheus.Registry
}

func NewServer(h *Handler, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(middleware.Recover())
	e.Use(requestLogger())
	if opts.Registry != nil {
		e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Subsystem:  "http",
			Registerer: opts.Registry,
		}))
		e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
			Gatherer: opts.Registry,
		}))
	}

	r := e.Group("/router", requirePassword(opts.Password))
	r.GET("/receive", h.Receive)
	r.GET("/outbox", h.Outbox)
	r.GET("/delivered", h.Delivered)
	r.GET("/can_send/:id", h.CanSend)
	r.GET("/receipt/:id", h.Receipt)
	r.POST("/mass_text", h.MassText)

	v1 := e.Group("/v1")
	v1.GET("/health", h.Health)
	v1.GET("/scheduler/status", h.SchedulerStatus)
	v1.POST("/scheduler/start", h.SchedulerStart)
	v1.POST("/scheduler/stop", h.SchedulerStop)

	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "sms-router")
	})

	return e
}

func requirePassword(password string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if password == "" {
				return next(c)
			}
			got := c.QueryParam("password")
			if got == "" {
				got = c.FormValue("password")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(password)) != 1 {
				return echo.NewHTTPError(http.StatusBadRequest, "You must specify a valid password.")
			}
			return next(c)
		}
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"duration_ms", v.Latency.Milliseconds(),
			}
			if v.Error != nil {
				slog.Warn("http request failed", append(attrs, "err", v.Error)...)
				return nil
			}
			slog.Info("http request", attrs...)
			return nil
		},
	})
}

// errorHandler maps domain errors onto HTTP statuses.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := "internal error"

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status = he.Code
		if s, ok := he.Message.(string); ok {
			msg = s
		} else {
			msg = http.StatusText(status)
		}
	case errors.Is(err, model.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, model.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, model.ErrInvalidTransition):
		status, msg = http.StatusConflict, err.Error()
	default:
		slog.Error("unhandled request error", "path", c.Path(), "err", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, map[string]any{"error": msg})
}
