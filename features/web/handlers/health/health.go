package health

import (
	"net/http"

	"fedipull/features/ingress"
	"fedipull/internal/config"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// StatusSource reports the engine's current state.
type StatusSource func() ingress.Status

// MapHealth sets up the healthcheck endpoints if enabled in config.
func MapHealth(e *echo.Echo, cfg config.ServerConfig, status StatusSource) {
	if !cfg.HealthCheck {
		log.Info().Msg("Health check disabled")
		return
	}

	e.GET("/healthz", Liveness(status))
	e.GET("/health/status", StatusCheck(status))
	log.Info().Msg("Health check enabled at /healthz and /health/status")
}

// Liveness returns 200 while the engine runs and 503 once it has stopped,
// so process supervisors restart a dead-but-hanging instance.
func Liveness(status StatusSource) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !status().Running {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "stopped"})
		}
		return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
	}
}

// StatusCheck returns the full engine status snapshot.
func StatusCheck(status StatusSource) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, status())
	}
}
