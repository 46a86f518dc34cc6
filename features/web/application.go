package web

import (
	"errors"
	"strconv"
	"sync"

	"net/http"
	"net/http/pprof"
	rpprof "runtime/pprof"

	"fedipull/features/web/handlers/health"
	"fedipull/internal/config"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"github.com/unrolled/secure"
	"github.com/ziflex/lecho/v3"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

var ErrApplicationNotInitialized = errors.New("application not initialized")

var (
	onceApplication sync.Once
	application     *Application
)

// Application is the operations HTTP surface: health, prometheus metrics
// and pprof. It serves no user traffic; the engine has no API for editing
// rules.
type Application struct {
	Echo   *echo.Echo
	config *config.ServerConfig
	logger *lecho.Logger
}

// GetApplication retrieves the singleton instance of Application.
func GetApplication() (*Application, error) {
	if application == nil {
		return nil, ErrApplicationNotInitialized
	}
	return application, nil
}

// NewApplication initializes the Echo server and maps the ops routes.
func NewApplication(cfg *config.ServerConfig, status health.StatusSource) (*Application, error) {
	onceApplication.Do(func() {
		e := echo.New()
		e.HideBanner = true
		e.Server.Addr = ":" + strconv.Itoa(cfg.Port)
		e.Server.ReadTimeout = cfg.ReadTimeout
		e.Server.WriteTimeout = cfg.WriteTimeout
		log.Info().Str("address", e.Server.Addr).Msg("Ops server address")

		app := &Application{
			Echo:   e,
			config: cfg,
		}

		app.configureLogger()
		app.configureMiddleware()
		app.configureRoutes(status)
		app.configurePprof()

		application = app
	})

	return application, nil
}

func (app *Application) configureRoutes(status health.StatusSource) {
	e := app.Echo

	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "fedipull ingress")
	})
	e.GET("/metrics", echoprometheus.NewHandler())

	health.MapHealth(e, *app.config, status)
}

func (app *Application) configureMiddleware() {
	e := app.Echo

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	e.Use(otelecho.Middleware("fedipull"))
	e.Use(echoprometheus.NewMiddleware("echo"))

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:        true,
		BrowserXssFilter: true,
	})
	e.Use(echo.WrapMiddleware(secureMiddleware.Handler))

	e.Use(lecho.Middleware(lecho.Config{Logger: app.logger}))
	e.Pre(middleware.RemoveTrailingSlash())
}

func (app *Application) configureLogger() {
	lechoLogger := lecho.From(log.Logger, lecho.WithTimestamp())
	app.Echo.Logger = lechoLogger
	app.logger = lechoLogger
}

func (app *Application) configurePprof() {
	pprofGroup := app.Echo.Group("/debug/pprof")

	pprofGroup.GET("", echo.WrapHandler(http.HandlerFunc(pprof.Index)))
	pprofGroup.GET("/", echo.WrapHandler(http.HandlerFunc(pprof.Index)))
	pprofGroup.GET("/cmdline", echo.WrapHandler(http.HandlerFunc(pprof.Cmdline)))
	pprofGroup.GET("/profile", echo.WrapHandler(http.HandlerFunc(pprof.Profile)))
	pprofGroup.GET("/symbol", echo.WrapHandler(http.HandlerFunc(pprof.Symbol)))
	pprofGroup.GET("/trace", echo.WrapHandler(http.HandlerFunc(pprof.Trace)))

	for _, profile := range rpprof.Profiles() {
		name := profile.Name()
		pprofGroup.GET("/"+name, echo.WrapHandler(pprof.Handler(name)))
	}
}
