package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	blockrepo "fedipull/features/blocks/repository"
	"fedipull/features/ingress"
	rulerepo "fedipull/features/rules/repository"
	"fedipull/features/sidekiq"
	"fedipull/features/web"
	"fedipull/internal/collector"
	"fedipull/internal/config"
	"fedipull/internal/db"
	"fedipull/internal/telemetry"

	"github.com/ory/graceful"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

// ServeCommand runs the ingress engine until a signal or a systemic
// failure stops it.
var ServeCommand = &cli.Command{
	Name:    "serve",
	Aliases: []string{"s"},
	Usage:   "Run the firehose ingress engine",
	Action:  serve,
}

func serve(c *cli.Context) error {
	cfg := config.GetConfig()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTelemetry(c.Context, "fedipull", c.App.Version)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize telemetry")
			return err
		}
		defer shutdown(context.Background())
	}

	collector.NewMetricsCollector()

	storeDB, err := db.Connect(cfg.Store.DSN, cfg.Store.MaxOpenConns)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to store")
		return err
	}
	defer storeDB.Close()

	queue, err := sidekiq.NewClient(c.Context, &cfg.Queue)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to work queue")
		return err
	}
	defer queue.Close()

	engine := ingress.New(cfg,
		rulerepo.NewPostgresRuleRepository(storeDB),
		blockrepo.NewPostgresBlockRepository(storeDB),
		queue,
		ingress.WithListenDSN(cfg.Store.DSN),
	)

	app, err := web.NewApplication(&cfg.Server, engine.Status)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create ops application")
		return err
	}

	sigCtx, stopSignals := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	if err := engine.Start(sigCtx); err != nil {
		log.Error().Err(err).Msg("Failed to start ingress engine")
		return err
	}

	server := graceful.WithDefaults(app.Echo.Server)
	go func() {
		log.Info().Msgf("Starting ops server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Ops server failed")
		}
	}()

	// Block until a signal arrives or the engine raises its stop signal.
	<-engine.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Engine shutdown incomplete")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ops server shutdown incomplete")
	}

	if err := engine.Err(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Ingress engine stopped on failure")
		return err
	}

	log.Info().Msg("Server stopped gracefully.")
	return nil
}
