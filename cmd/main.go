package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"actuator_dashboard/internal/config"
	"actuator_dashboard/internal/handlers"
	"actuator_dashboard/internal/logger"
	"actuator_dashboard/internal/metrics"
	"actuator_dashboard/internal/repository"
	"actuator_dashboard/internal/repository/db"
	"actuator_dashboard/internal/server"
	"actuator_dashboard/internal/service"
	"actuator_dashboard/internal/thingspeak"

	"github.com/jonboulle/clockwork"
)

const (
	simPruneTick    = time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load("configs")
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}
	log := logger.Get(cfg.LogLevel)

	sqlDB, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err, "path", cfg.DBPath)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	client, err := thingspeak.NewClient(thingspeak.Options{
		BaseURL:       cfg.ThingSpeak.BaseURL,
		Timeout:       cfg.ThingSpeak.Timeout,
		WriteInterval: cfg.ThingSpeak.WriteInterval,
	}, log)
	if err != nil {
		log.Fatalw("failed to build channel client", "err", err)
	}

	// wire dependencies
	reg := metrics.NewRegistry()
	clock := clockwork.NewRealClock()
	repos := repository.NewRepository(sqlDB)
	dashboard := service.NewDashboardService(cfg.Panels, cfg.Engine, service.ReconcilerDeps{
		Client:  client,
		Events:  repos.EventRepo,
		Clock:   clock,
		Log:     log,
		Metrics: metrics.NewChannel(reg),
	})
	var sim *service.SimulatorService
	if cfg.Simulator.Enabled {
		sim = service.NewSimulatorService(repos.FeedRepo, cfg.Panels, cfg.Simulator, clock, log)
	}
	services := service.NewService(repos, dashboard, simulatorOrNil(sim), cfg.Auth)
	apiHandler := handlers.NewHandler(services, log, metrics.Handler(reg))

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engines := make(chan struct{})
	go func() {
		defer close(engines)
		if err := dashboard.Run(ctx); err != nil {
			log.Errorw("dashboard stopped with error", "err", err)
		}
	}()
	if sim != nil {
		go sim.Run(ctx, simPruneTick)
		log.Infow("channel simulator enabled", "path", "/sim", "rate_limit", cfg.Simulator.RateLimit)
	}

	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)
	log.Infow("dashboard listening", "port", cfg.Port, "panels", len(cfg.Panels))

	waitForShutdown(cancel, engines, srv, log)
}

// simulatorOrNil keeps a nil *SimulatorService from becoming a non-nil interface.
func simulatorOrNil(sim *service.SimulatorService) service.Simulator {
	if sim == nil {
		return nil
	}
	return sim
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals, stops the engines and
// drains the HTTP server.
func waitForShutdown(cancel context.CancelFunc, engines <-chan struct{}, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	cancel()
	<-engines

	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
}
