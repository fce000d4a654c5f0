package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/cognicore/tagstream/internal/app"
	"github.com/cognicore/tagstream/internal/server"
	"github.com/cognicore/tagstream/pkg/tagstream/config"
)

func main() {
	configPath := flag.String("config", config.Path(""), "Config file (optional, TAGSTREAM_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	sched, err := a.Scheduler()
	if err != nil {
		logger.Error("scheduler setup failed", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx)

	srv := server.NewServer(cfg.Server, server.Deps{
		Store:      a.Store,
		Reader:     a.Reader,
		Aggregator: a.Aggregator,
		Scheduler:  sched,
		Location:   a.Location,
	})
	go func() {
		logger.Info("http server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	logger.Info("tagstreamd started",
		"store", cfg.Store.Driver,
		"timezone", a.Location.String(),
		"nats", cfg.NATS.URL != "")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	sched.Stop()
	logger.Info("shutdown complete")
}
