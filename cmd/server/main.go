package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcoot/sideline/internal/api"
	"github.com/mcoot/sideline/internal/config"
	"github.com/mcoot/sideline/internal/factory"
	"github.com/mcoot/sideline/internal/supervisor"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	app, err := factory.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	server := api.NewServer(app.Handler(), cfg.Server, logger)
	tree := supervisor.New(logger, cfg.Supervisor)
	app.Supervise(tree, server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("agent starting",
		slog.String("addr", server.Addr()),
		slog.String("provider", app.Router.Name()))

	exitCode := 0
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("supervisor tree error", slog.String("error", err.Error()))
		exitCode = 1
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logger.Warn("service failed to stop", slog.String("service", svc.Name))
		}
	}

	if err := app.Close(); err != nil {
		logger.Error("failed to close resources", slog.String("error", err.Error()))
		exitCode = 1
	}

	logger.Info("agent stopped")
	os.Exit(exitCode)
}
