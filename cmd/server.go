package cmd

import (
	"context"
	"errors"
	"log"
	httpNet "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskrunner/internal/delivery/http"
	"taskrunner/internal/repository"
	"taskrunner/internal/runner"
	"taskrunner/internal/service"
	"taskrunner/pkg/logger"

	"github.com/spf13/cobra"
)

// drainTimeout bounds how long running executions may finish after a shutdown
// signal before they are killed.
const drainTimeout = 30 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the API server, worker pool and reaper",
	Run:   Start,
}

func Start(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appDep, err := NewAppDependency(ctx)
	if err != nil {
		log.Fatalf("Failed to create app dependency: %v", err)
	}

	repo, err := repository.NewRepository(appDep.cfg, appDep.db.DB)
	if err != nil {
		log.Fatalf("Failed to create repository: %v", err)
	}

	services := service.NewService(
		appDep.cfg,
		appDep.log,
		repo,
		appDep.cache,
		runner.New(&appDep.cfg.Runner, appDep.log),
		appDep.notifier,
	)

	if err := services.Dispatcher.Start(ctx); err != nil {
		log.Fatalf("Failed to start dispatcher: %v", err)
	}
	if err := services.Reaper.Start(ctx); err != nil {
		log.Fatalf("Failed to start reaper: %v", err)
	}

	httpHandler := http.NewHttpAPIHandler(ctx, appDep.echo, appDep.validator, services, appDep.log)
	apiServer := NewHTTPServer(ctx, appDep, httpHandler)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, httpNet.ErrServerClosed) {
			appDep.log.Fatal("Failed to start HTTP server", logger.ErrorField(err))
		}
	}()

	<-ctx.Done()
	appDep.log.Info("Shutting down gracefully...")

	if err := apiServer.Stop(); err != nil {
		appDep.log.Error("Failed to stop HTTP server", logger.ErrorField(err))
	}

	<-services.Reaper.Stop().Done()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := services.Dispatcher.Stop(drainCtx); err != nil {
		appDep.log.Error("Failed to stop dispatcher", logger.ErrorField(err))
	}

	if err := appDep.Close(); err != nil {
		log.Fatalf("Failed to close app dependency: %v", err)
	}
}
