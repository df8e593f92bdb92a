package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/thematic-predictions/internal/auth"
	"github.com/frahmantamala/thematic-predictions/internal/prediction"
	"github.com/frahmantamala/thematic-predictions/internal/transport"
	"github.com/frahmantamala/thematic-predictions/internal/transport/rest"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	lg := deps.Logger
	cfg := deps.Config

	var dispatcher prediction.Dispatcher
	var pool *prediction.NotificationPool
	if cfg.Payment.AsyncWebhooks {
		pool = prediction.NewNotificationPool(deps.Service, prediction.PoolConfig{
			MaxWorkers:     cfg.Payment.MaxWorkers,
			JobQueueSize:   cfg.Payment.JobQueueSize,
			WorkerPoolSize: cfg.Payment.WorkerPoolSize,
		}, lg)
		dispatcher = pool
	} else {
		dispatcher = prediction.NewInlineDispatcher(deps.Service, lg)
	}

	var tokenValidator auth.TokenValidator
	if cfg.Security.AdminEnabled() {
		generator, err := auth.NewRSATokenGenerator(cfg.Security)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load admin keys: %v\n", err)
			os.Exit(1)
		}
		tokenValidator = generator
	} else {
		lg.Info("admin keys not configured, admin routes disabled")
	}

	router := chi.NewRouter()
	err = rest.RegisterAllRoutes(router, cfg.Server, deps.DB.DB, deps.Cache,
		prediction.NewHandler(deps.Service),
		prediction.NewWebhookHandler(transport.NewBaseHandler(lg), dispatcher, lg),
		tokenValidator,
		lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register routes: %v\n", err)
		os.Exit(1)
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweeperDone := make(chan struct{})
	if cfg.Prediction.SweepInterval > 0 {
		go func() {
			defer close(sweeperDone)
			prediction.NewSweeper(deps.Service, cfg.Prediction.SweepInterval, lg).Run(sweepCtx)
		}()
	} else {
		close(sweeperDone)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	lg.Info("Starting HTTP server", "address", addr, "async_webhooks", cfg.Payment.AsyncWebhooks)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		lg.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			lg.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			lg.Error("Server failed to start", "error", err)
			stopSweeper()
			deps.Close()
			os.Exit(1)
		}
	}

	stopSweeper()
	<-sweeperDone
	if pool != nil {
		pool.Shutdown()
	}
	deps.Close()

	lg.Info("Server stopped")
}
