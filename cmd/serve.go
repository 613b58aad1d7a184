package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"docconvert/api"
	"docconvert/services"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var listenAddr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the conversion HTTP API",
		Long: `Serve accepts multipart uploads on POST /api/v1/conversions, stores them in
S3 and queues them for the worker. GET /api/v1/conversions/:id reports status.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listenAddr == "" {
				listenAddr = a.cfg.ListenAddr
			}
			return runServer(cmd.Context(), a, listenAddr)
		},
	}

	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "address to listen on (default from LISTEN_ADDR or :8080)")
	return serveCmd
}

func runServer(parent context.Context, a *app, listenAddr string) error {
	cfg := a.cfg
	log := a.logger

	redisClient, err := connectRedis(parent, cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	dbSvc, err := connectDatabase(parent, cfg)
	if err != nil {
		return err
	}
	defer dbSvc.Close()

	gin.SetMode(gin.ReleaseMode)
	router := api.SetupRouter(&api.Dependencies{
		Logger:   log,
		Queue:    services.NewQueueService(cfg, redisClient, dbSvc),
		Uploader: services.NewS3Service(cfg),
	})

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", slog.String("address", listenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", slog.String("error", err.Error()))
		return err
	}

	log.Info("Server shutdown complete")
	return nil
}
