package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"facefeed/internal/api"
	"facefeed/internal/platform/logger"
	"facefeed/internal/platform/metrics"
	"facefeed/internal/session"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func newServeCommand(cc *commandContext) *cobra.Command {
	var noStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cc, cc.cfg.Autostart && !noStart)
		},
	}
	cmd.Flags().BoolVar(&noStart, "no-start", false, "Do not start a session on launch")
	return cmd
}

func newRouter(ctrl *session.Controller, met *metrics.Metrics, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log, "/metrics"))
	r.Use(metrics.RequestMiddleware(met, "/metrics"))
	r.Method(http.MethodGet, "/metrics", met.Handler(ctrl.UpdateGauges))
	api.NewHandler(ctrl, log).Routes(r)
	return r
}

func serve(ctx context.Context, cc *commandContext, autostart bool) error {
	cfg, log := cc.cfg, cc.log
	met := metrics.New()

	comp, err := buildComponents(ctx, cfg, log, met, nil)
	if err != nil {
		return err
	}
	defer comp.close()
	ctrl := comp.controller

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(ctrl, met, log),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("backend", cfg.BackendURL),
			slog.Duration("poll_interval", cfg.PollInterval),
			slog.String("log_level", cfg.LogLevel))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = ctrl.Stop(shCtx)
		if err := srv.Shutdown(shCtx); err != nil {
			log.Error("shutdown error", slog.String("error", err.Error()))
			return err
		}
		log.Info("server stopped")
		return nil
	})

	if autostart {
		if err := ctrl.Start(gctx); err != nil {
			log.Warn("session not started", slog.String("error", err.Error()))
		}
	}

	return g.Wait()
}
