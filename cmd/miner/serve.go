package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/dictionary"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/redis"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve stored dictionaries over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			shutdownMetrics := a.startMetrics()
			defer shutdownMetrics(context.Background())

			db, err := a.postgresClient(ctx)
			if err != nil {
				return err
			}
			defer a.closePostgres()
			store := dictionary.NewStore(db)
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}

			checker := health.NewChecker()
			checker.Register("postgres", health.PingCheck(db, true))

			var cache *dictionary.Cache
			rc, err := pkgredis.NewClient(ctx, a.cfg.Redis)
			if err != nil {
				slog.Warn("redis unavailable, serving without cache", "error", err)
			} else {
				defer rc.Close()
				cache = dictionary.NewCache(rc, a.cfg.Redis.CacheTTL, a.metrics)
				checker.Register("redis", health.PingCheck(rc, false))
			}

			mux := http.NewServeMux()
			dictionary.NewHandler(store, cache).Register(mux)
			mux.HandleFunc("GET /health/live", checker.LiveHandler())
			mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

			var chain http.Handler = mux
			chain = middleware.Timeout(a.cfg.Server.RequestTimeout)(chain)
			chain = middleware.Metrics(a.metrics)(chain)
			chain = middleware.RequestID(chain)

			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler:      chain,
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
			}

			go func() {
				<-ctx.Done()
				slog.Info("shutdown signal received")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("server shutdown error", "error", err)
				}
			}()

			slog.Info("dictionary service listening", "addr", server.Addr, "cache", cache != nil)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("dictionary server: %w", err)
			}
			slog.Info("dictionary service stopped")
			return nil
		},
	}
}
