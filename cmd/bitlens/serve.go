package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens/internal/version"
)

func serveCmd(fs *flag.FlagSet) runFunc {
	var port int
	fs.IntVar(&port, "port", 0, "listen port (default http.port from config)")

	return func(ctx context.Context, e *env) error {
		cfg := e.eng.Config().HTTP
		if port == 0 {
			port = cfg.Port
		}
		addr := fmt.Sprintf(":%d", port)

		srv := &http.Server{
			Addr:              addr,
			Handler:           e.eng.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       time.Duration(cfg.ReadTimeoutSec) * time.Second,
			WriteTimeout:      time.Duration(cfg.WriteTimeoutSec) * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			e.logger.Info("Starting HTTP server",
				zap.String("addr", addr),
				zap.String("version", version.Version),
				zap.String("commit", version.Commit),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}
		e.logger.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownSec)*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			e.logger.Error("Error during shutdown", zap.Error(err))
			return err
		}

		e.logger.Info("Server stopped gracefully")
		return nil
	}
}
