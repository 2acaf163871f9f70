// Command labrunner serves a persistence unit of posts and comments over
// HTTP and reports the factory statistics.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	_ "go.uber.org/automaxprocs"

	"github.com/goomon/persistlab"
	"github.com/goomon/persistlab/domain"
	"github.com/goomon/persistlab/internal/config"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.Logging)
	log.Debug("Configuration loaded", "port", cfg.Server.Port, "driver", cfg.Database.Driver, "unit_file", cfg.UnitFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, cleanup, err := initializeLabApp(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize lab runner", "error", err)
	}
	defer cleanup()

	if err := persistStartupPost(ctx, app.factory); err != nil {
		log.Fatal("Failed to persist startup post", "error", err)
	}

	go func() {
		log.Info("Starting lab runner", "port", cfg.Server.Port)
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Shutting down lab runner...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	log.Info("Lab runner exited")
}

// persistStartupPost stores one post so a fresh database has something to serve.
func persistStartupPost(ctx context.Context, f *persistlab.Factory) error {
	post, err := persistlab.InTransaction(ctx, f, func(ctx context.Context, s *persistlab.Session) (*domain.Post, error) {
		post := &domain.Post{Title: "High-Performance Java Persistence"}
		return post, s.Persist(ctx, post)
	})
	if err != nil {
		return err
	}
	log.Info("Startup post persisted", "id", post.ID)
	return nil
}

func setupLogging(cfg config.LoggingConfig) {
	switch cfg.Level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Warn("Invalid log level, using info", "level", cfg.Level)
		log.SetLevel(log.InfoLevel)
	}
	log.SetReportTimestamp(true)
	log.SetPrefix("[labrunner] ")
}
