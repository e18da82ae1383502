package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/educonnect/backend/internal/config"
	"github.com/educonnect/backend/internal/db"
	"github.com/educonnect/backend/internal/handlers"
	"github.com/educonnect/backend/internal/httpserver"
	"github.com/educonnect/backend/internal/logging"
	"github.com/educonnect/backend/internal/middleware"
)

// Run bootstraps the EduConnect backend application.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, or seed")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch args[0] {
	case "serve":
		return serve(ctx, cfg)
	case "migrate":
		return runMigrations(ctx, cfg, args[1:], os.Stdout)
	case "seed":
		return runSeed(ctx, cfg, args[1:], os.Stdout)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	handler := middleware.RequestLogger(logger)(handlers.NewRouter(deps))
	srv := httpserver.New(cfg.AppPort, handler)

	listener, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr(), err)
	}

	logger.Info("starting http server", "port", cfg.AppPort, "store", cfg.Store)
	if err := srv.Run(ctx, listener, cfg.ShutdownTimeout); err != nil {
		return err
	}
	logger.Info("http server stopped")
	return nil
}

func runSeed(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("expected seed name (e.g. dev)")
	}

	seedDir, err := resolveDir(cfg.SeedDir)
	if err != nil {
		return err
	}

	seedName := args[0]
	if !strings.HasSuffix(seedName, ".sql") {
		seedName = fmt.Sprintf("%s_seed.sql", seedName)
	}

	contents, err := os.ReadFile(filepath.Join(seedDir, seedName))
	if err != nil {
		return fmt.Errorf("read seed %s: %w", seedName, err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, string(contents)); err != nil {
		return fmt.Errorf("apply seed %s: %w", seedName, err)
	}

	fmt.Fprintf(out, "applied seed %s\n", seedName)
	return nil
}

func resolveDir(dir string) (string, error) {
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}
	return filepath.Join(wd, dir), nil
}
