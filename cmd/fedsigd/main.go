// fedsigd accepts signed federation deliveries. Every request to an inbox
// must carry a valid HTTP signature from a remote actor; the actor's key
// is resolved, cached and refreshed on demand.
//
// Configuration is read from the file given by --config or, failing that,
// the FEDSIG_CONFIG environment variable.
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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/vitalvas/fedsig/config"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath  string
		listen      string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("fedsigd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to fedsig.yaml (default: $FEDSIG_CONFIG)")
	flagSet.StringVar(&listen, "listen", "", "listen address, overrides server.listen")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}

		return err
	}

	if showVersion {
		fmt.Println("fedsigd", version)
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if listen != "" {
		cfg.Server.Listen = listen
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("listening", "addr", cfg.Server.Listen, "local_domain", cfg.Federation.LocalDomain, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err

	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	return config.Load()
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}
