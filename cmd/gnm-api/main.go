package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gnmradar/gnm/internal/api"
	"github.com/gnmradar/gnm/internal/buildinfo"
	"github.com/gnmradar/gnm/internal/config"
	"github.com/gnmradar/gnm/internal/logging"
	"github.com/gnmradar/gnm/internal/store"
)

const apiLogFile = "api.log"

// Exit codes.
const (
	exitOK        = 0
	exitConfig    = 1
	exitDatastore = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitConfig
	}

	snap, warnings, err := config.Load(envCfg.ConfigDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitConfig
	}

	logger, err := logging.New(snap.Main.Log, apiLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitConfig
	}
	defer logger.Sync()

	logger.Info("gnm-api starting",
		zap.String("version", buildinfo.Version),
		zap.Int("port", snap.Main.API.Port),
	)
	for _, w := range warnings {
		logger.Warn(w)
	}

	if envCfg.APIToken == "" {
		logger.Warn("GNM_API_TOKEN not set, API authentication disabled")
	} else if config.IsWeakToken(envCfg.APIToken) {
		logger.Warn("GNM_API_TOKEN is weak, consider a longer random token")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, snap.Main.DB)
	if err != nil {
		logger.Error("datastore open failed", zap.Error(err))
		return exitDatastore
	}
	defer db.Close()
	if err := store.Migrate(db); err != nil {
		logger.Error("datastore migration failed", zap.Error(err))
		return exitDatastore
	}

	srv := api.NewServer(snap.Main.API.Port, envCfg.APIToken, db)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.Int("port", snap.Main.API.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			return exitDatastore
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("gnm-api stopped")
	return exitOK
}
