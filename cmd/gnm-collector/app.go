package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gnmradar/gnm/internal/buildinfo"
	"github.com/gnmradar/gnm/internal/check"
	"github.com/gnmradar/gnm/internal/config"
	"github.com/gnmradar/gnm/internal/identity"
	"github.com/gnmradar/gnm/internal/logging"
	"github.com/gnmradar/gnm/internal/metrics"
	"github.com/gnmradar/gnm/internal/netutil"
	"github.com/gnmradar/gnm/internal/scheduler"
	"github.com/gnmradar/gnm/internal/store"
)

const collectorLogFile = "collector.log"

func printVersion() {
	fmt.Printf("gnm-collector %s (%s, built %s)\n", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)
}

// runCollector wires the full collector and blocks until shutdown or a fatal
// error.
func runCollector(once bool) int {
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

	logger, err := logging.New(snap.Main.Log, collectorLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitConfig
	}
	defer logger.Sync()

	logger.Info("gnm-collector starting",
		zap.String("version", buildinfo.Version),
		zap.String("config_dir", envCfg.ConfigDir),
		zap.Bool("once", once),
	)
	for _, w := range warnings {
		logger.Warn(w)
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
	logger.Info("datastore ready", zap.String("driver", db.Driver))

	writer := store.NewWriter(db, snap.Main.Collector.MaxFailedCycles, logger)

	resolver, geoClose, err := buildIdentityResolver(envCfg, snap, logger)
	if err != nil {
		logger.Error("identity setup failed", zap.Error(err))
		return exitConfig
	}
	if geoClose != nil {
		defer geoClose()
	}
	resolver.Start(ctx)
	defer resolver.Stop()

	var observer scheduler.Observer
	if envCfg.Prometheus {
		collector := metrics.New(writer.Stats, logger)
		collector.Serve(ctx, envCfg.MetricsPort)
		observer = collector
	}

	sched := scheduler.New(scheduler.Config{
		Snapshot:  snap,
		ConfigDir: envCfg.ConfigDir,
		Registry:  check.NewRegistry(),
		Writer:    writer,
		Identity:  resolver,
		Observer:  observer,
		Logger:    logger,
		Once:      once,
	})

	if err := sched.Run(ctx); err != nil {
		if errors.Is(err, store.ErrDatastoreUnavailable) {
			logger.Error("giving up: datastore unavailable", zap.Error(err))
			return exitDatastore
		}
		logger.Error("scheduler failed", zap.Error(err))
		return exitInternal
	}

	stats := writer.Stats()
	logger.Info("gnm-collector stopped",
		zap.Int64("inserted", stats.Inserted),
		zap.Int64("dropped", stats.Dropped),
		zap.Int64("retries", stats.Retries),
	)
	return exitOK
}

// buildIdentityResolver assembles the env -> geo -> config resolution chain.
// A configured mmdb replaces the remote geo endpoint; the returned close
// func releases its handle and is nil otherwise.
func buildIdentityResolver(envCfg *config.EnvConfig, snap *config.Snapshot, logger *zap.Logger) (*identity.Resolver, func() error, error) {
	downloader := netutil.NewDirectDownloader(5*time.Second, check.UserAgent)

	var geo identity.CountryLookup
	var geoClose func() error
	if envCfg.GeoIPDBPath != "" {
		mmdb, err := identity.OpenMMDB(envCfg.GeoIPDBPath)
		if err != nil {
			return nil, nil, err
		}
		geo = mmdb
		geoClose = mmdb.Close
	}

	return identity.NewResolver(identity.ResolverConfig{
		Env: identity.EnvOverrides{
			Region:   envCfg.Region,
			Country:  envCfg.Country,
			City:     envCfg.City,
			PublicIP: envCfg.PublicIP,
		},
		FallbackRegion:  snap.Main.Region,
		Downloader:      downloader,
		Geo:             geo,
		RefreshSchedule: envCfg.IdentityRefreshSchedule,
		Logger:          logger,
	}), geoClose, nil
}
