package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zerverless/coordinator/internal/api"
	"github.com/zerverless/coordinator/internal/archive"
	"github.com/zerverless/coordinator/internal/catalog"
	"github.com/zerverless/coordinator/internal/config"
	"github.com/zerverless/coordinator/internal/coordinator"
	"github.com/zerverless/coordinator/internal/events"
	"github.com/zerverless/coordinator/internal/gitops"
	"github.com/zerverless/coordinator/internal/volunteer"
	"github.com/zerverless/coordinator/internal/ws"
)

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if configFile != "" {
				var err error
				if cfg, err = config.LoadFile(configFile); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("log-level") {
				if err := setupLogging(cfg.LogLevel); err != nil {
					return err
				}
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "config file (yaml, json or toml); environment overrides it")
	return cmd
}

// loadCatalog picks the catalog source. A git URL wins over a local path;
// with neither the built-in catalog is used. CATALOG_PATH is relative to
// the repository root when the catalog comes from git.
func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogGitURL != "" {
		baseDir := cfg.DataDir
		if baseDir == "" {
			baseDir = os.TempDir()
		}
		src := gitops.CatalogSource{
			URL:    cfg.CatalogGitURL,
			Branch: cfg.CatalogGitBranch,
			Path:   cfg.CatalogPath,
		}
		if cfg.CatalogGitToken != "" {
			src.Auth = &gitops.Auth{Username: cfg.CatalogGitUser, Token: cfg.CatalogGitToken}
		}
		cat, _, err := gitops.NewWatcher(filepath.Join(baseDir, "catalogs")).LoadCatalog(src)
		return cat, err
	}
	if cfg.CatalogPath == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(cfg.CatalogPath)
}

func serve(parent context.Context, cfg *config.Config) error {
	log.Infof("Starting coordinator node: %s", cfg.NodeID)

	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	log.Infof("Loaded %d job types", len(cat.IDs()))

	bus := events.NewBus(cfg.EventBuffer, events.LogSink{})

	var arc api.Archive
	if cfg.DataDir != "" {
		store, err := archive.OpenBadger(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()
		bus.AddSink(store)
		arc = store
		log.Infof("Archiving settled jobs to %s", cfg.DataDir)
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(parent, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warnf("Redis at %s not reachable, stream sink disabled: %v", cfg.RedisAddr, err)
		} else {
			bus.AddSink(archive.NewRedisStream(rdb, cfg.RedisStream, 10000))
			log.Infof("Publishing settled jobs to redis stream %s", cfg.RedisStream)
		}
	}

	coord := coordinator.New(cat, cfg.CoordinatorOptions(), bus)
	vm := volunteer.NewManager()
	wsServer := ws.NewServer(vm, coord)
	bus.AddSink(wsServer)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(cfg, coord, vm, wsServer, arc),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Server listening on %s", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		bus.Run(ctx)
		return nil
	})
	g.Go(func() error {
		coord.RunHousekeeper(ctx, cfg.SweepInterval)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("Server stopped")
	return err
}
