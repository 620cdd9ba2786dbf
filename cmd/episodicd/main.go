// Package main provides the episodic retrieval server entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/convoke/episodic/internal/config"
	"github.com/convoke/episodic/internal/server"
	"github.com/convoke/episodic/internal/store"
	"github.com/convoke/episodic/internal/store/gormstore"
	"github.com/convoke/episodic/internal/store/memory"
	"github.com/convoke/episodic/internal/store/sqlite"
	"github.com/convoke/episodic/internal/watcher"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	listenAddr := flag.String("listen", "", "Listen address (default from config)")
	dataDir := flag.String("data-dir", "", "Data directory (default: ~/.episodic)")
	backend := flag.String("backend", "", "Storage backend: memory, sqlite, gorm, postgres")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if *dataDir != "" {
		os.Setenv("EPISODIC_DATA_DIR", *dataDir)
	}
	if err := config.EnsureDataDir(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *backend != "" {
		cfg.Backend = *backend
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down")
		cancel()
	}()

	episodeStore, guard, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Backend).Msg("Failed to open episode store")
	}
	defer episodeStore.Close()

	if guard != nil {
		if err := guard.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start database watcher")
		}
		defer guard.Stop()
	}

	svc := server.New(Version, episodeStore)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.ListenAndServe(gctx, cfg.ListenAddr)
	})

	log.Info().
		Str("version", Version).
		Str("backend", cfg.Backend).
		Str("addr", cfg.ListenAddr).
		Msg("episodic server started")

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server exited with error")
	}
}

// openStore builds the configured store backend. SQLite backends also get a
// deletion watcher that recreates the database file when removed.
func openStore(cfg *config.Config) (store.EpisodeStore, *watcher.Guard, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil, nil

	case config.BackendSQLite:
		st, err := sqlite.Open(sqlite.StoreConfig{
			Path:     cfg.DBPath,
			MaxConns: cfg.MaxConns,
			WALMode:  true,
		})
		if err != nil {
			return nil, nil, err
		}
		guard, err := watcher.New(cfg.DBPath, st.Reopen)
		if err != nil {
			log.Warn().Err(err).Msg("Database watcher unavailable")
			return sqlite.NewEpisodeStore(st), nil, nil
		}
		return sqlite.NewEpisodeStore(st), guard, nil

	case config.BackendGORM:
		st, err := gormstore.Open(gormstore.Config{
			SQLitePath: cfg.DBPath,
			MaxConns:   cfg.MaxConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return gormstore.NewEpisodeStore(st), nil, nil

	case config.BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("postgres backend requires postgres_dsn in config")
		}
		st, err := gormstore.Open(gormstore.Config{
			PostgresDSN: cfg.PostgresDSN,
			MaxConns:    cfg.MaxConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return gormstore.NewEpisodeStore(st), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
