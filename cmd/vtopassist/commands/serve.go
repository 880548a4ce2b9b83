package commands

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	"vtopassist-backend/lib/configutil"
	"vtopassist-backend/lib/scrapers/vtop/student"
	"vtopassist-backend/services/api"
	"vtopassist-backend/services/vtopsession"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

type StoreConfig struct {
	// Backend is one of "sqlite", "redis" or "memory".
	Backend    string `json:"backend"`
	SqlitePath string `json:"sqlite_path"`
	RedisAddr  string `json:"redis_addr"`
	TTLMinutes int    `json:"ttl_minutes"`
}

type AuthConfig struct {
	SigningKey      string `json:"signing_key"`
	Issuer          string `json:"issuer"`
	TokenTTLMinutes int    `json:"token_ttl_minutes"`
	LoginRatePerMin int    `json:"login_rate_per_min"`
}

type ServeConfig struct {
	Listen   string      `json:"listen"`
	CacheDir string      `json:"cache_dir"`
	Portal   string      `json:"portal"`
	Store    StoreConfig `json:"store"`
	Auth     AuthConfig  `json:"auth"`
}

var serveConfigPath *string

func init() {
	serveConfigPath = serveCmd.Flags().String("config", "config.json5", "Path to the server config.")
	rootCmd.AddCommand(serveCmd)
}

func openStore(ctx context.Context, cfg StoreConfig) (vtopsession.Store, func(), error) {
	ttl := time.Duration(cfg.TTLMinutes) * time.Minute
	switch cfg.Backend {
	case "sqlite":
		path := cfg.SqlitePath
		if path == "" {
			path = "sessions.db"
		}
		database, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, nil, err
		}
		store, err := vtopsession.NewSqliteStore(ctx, database)
		if err != nil {
			database.Close()
			return nil, nil, err
		}
		return store, func() { database.Close() }, nil
	case "redis":
		store := vtopsession.NewRedisStore(cfg.RedisAddr, ttl)
		if !store.Healthy(ctx) {
			slog.Warn("redis is not reachable", "addr", cfg.RedisAddr)
		}
		return store, func() {}, nil
	default:
		return vtopsession.NewMemoryStore(0, ttl), func() {}, nil
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve [--config <path/to/config.json5>]",
	Short: "Serves the portal pipeline over HTTP.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[ServeConfig](*serveConfigPath)
		if err != nil {
			fatalerr("failed to read config", err)
		}
		if cfg.Listen == "" {
			cfg.Listen = "127.0.0.1:8310"
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, closeStore, err := openStore(ctx, cfg.Store)
		if err != nil {
			fatalerr("failed to open session store", err)
		}
		defer closeStore()

		var pageCache *student.PageCache
		if cfg.CacheDir != "" {
			cacheDb, err := badger.Open(badger.DefaultOptions(cfg.CacheDir))
			if err != nil {
				fatalerr("failed to open page cache", err)
			}
			defer cacheDb.Close()
			pageCache = student.NewPageCache(cacheDb, 0)
		}

		sessions := vtopsession.NewService(store, vtopsession.Options{
			BaseURL:   cfg.Portal,
			PageCache: pageCache,
		})
		service := api.NewService(sessions, api.Options{
			SigningKey:      cfg.Auth.SigningKey,
			Issuer:          cfg.Auth.Issuer,
			TokenTTL:        time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute,
			LoginRatePerMin: cfg.Auth.LoginRatePerMin,
		})

		srv := &http.Server{
			Addr:    cfg.Listen,
			Handler: service.Router(),
			// scrapes regularly take whole seconds against the portal
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			slog.Info("listening", "addr", cfg.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fatalerr("http server failed", err)
			}
		}()

		<-ctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("forced shutdown", "err", err.Error())
		}
	},
}
