package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"warden.dev/internal/audit"
	"warden.dev/internal/auth"
	"warden.dev/internal/cache"
	"warden.dev/internal/config"
	"warden.dev/internal/httpapi"
	"warden.dev/internal/obs"
	"warden.dev/internal/store/pg"
	"warden.dev/internal/sweeper"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.SetupTracing(ctx, "warden-api", version, cfg.TraceExporter)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(tctx)
	}()

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer func() { _ = store.Close() }()

	var sessionCache *cache.SessionCache
	probe := httpapi.ReadyProbe{DB: store.DB()}
	if cfg.RedisURL != "" {
		var rdb *redis.Client
		rdb, err = cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer func() { _ = rdb.Close() }()
		sessionCache, err = cache.NewSessionCache(rdb, cfg.SessionCacheTTL)
		if err != nil {
			log.Fatalf("session cache: %v", err)
		}
		probe.Cache = sessionCache
	}

	api, sweep, err := build(cfg, store, sessionCache, probe)
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Log(ctx, "info", "starting warden-api", map[string]any{"version": version, "addr": srv.Addr})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return sweep.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		obs.Log(context.Background(), "info", "shutting down", nil)
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		obs.Log(context.Background(), "error", "server stopped", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	obs.Log(context.Background(), "info", "stopped", nil)
}

// build wires the domain services over store. sessionCache may be nil.
func build(cfg config.Config, store *pg.Store, sessionCache *cache.SessionCache, probe httpapi.ReadyProbe) (*httpapi.API, *sweeper.Sweeper, error) {
	codec, err := auth.NewTokenCodec(cfg.JWTSecret,
		auth.WithIssuer(cfg.JWTIssuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		return nil, nil, err
	}
	recorder := audit.NewRecorder(store.Audit())

	engineOpts := []auth.EngineOption{auth.WithAuditRecorder(recorder)}
	dirOpts := []auth.DirectoryOption{auth.WithDefaultRole(cfg.DefaultRole), auth.WithDirectoryAudit(recorder)}
	if sessionCache != nil {
		engineOpts = append(engineOpts, auth.WithSessionCache(sessionCache))
		dirOpts = append(dirOpts, auth.WithDirectoryCache(sessionCache))
	}

	engine, err := auth.NewEngine(store, codec, engineOpts...)
	if err != nil {
		return nil, nil, err
	}
	directory, err := auth.NewDirectory(store, dirOpts...)
	if err != nil {
		return nil, nil, err
	}
	admin, err := auth.NewRoleAdmin(store, recorder)
	if err != nil {
		return nil, nil, err
	}
	audits, err := audit.NewService(store.Audit())
	if err != nil {
		return nil, nil, err
	}

	api, err := httpapi.New(httpapi.Services{
		Engine:    engine,
		Directory: directory,
		Admin:     admin,
		Audit:     audits,
		Recorder:  recorder,
	}, probe, httpapi.Config{
		Version:      version,
		CORSOrigins:  cfg.CORSOrigins,
		MaxBodyBytes: cfg.MaxBodyBytes,
		RateBurst:    cfg.RateBurst,
		RatePerSec:   cfg.RatePerSec,
	})
	if err != nil {
		return nil, nil, err
	}

	sweep, err := sweeper.New(store.Sessions(), cfg.SweepInterval, sweeper.WithAuditRetention(audits, cfg.AuditRetention))
	if err != nil {
		return nil, nil, err
	}
	return api, sweep, nil
}
