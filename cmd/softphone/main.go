package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"softphone/internal/audit"
	"softphone/internal/auth"
	"softphone/internal/config"
	"softphone/internal/presence"
	"softphone/internal/softphone"
	"softphone/internal/voice"
	"softphone/pkg/logger"
	"softphone/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	var db *sql.DB
	if cfg.HasDB() {
		db, err = utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	var rdb *redis.Client
	if cfg.HasRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	app, err := buildDeps(cfg, log, db, rdb)
	if err != nil {
		log.Error("softphone init failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, cfg, app, authManager)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: the event stream stays open for the life of the page.
		IdleTimeout: 60 * time.Second,
		// Request contexts end on shutdown so open event streams return.
		BaseContext: func(net.Listener) context.Context { return rootCtx },
	}

	go func() {
		log.Info("softphone listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := app.phones.Close(); err != nil {
		log.Error("phone teardown failed", "err", err)
	}
}

// deps are the long-lived services shared by all requests.
type deps struct {
	phones   *softphone.Registry
	journal  *audit.Service
	presence presence.Store
}

func buildDeps(cfg config.Config, log *slog.Logger, db *sql.DB, rdb *redis.Client) (deps, error) {
	var repo audit.Repository = audit.NewMemoryRepo()
	if db != nil {
		pg, err := audit.NewPostgresRepo(db)
		if err != nil {
			return deps{}, err
		}
		repo = pg
	}
	journal := audit.NewService(repo)

	var (
		store  presence.Store
		leaser presence.Leaser = presence.NewMemoryLeaser()
	)
	if rdb != nil {
		store = rdb
		leaser = presence.NewRedisLeaser(rdb)
	}

	tokens, err := softphone.NewTokenFetcher(cfg.Softphone.TokenURL, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return deps{}, err
	}
	gateway := &voice.Factory{GatewayURL: cfg.Softphone.GatewayURL, Logger: log}

	codecs := make([]softphone.Codec, len(cfg.Softphone.Codecs))
	for i, c := range cfg.Softphone.Codecs {
		codecs[i] = softphone.Codec(c)
	}
	opts := softphone.DeviceOptions{Edge: cfg.Softphone.Edge, CodecPreferences: codecs}

	newPhone := func(ctx context.Context, id softphone.Identity) (*softphone.Phone, error) {
		plog := log.With("identity", id.String())
		p, err := softphone.New(softphone.Config{
			Tokens: tokens,
			Devices: &presence.LeasedFactory{
				Next:     gateway,
				Leaser:   leaser,
				Identity: id,
				TTL:      cfg.Softphone.LeaseTTL,
				Logger:   plog,
			},
			Options: opts,
			Logger:  plog,
		})
		if err != nil {
			return nil, err
		}
		workspaceID, err := auth.WorkspaceID(ctx)
		if err != nil {
			return nil, err
		}
		p.Observe(audit.NewRecorder(journal, workspaceID, plog))
		if store != nil {
			p.Observe(presence.NewPublisher(store, cfg.Softphone.PresenceTTL, plog))
		}
		return p, nil
	}

	return deps{
		phones:   softphone.NewRegistry(newPhone),
		journal:  journal,
		presence: store,
	}, nil
}
