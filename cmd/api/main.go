package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/admin"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apikey"
	keyrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/apikey/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mailer"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/memstore"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// init logger
	lg, err := utilities.Init(utilities.LogConfig{Level: cfg.LogLevel, Dev: cfg.LogDev, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-auth-go")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// init store
	var (
		users user.Store
		keys  apikey.Store
		ping  func(context.Context) error
	)
	if cfg.DatabaseURL == "" {
		sugar.Warn("DATABASE_URL not set; using in-memory store, data is lost on exit")
		mem := memstore.New()
		users, keys = mem.Users(), mem.Keys()
	} else {
		db, err := database.Connect(database.Config{DSN: cfg.DatabaseURL, TimeZone: cfg.DatabaseTimeZone})
		if err != nil {
			sugar.Fatalf("db connect: %v", err)
		}
		defer db.Close()

		ur, kr := userrepo.NewUserRepo(db), keyrepo.NewKeyRepo(db)
		if err := ur.EnsureTable(ctx); err != nil {
			sugar.Fatalf("ensure users table: %v", err)
		}
		if err := kr.EnsureTable(ctx); err != nil {
			sugar.Fatalf("ensure api_keys table: %v", err)
		}
		users, keys, ping = ur, kr, db.PingContext
	}

	// optional redis for login throttling
	var limiter *ratelimit.Limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			sugar.Fatalf("parse REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		limiter = ratelimit.New(rdb, ratelimit.Config{MaxAttempts: cfg.LoginMaxAttempts, Window: cfg.LoginWindow})
	} else {
		sugar.Info("REDIS_URL not set; login throttling disabled")
	}

	handler, err := build(cfg, sugar, users, keys, limiter, ping)
	if err != nil {
		sugar.Fatalf("wiring: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}

func build(cfg *config.Config, sugar *zap.SugaredLogger, users user.Store, keys apikey.Store, limiter *ratelimit.Limiter, ping func(context.Context) error) (http.Handler, error) {
	secret := []byte(cfg.SecretKey)
	hasher := security.NewHasher(cfg.BcryptCost)

	codec, err := token.NewCodec(token.Config{
		Secret:     secret,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
		VerifyTTL:  cfg.VerifyTokenTTL,
		ResetTTL:   cfg.ResetTokenTTL,
	}, sugar)
	if err != nil {
		return nil, err
	}

	svc, err := user.NewService(users, hasher, codec, mailer.NewLogMailer(cfg.BaseURL, sugar), sugar)
	if err != nil {
		return nil, err
	}
	mgr := apikey.NewManager(keys, users, cfg.APIKeyPrefix, sugar)
	gate := auth.NewGate(auth.NewResolver(codec, users, sugar), mgr, sugar)

	backend, err := admin.NewBackend(users, hasher, admin.Config{Secret: secret, TTL: cfg.AdminSessionTTL}, sugar)
	if err != nil {
		return nil, err
	}

	return router.New(router.Deps{
		Logger:  sugar,
		IDs:     utilities.NewIDGenerator(cfg.SnowflakeNode),
		Gate:    gate,
		Users:   user.NewHandler(svc, limiter, sugar),
		APIKeys: apikey.NewHandler(mgr, sugar),
		Admin:   admin.NewHandler(backend, limiter, sugar),
		Ping:    ping,
	}), nil
}
