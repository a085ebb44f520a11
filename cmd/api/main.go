package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"steeple.org/internal/auth"
	"steeple.org/internal/authz"
	"steeple.org/internal/config"
	"steeple.org/internal/httpapi"
	"steeple.org/internal/obs"
	"steeple.org/internal/rbac"
	"steeple.org/internal/store/memory"
	"steeple.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()

	cfg, err := config.Load(".", "/etc/steeple")
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit, len(authz.AllPermissions()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres when a DSN is set, otherwise an in-memory store for local runs
	var (
		store rbac.Store
		ready httpapi.ReadyProbe
	)
	if cfg.Database.DSN != "" {
		pgStore, err := pg.Open(cfg.Database.DSN,
			pg.WithMaxOpenConns(cfg.Database.MaxOpenConns),
			pg.WithConnMaxLifetime(cfg.Database.ConnMaxLifetime),
		)
		if err != nil {
			log.WithError(err).Fatal("open db")
		}
		defer pgStore.Close()
		store = pgStore
		ready = httpapi.ReadyProbe{DB: pgStore}
	} else {
		mem := memory.New()
		if err := mem.SeedBuiltInSiteRoles(ctx); err != nil {
			log.WithError(err).Fatal("seed site roles")
		}
		store = mem
		log.Warn("no database configured, using in-memory store")
	}

	loader := rbac.NewLoader(store, cfg.RoleCache.Size, cfg.RoleCache.TTL)
	svc, err := rbac.NewService(store, rbac.WithInvalidator(loader))
	if err != nil {
		log.WithError(err).Fatal("rbac service")
	}

	opts := []httpapi.Option{
		httpapi.WithReadiness(ready),
		httpapi.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithCORSOrigins(cfg.CORSOrigins...),
	}
	if cfg.Auth.Enabled {
		verifier, err := auth.NewVerifier(cfg.Auth.Issuer, cfg.Auth.Secret, auth.WithClockSkew(cfg.Auth.ClockSkew))
		if err != nil {
			log.WithError(err).Fatal("token verifier")
		}
		opts = append(opts, httpapi.WithVerifier(verifier))
	} else {
		log.Warn("authentication disabled, every request is anonymous")
	}
	api := httpapi.New(svc, loader, version, opts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewGRPCHealth(ready)
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	go health.Watch(ctx, 10*time.Second)

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.WithError(err).Fatal("grpc listen")
		}
		go func() {
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.WithError(err).Error("grpc serve")
			}
		}()
	}

	log.WithFields(logrus.Fields{
		"version":   version,
		"http_addr": srv.Addr,
		"grpc_addr": cfg.GRPCAddr,
	}).Info("starting steeple-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	log.Info("stopped")
}
