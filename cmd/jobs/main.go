package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/idcstack/idc-control-plane/internal/config"
	"github.com/idcstack/idc-control-plane/internal/jobs"
	"github.com/idcstack/idc-control-plane/internal/logger"
	"github.com/idcstack/idc-control-plane/internal/panel"
	"github.com/idcstack/idc-control-plane/internal/store"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logr, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logr.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logr.Fatal("connect db", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logr.Fatal("ping db", zap.Error(err))
	}

	pc, err := panel.NewClient(panel.Options{
		BaseURL:      cfg.PanelBaseURL,
		APIKey:       cfg.PanelAPIKey,
		Timeout:      cfg.PanelTimeout,
		PollInterval: cfg.PanelPollInterval,
	})
	if err != nil {
		logr.Fatal("init panel client", zap.Error(err))
	}

	st := store.New(pool)
	runner := jobs.NewRunner(logr.Named("jobs")).
		Add("instance_mirror_sync", cfg.MirrorSyncInterval, jobs.SyncInstanceMirror(pc, st))
	runner.Start(ctx)

	logr.Info("idc-jobs worker started", zap.Duration("mirror_sync_interval", cfg.MirrorSyncInterval))
	<-ctx.Done()
	logr.Info("idc-jobs worker stopping")
	runner.Wait()
}
