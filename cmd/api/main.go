package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/idcstack/idc-control-plane/internal/access"
	"github.com/idcstack/idc-control-plane/internal/api"
	"github.com/idcstack/idc-control-plane/internal/auth"
	"github.com/idcstack/idc-control-plane/internal/captcha"
	"github.com/idcstack/idc-control-plane/internal/config"
	"github.com/idcstack/idc-control-plane/internal/jobs"
	"github.com/idcstack/idc-control-plane/internal/logger"
	"github.com/idcstack/idc-control-plane/internal/model"
	"github.com/idcstack/idc-control-plane/internal/order"
	"github.com/idcstack/idc-control-plane/internal/panel"
	"github.com/idcstack/idc-control-plane/internal/payment"
	"github.com/idcstack/idc-control-plane/internal/pricing"
	"github.com/idcstack/idc-control-plane/internal/store"
)

const (
	captchaSweepInterval = time.Minute
	limiterPruneInterval = 5 * time.Minute
	limiterIdle          = 10 * time.Minute
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
	st := store.New(pool)

	pc, err := panel.NewClient(panel.Options{
		BaseURL:      cfg.PanelBaseURL,
		APIKey:       cfg.PanelAPIKey,
		Timeout:      cfg.PanelTimeout,
		PollInterval: cfg.PanelPollInterval,
	})
	if err != nil {
		logr.Fatal("init panel client", zap.Error(err))
	}

	captchaStore, sweep, closeCaptcha, err := newCaptchaStore(ctx, cfg)
	if err != nil {
		logr.Fatal("init captcha store", zap.String("backend", cfg.CaptchaBackend), zap.Error(err))
	}
	defer closeCaptcha()

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	runner := jobs.NewRunner(logr.Named("jobs"))
	runner.Add("rate_limit_prune", limiterPruneInterval, func(ctx context.Context) error {
		if n := limiter.Prune(ctx, limiterIdle); n > 0 {
			logr.Debug("pruned rate limit visitors", zap.Int("count", n))
		}
		return nil
	})
	if sweep != nil {
		runner.Add("captcha_sweep", captchaSweepInterval, sweep)
	}
	runner.Start(ctx)

	gateways, err := newPaymentGateways(cfg)
	if err != nil {
		logr.Fatal("init payment gateways", zap.String("methods", cfg.PaymentMethods), zap.Error(err))
	}

	catalog := pricing.DefaultCatalog()
	orders := order.NewManager(st, pricing.DefaultPlan, catalog)
	handler := api.NewRouter(api.Deps{
		Config:   cfg,
		Logger:   logr.Named("api"),
		Orders:   orders,
		Catalog:  catalog,
		Plan:     pricing.DefaultPlan,
		Panel:    pc,
		Mirror:   st,
		Access:   access.NewBinder(st),
		Captcha:  captcha.NewService(captchaStore, cfg.CaptchaTTL),
		Verifier: auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Limiter:  limiter,
		Payments: payment.NewService(orders, st, gateways, logr.Named("payment")),
		Users:    st,
	})

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// start?wait= holds the response until the instance is running.
		WriteTimeout: cfg.StartWaitMax + cfg.PanelTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logr.Warn("http shutdown", zap.Error(err))
		}
	}()

	logr.Info("idc-control-plane listening", zap.String("addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Fatal("http server", zap.Error(err))
	}
	runner.Wait()
	logr.Info("idc-control-plane stopped")
}

// newCaptchaStore returns the configured backend. The memory backend also
// returns a sweep task; redis expires keys itself.
func newCaptchaStore(ctx context.Context, cfg config.Config) (captcha.Store, jobs.Task, func(), error) {
	switch cfg.CaptchaBackend {
	case "", "memory":
		mem := captcha.NewMemoryStore()
		sweep := func(ctx context.Context) error {
			mem.Sweep(ctx)
			return nil
		}
		return mem, sweep, func() {}, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return captcha.NewRedisStore(rdb), nil, func() { _ = rdb.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown captcha backend %q", cfg.CaptchaBackend)
}

// newPaymentGateways builds one gateway per enabled method. With no methods
// enabled every payment request is rejected as not enabled.
func newPaymentGateways(cfg config.Config) (map[model.PaymentMethod]payment.Gateway, error) {
	out := map[model.PaymentMethod]payment.Gateway{}
	for _, raw := range cfg.EnabledPaymentMethods() {
		m, ok := payment.ParseMethod(raw)
		if !ok {
			return nil, fmt.Errorf("unknown payment method %q", raw)
		}
		gw, err := payment.NewHTTPGateway(m, payment.HTTPGatewayOptions{
			BaseURL:   cfg.PaymentGatewayURL,
			APIKey:    cfg.PaymentGatewayKey,
			NotifyURL: cfg.PaymentNotifyURL,
			Timeout:   cfg.PaymentTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("%s gateway: %w", m, err)
		}
		out[m] = gw
	}
	return out, nil
}
