package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BobaOrders/internal/config"
	"BobaOrders/internal/db"
	"BobaOrders/internal/events"
	"BobaOrders/internal/gateway"
	internalhttp "BobaOrders/internal/http"
	"BobaOrders/internal/loyalty"
	"BobaOrders/internal/notify"
	"BobaOrders/internal/ratelimit"
	"BobaOrders/internal/services"
	"BobaOrders/internal/store"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.New(pool)
	gw := gateway.NewClient(cfg.Payments.BaseURL, cfg.Payments.APIKey, cfg.Payments.Currency, cfg.PaymentTimeout())

	var mailer notify.Dispatcher = notify.Nop{Logger: logger}
	if cfg.Mail.APIKey != "" {
		mailer = notify.NewMailer(notify.MailerConfig{
			BaseURL:  cfg.Mail.BaseURL,
			APIKey:   cfg.Mail.APIKey,
			From:     cfg.Mail.From,
			ShopName: cfg.Mail.ShopName,
			Timeout:  cfg.MailTimeout(),
			Logger:   logger,
		})
	} else {
		logger.Warn("mail api key not configured, confirmations will be dropped")
	}

	hub := events.NewHub()
	publishers := events.Multi{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Error("kafka producer failed", "brokers", cfg.Kafka.Brokers, "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		publishers = append(publishers, kafka)
	}

	reconciler := &services.Reconciler{
		Gateway:  gw,
		Store:    services.PGOrderStore{Store: st},
		Ledger:   loyalty.Ledger{},
		Notifier: mailer,
		Events:   publishers,
		Logger:   logger,
	}
	orders := services.OrderService{
		Store:       st,
		Gateway:     gw,
		RedirectURL: cfg.Payments.RedirectURL,
		WebhookURL:  cfg.Payments.WebhookURL,
	}

	limiter := &internalhttp.RateLimiter{
		Limit:  cfg.RateLimit.Requests,
		Window: cfg.RateLimitWindow(),
		Logger: logger,
	}
	switch cfg.RateLimit.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		defer rdb.Close()
		limiter.Store = ratelimit.NewRedisStore(rdb, "boba:ratelimit:")
	default:
		mem := ratelimit.NewMemoryStore()
		go mem.RunSweeper(ctx, cfg.RateLimitWindow())
		limiter.Store = mem
	}

	h := internalhttp.NewHandler(reconciler, orders, hub, logger)
	srv := internalhttp.NewServer(h, internalhttp.ServerOptions{Limiter: limiter, TrustProxy: cfg.Server.TrustProxy})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
