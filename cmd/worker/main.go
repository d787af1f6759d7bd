package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"BobaOrders/internal/config"
	"BobaOrders/internal/db"
	"BobaOrders/internal/events"
	"BobaOrders/internal/gateway"
	"BobaOrders/internal/loyalty"
	"BobaOrders/internal/notify"
	"BobaOrders/internal/services"
	"BobaOrders/internal/store"
	"BobaOrders/internal/worker"
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
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Error("kafka producer failed", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		publisher = kafka
	}

	w := &worker.Worker{
		Store: st,
		Reconciler: &services.Reconciler{
			Gateway:  gateway.NewClient(cfg.Payments.BaseURL, cfg.Payments.APIKey, cfg.Payments.Currency, cfg.PaymentTimeout()),
			Store:    services.PGOrderStore{Store: st},
			Ledger:   loyalty.Ledger{},
			Notifier: mailer,
			Events:   publisher,
			Logger:   logger,
		},
		Logger:    logger,
		Interval:  cfg.WorkerInterval(),
		MinAge:    cfg.WorkerMinAge(),
		BatchSize: cfg.Worker.BatchSize,
	}

	logger.Info("worker started", "interval", cfg.WorkerInterval().String(), "min_age", cfg.WorkerMinAge().String())
	w.Run(ctx)
}
