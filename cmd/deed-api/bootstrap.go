package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/DeedBox/config"
	"github.com/BearBump/DeedBox/internal/broker/kafka"
	"github.com/BearBump/DeedBox/internal/cache/rediscache"
	"github.com/BearBump/DeedBox/internal/integrations/payment"
	paymentfake "github.com/BearBump/DeedBox/internal/integrations/payment/fake"
	"github.com/BearBump/DeedBox/internal/integrations/payment/stripeapi"
	"github.com/BearBump/DeedBox/internal/services/orders"
	"github.com/BearBump/DeedBox/internal/services/payments"
	"github.com/BearBump/DeedBox/internal/storage/pgorders"
)

type deedAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     deedAPIOpts
	orders   *orders.Service
	payments *payments.Coordinator
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapDeedAPI() *deedAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.DeedBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.DeedBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "deed-api"
	}
	topic := cfg.Kafka.OrderUpdatedTopicName
	if topic == "" {
		topic = "order.updated"
	}

	cacheTTL := time.Duration(cfg.DeedBox.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	st := mustOpenPostgresWithRetry(postgresConnString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	ordersSvc := orders.New(st, rc, cacheTTL)
	paySvc := payments.New(st, newPaymentClient(cfg))

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &deedAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: deedAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		orders:   ordersSvc,
		payments: paySvc,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

func postgresConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

// newPaymentClient выбирает провайдера. Ключ Stripe берётся только из env:
// без него молча падать в fake нельзя, оплата уйдёт в никуда.
func newPaymentClient(cfg *config.Config) payment.Client {
	if cfg.DeedBox.PaymentProvider == "stripe" {
		apiKey := os.Getenv("STRIPE_API_KEY")
		if apiKey == "" {
			panic("STRIPE_API_KEY env var is required for payment_provider=stripe")
		}
		return stripeapi.New(apiKey)
	}
	return paymentfake.New()
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgorders.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgorders.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *deedAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *deedAPIApp) Run() error {
	return runDeedAPI(a.ctx, a.opts, a.orders, a.payments, a.consumer)
}
