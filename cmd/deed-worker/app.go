package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/BearBump/DeedBox/config"
	"github.com/BearBump/DeedBox/internal/broker/kafka"
	"github.com/BearBump/DeedBox/internal/cache/rediscache"
	"github.com/BearBump/DeedBox/internal/integrations/mailer"
	mailfake "github.com/BearBump/DeedBox/internal/integrations/mailer/fake"
	"github.com/BearBump/DeedBox/internal/integrations/mailer/smtpmail"
	"github.com/BearBump/DeedBox/internal/integrations/portal"
	portalfake "github.com/BearBump/DeedBox/internal/integrations/portal/fake"
	"github.com/BearBump/DeedBox/internal/integrations/portal/portalchrome"
	"github.com/BearBump/DeedBox/internal/services/fulfiller"
	"github.com/BearBump/DeedBox/internal/services/notifier"
	"github.com/BearBump/DeedBox/internal/storage/gcsartifacts"
	"github.com/BearBump/DeedBox/internal/storage/pgorders"
)

type workerFactories struct {
	newStorage      func(cfg *config.Config) (repo fulfiller.Repository, closeFn func(), err error)
	newArtifacts    func(ctx context.Context, cfg *config.Config) (fulfiller.Artifacts, func(), error)
	newProducer     func(cfg *config.Config) fulfiller.Producer
	newRateLimiter  func(cfg *config.Config) fulfiller.RateLimiter
	newPortalClient func(cfg *config.Config) portal.Client
	newMailSender   func(cfg *config.Config) mailer.Sender
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (fulfiller.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgorders.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newArtifacts: func(ctx context.Context, cfg *config.Config) (fulfiller.Artifacts, func(), error) {
			pub, err := gcsartifacts.New(ctx, cfg.DeedBox.GCSBucket, cfg.DeedBox.GCSPublicBaseURL)
			if err != nil {
				return nil, nil, err
			}
			return pub, func() { _ = pub.Close() }, nil
		},
		newProducer: func(cfg *config.Config) fulfiller.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) fulfiller.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newPortalClient: func(cfg *config.Config) portal.Client {
			// Для дев-окружения без Chrome портал эмулируется через fake.
			if cfg.DeedBox.PortalMode != "chrome" || cfg.DeedBox.PortalBaseURL == "" {
				return portalfake.New()
			}
			headless := true
			if cfg.DeedBox.PortalHeadless != nil {
				headless = *cfg.DeedBox.PortalHeadless
			}
			navTimeout := time.Duration(cfg.DeedBox.PortalNavTimeoutSeconds) * time.Second
			readyTimeout := time.Duration(cfg.DeedBox.PortalReadyTimeoutSeconds) * time.Second
			return portalchrome.New(cfg.DeedBox.PortalBaseURL, headless, navTimeout, readyTimeout)
		},
		newMailSender: func(cfg *config.Config) mailer.Sender {
			if cfg.DeedBox.MailMode != "smtp" || cfg.DeedBox.SMTPHost == "" {
				return mailfake.New()
			}
			return smtpmail.New(cfg.DeedBox.SMTPHost, cfg.DeedBox.SMTPPort,
				cfg.DeedBox.SMTPUsername, os.Getenv("SMTP_PASSWORD"))
		},
	}
}

func newFulfiller(ctx context.Context, cfg *config.Config, f workerFactories) (*fulfiller.Fulfiller, func(), error) {
	topic := cfg.Kafka.OrderUpdatedTopicName
	if topic == "" {
		topic = "order.updated"
	}

	repo, closeDB, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	artifacts, closeArtifacts, err := f.newArtifacts(ctx, cfg)
	if err != nil {
		if closeDB != nil {
			closeDB()
		}
		return nil, nil, err
	}

	closeAll := func() {
		if closeArtifacts != nil {
			closeArtifacts()
		}
		if closeDB != nil {
			closeDB()
		}
	}

	sender := f.newMailSender(cfg)
	notif := notifier.New(sender, cfg.DeedBox.MailFrom, cfg.DeedBox.OpsEmail)

	ful := fulfiller.New(
		repo,
		f.newPortalClient(cfg),
		artifacts,
		f.newProducer(cfg),
		f.newRateLimiter(cfg),
		notif,
		topic,
	).WithSettings(
		time.Duration(cfg.DeedBox.WorkerPollIntervalSeconds)*time.Second,
		cfg.DeedBox.WorkerBatchSize,
		cfg.DeedBox.WorkerConcurrency,
		time.Duration(cfg.DeedBox.WorkerLeaseSeconds)*time.Second,
		int64(cfg.DeedBox.WorkerRateLimitPerMinute),
		int32(cfg.DeedBox.WorkerMaxAutoAttempts),
	).WithPlanner(fulfiller.PlannerConfig{
		Backoff1: time.Duration(cfg.DeedBox.WorkerBackoff1Seconds) * time.Second,
		Backoff2: time.Duration(cfg.DeedBox.WorkerBackoff2Seconds) * time.Second,
		Backoff3: time.Duration(cfg.DeedBox.WorkerBackoff3Seconds) * time.Second,
		Backoff4: time.Duration(cfg.DeedBox.WorkerBackoff4Seconds) * time.Second,
	})

	return ful, closeAll, nil
}

func RunDeedWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	ful, closeAll, err := newFulfiller(ctx, cfg, f)
	if err != nil {
		return err
	}
	defer closeAll()

	return ful.Run(ctx)
}
