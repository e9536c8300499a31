package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"emailissuer/internal/credential"
	"emailissuer/internal/mail"
	"emailissuer/internal/mailverify/handler"
	mvmetrics "emailissuer/internal/mailverify/metrics"
	"emailissuer/internal/mailverify/ports"
	mvservice "emailissuer/internal/mailverify/service"
	"emailissuer/internal/mailverify/store/code"
	"emailissuer/internal/platform/config"
	"emailissuer/internal/platform/postgres"
	"emailissuer/internal/platform/redis"
	rlmetrics "emailissuer/internal/ratelimit/metrics"
	rlmodels "emailissuer/internal/ratelimit/models"
	rlports "emailissuer/internal/ratelimit/ports"
	rlservice "emailissuer/internal/ratelimit/service"
	"emailissuer/internal/ratelimit/store/bucket"
	"emailissuer/internal/ratelimit/throttle"
	"emailissuer/pkg/platform/audit/publisher"
	"emailissuer/pkg/platform/audit/store/kafka"
	"emailissuer/pkg/platform/audit/store/logsink"
	auditmemory "emailissuer/pkg/platform/audit/store/memory"
	auditpg "emailissuer/pkg/platform/audit/store/postgres"
	"emailissuer/pkg/platform/circuit"
)

// app owns the wired services and the resources they hold.
type app struct {
	handler *handler.Handler
	audit   *publisher.Publisher
	log     *slog.Logger

	memBuckets  *bucket.InMemoryBucketStore
	memCodes    *code.InMemoryStore
	limitWindow time.Duration

	closers []func() error
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{log: log, limitWindow: cfg.LimitWindow}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	auditStore, err := a.buildAuditStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.audit = publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(cfg.AuditBuffer),
		publisher.WithLogger(log),
	)

	limiterMetrics := rlmetrics.New()
	a.memBuckets = bucket.NewInMemoryBucketStore()
	var buckets rlports.BucketStore = a.memBuckets
	var codes ports.CodeStore
	var handlerOpts []handler.Option

	switch cfg.StorageType {
	case config.StorageRedis:
		client, err := redis.New(ctx, cfg.Redis())
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		handlerOpts = append(handlerOpts, handler.WithHealthCheck("redis", client.Health))

		primary := bucket.NewRedisBucketStore(client.Client, bucket.WithKeyPrefix(cfg.RedisNamespace))
		buckets = bucket.NewResilientStore(primary, a.memBuckets,
			bucket.WithBreaker(circuit.New("redis-limiter",
				circuit.WithFailureThreshold(cfg.BreakerFailures),
				circuit.WithSuccessThreshold(cfg.BreakerSuccesses),
			)),
			bucket.WithMetrics(limiterMetrics),
			bucket.WithLogger(log),
		)
		codes = code.NewRedisStore(client.Client, code.WithNamespace(cfg.RedisNamespace))
	default:
		a.memCodes = code.NewInMemoryStore()
		codes = a.memCodes
	}

	window := cfg.LimitWindow
	limiter, err := rlservice.New(buckets,
		rlservice.WithLogger(log),
		rlservice.WithAuditPublisher(a.audit),
		rlservice.WithMetrics(limiterMetrics),
		rlservice.WithConfig(&rlservice.Config{
			Email:  rlmodels.Policy{Limit: cfg.EmailLimit, Window: window},
			IP:     rlmodels.Policy{Limit: cfg.IPLimit, Window: window},
			Verify: rlmodels.Policy{Limit: cfg.VerifyLimit, Window: window},
		}),
	)
	if err != nil {
		return nil, err
	}

	mailer, err := buildMailer(cfg, log)
	if err != nil {
		return nil, err
	}

	key, err := credential.LoadPrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	signer, err := credential.NewSigner(credential.Config{
		IssuerID:        cfg.IssuerID,
		CredentialType:  cfg.CredentialType,
		EmailAttribute:  cfg.EmailAttribute,
		DomainAttribute: cfg.DomainAttr,
	}, key)
	if err != nil {
		return nil, err
	}

	svc, err := mvservice.New(codes, limiter, mailer, signer,
		mvservice.WithLogger(log),
		mvservice.WithAuditPublisher(a.audit),
		mvservice.WithMetrics(mvmetrics.New()),
		mvservice.WithConfig(mvservice.Config{
			BaseURL:     cfg.BaseURL,
			SessionURL:  cfg.SessionURL,
			CodeLength:  cfg.CodeLength,
			CodeTTL:     cfg.CodeTTL,
			VerifiedTTL: cfg.VerifiedTTL,
			AllowedTLDs: cfg.TLDList(),
		}),
	)
	if err != nil {
		return nil, err
	}

	gate := throttle.New(cfg.ThrottleRPS, cfg.ThrottleBurst,
		throttle.WithLogger(log),
		throttle.WithMetrics(limiterMetrics),
		throttle.WithDisabled(cfg.DisableThrottle),
	)
	handlerOpts = append(handlerOpts, handler.WithThrottle(gate.Middleware))
	a.handler = handler.New(svc, log, handlerOpts...)

	ok = true
	return a, nil
}

func (a *app) buildAuditStore(ctx context.Context, cfg *config.Config) (publisher.Store, error) {
	switch cfg.AuditSink {
	case config.AuditMemory:
		return auditmemory.NewInMemoryStore(), nil
	case config.AuditPostgres:
		if err := postgres.Migrate(cfg.DatabaseURL, "up"); err != nil {
			return nil, fmt.Errorf("migrate audit schema: %w", err)
		}
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return auditpg.New(db), nil
	case config.AuditKafka:
		client, err := kafka.NewClient(cfg.KafkaBrokerList(), cfg.KafkaAuditTopic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeKafka(client))
		return kafka.New(client, cfg.KafkaAuditTopic), nil
	default:
		return logsink.New(a.log), nil
	}
}

func buildMailer(cfg *config.Config, log *slog.Logger) (ports.Mailer, error) {
	renderer, err := mail.NewRenderer(cfg.Location())
	if err != nil {
		return nil, fmt.Errorf("load mail templates: %w", err)
	}
	if cfg.SMTPHost == "" {
		log.Warn("SMTP_HOST not set, mails are logged instead of sent")
		return mail.NewLogMailer(renderer, log), nil
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, renderer), nil
}

func closeKafka(client *kgo.Client) func() error {
	return func() error {
		client.Close()
		return nil
	}
}

// sweep drops expired in-memory entries until ctx is done.
func (a *app) sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := a.memBuckets.Sweep(a.limitWindow)
			if a.memCodes != nil {
				removed += a.memCodes.Sweep()
			}
			if removed > 0 {
				a.log.Debug("swept expired entries", "removed", removed)
			}
		}
	}
}

// Close drains the audit buffer before releasing connections, so queued
// events reach their sink.
func (a *app) Close() {
	if a.audit != nil {
		a.audit.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close resource", "error", err)
		}
	}
	a.closers = nil
}
