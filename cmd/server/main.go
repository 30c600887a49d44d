package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"qrverify/internal/discord"
	"qrverify/internal/platform/config"
	"qrverify/internal/platform/health"
	"qrverify/internal/platform/kafka"
	"qrverify/internal/platform/kafka/producer"
	"qrverify/internal/platform/logger"
	"qrverify/internal/platform/metrics"
	"qrverify/internal/platform/redis"
	httptransport "qrverify/internal/transport/http"
	"qrverify/internal/verification/contact"
	"qrverify/internal/verification/coordinator"
	"qrverify/internal/verification/cooldown"
	"qrverify/internal/verification/fetch"
	"qrverify/internal/verification/membership"
	"qrverify/internal/verification/qrcode"
	"qrverify/internal/verification/roles"
	"qrverify/internal/verification/tracer"
	audit "qrverify/pkg/platform/audit"
	"qrverify/pkg/platform/audit/publisher"
	kafkastore "qrverify/pkg/platform/audit/store/kafka"
	"qrverify/pkg/platform/audit/store/logstore"
)

const (
	auditBufferSize   = 256
	redisStatsPeriod  = 15 * time.Second
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// main wires the verification pipeline to Discord and serves health and
// metrics until SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("bot stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("initializing qrverify",
		"environment", cfg.Environment,
		"health_addr", cfg.HealthAddr,
		"channel_id", cfg.VerifyChannelID,
	)

	m := metrics.New(prometheus.DefaultRegisterer)

	session, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		return err
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close() //nolint:errcheck // process is exiting
		log.Info("redis connected, using shared cooldown and snapshot stores")
	}

	var auditStores audit.Fanout
	auditStores = append(auditStores, logstore.New(log))
	var kafkaProducer *producer.Producer
	if cfg.Kafka.Brokers != "" {
		kafkaProducer, err = producer.New(producer.Config{
			Brokers:         cfg.Kafka.Brokers,
			Acks:            cfg.Kafka.Acks,
			Retries:         3,
			DeliveryTimeout: 10 * time.Second,
		}, log)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer kafkaProducer.Close() //nolint:errcheck // process is exiting
		auditStores = append(auditStores, kafkastore.New(kafkaProducer, cfg.Kafka.Topic))
		log.Info("kafka audit sink enabled", "topic", cfg.Kafka.Topic)
	}
	auditPublisher := publisher.NewPublisher(auditStores,
		publisher.WithAsyncBuffer(auditBufferSize),
		publisher.WithPublisherLogger(log),
	)
	defer auditPublisher.Close()

	fetcher := fetch.New(
		fetch.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout}),
		fetch.WithMaxRetries(cfg.FetchMaxRetries),
		fetch.WithInitialDelay(cfg.FetchInitialDelay),
		fetch.WithLogger(log),
	)

	var snapshots membership.SnapshotCache = membership.NewInMemorySnapshotCache(cfg.DirectoryCacheTTL)
	var cooldowns cooldown.Store = cooldown.NewInMemoryStore()
	if rdb != nil {
		snapshots = membership.NewRedisSnapshotCache(rdb, cfg.DirectoryCacheTTL)
		cooldowns = cooldown.NewRedisStore(rdb)
	}

	verifier := membership.NewVerifier(fetcher,
		membership.WithDirectoryURL(cfg.DirectoryURL),
		membership.WithSnapshotCache(snapshots),
		membership.WithFallbackHook(m.DirectoryFallbacks.Inc),
		membership.WithLogger(log),
	)

	assigner := roles.NewAssigner(discord.NewRoleStore(session), map[string]string{
		roles.RoleMEGAvoter: cfg.MEGAvoterRoleID,
		roles.RolePatron:    cfg.PatronRoleID,
	}, log)

	coord := coordinator.New(
		qrcode.New(qrcode.WithLogger(log)),
		contact.NewQR1Resolver(fetcher,
			contact.WithUserAgent(cfg.ContactUserAgent),
			contact.WithLogger(log),
		),
		verifier,
		assigner,
		coordinator.WithImageLoader(fetcher),
		coordinator.WithCooldown(cooldowns, cfg.Cooldown),
		coordinator.WithAuditEmitter(auditPublisher),
		coordinator.WithMetrics(m),
		coordinator.WithTracer(tracer.NewOTel()),
		coordinator.WithLogger(log),
	)

	handler := discord.NewHandler(session, coord, cfg.VerifyChannelID,
		discord.WithGuildID(cfg.GuildID),
		discord.WithHandlerMetrics(m),
		discord.WithHandlerLogger(log),
	)
	bot := discord.NewBot(session, session, handler, cfg.VerifyChannelID,
		discord.WithBotMetrics(m),
		discord.WithBotLogger(log),
	)

	healthHandler := health.New(cfg.Environment, bot.Status)
	healthHandler.RegisterCheck(bot.Name(), bot.Check)
	if rdb != nil {
		healthHandler.RegisterCheck("redis", rdb.Health)
	}
	if kafkaProducer != nil {
		kafkaHealth := kafka.NewHealthChecker(cfg.Kafka.Brokers, kafka.WithProducer(kafkaProducer))
		healthHandler.RegisterCheck(kafkaHealth.Name(), kafkaHealth.Check)
	}

	srv := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           httptransport.NewRouter(healthHandler, m, prometheus.DefaultGatherer, log),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting health server", "addr", cfg.HealthAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down health server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return bot.Run(ctx)
	})

	if rdb != nil {
		g.Go(func() error {
			rdb.RunPoolStats(ctx, redisStatsPeriod)
			return nil
		})
	}

	return g.Wait()
}
