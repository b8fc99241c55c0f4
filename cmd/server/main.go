// Command server runs the zonepilot migration pipeline: the HTTP API, the
// audit worker, and the zone activation poller. main wires dependencies and
// owns the process lifecycle; business logic lives in internal packages.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"zonepilot/internal/edge"
	httpapi "zonepilot/internal/http"
	"zonepilot/internal/jwttoken"
	"zonepilot/internal/migration"
	"zonepilot/internal/notify"
	"zonepilot/internal/platform/config"
	"zonepilot/internal/platform/httpserver"
	"zonepilot/internal/platform/logger"
	"zonepilot/internal/platform/metrics"
	"zonepilot/internal/platform/postgres"
	platformredis "zonepilot/internal/platform/redis"
	"zonepilot/internal/ratelimit"
	"zonepilot/internal/registrar"
	"zonepilot/internal/verification"
	"zonepilot/internal/zonequeue"
	"zonepilot/pkg/platform/audit"
	"zonepilot/pkg/secrets"
)

const auditInboxSize = 256

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New(logger.ParseLevel(cfg.LogLevel))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	if cfg.JWTSigningKey == "" {
		return errors.New("ZONEPILOT_JWT_SIGNING_KEY is required")
	}

	registrarCreds, edgeCreds, err := unsealCredentials(cfg)
	if err != nil {
		return err
	}

	registrarClient, err := registrar.NewClient(cfg.Registrar.APIURL, registrarCreds,
		registrar.WithLogger(log))
	if err != nil {
		return fmt.Errorf("build registrar client: %w", err)
	}
	edgeClient, err := edge.NewClient(cfg.Edge.APIURL, edgeCreds,
		edge.WithLogger(log))
	if err != nil {
		return fmt.Errorf("build edge client: %w", err)
	}

	// Audit pipeline: publisher -> inbox -> worker -> postgres (+ kafka).
	inbox := make(chan audit.Event, auditInboxSize)
	auditor := audit.NewPublisher(inbox, log)
	worker := audit.NewWorker(audit.NewPostgresStore(db), inbox, log)

	var kafkaSink *audit.KafkaSink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err = audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer kafkaSink.Close()
		worker = worker.WithSink(kafkaSink)
	}

	verifySvc, err := verification.New(
		verification.NewPostgresStore(db),
		verification.NewNetResolver(cfg.Verification.DNSTimeout),
		cfg.Verification.Label,
		cfg.Verification.ChallengeTTL,
		verification.WithLogger(log),
		verification.WithAuditPublisher(auditor),
	)
	if err != nil {
		return fmt.Errorf("build verification service: %w", err)
	}

	notifier := notify.NewLogNotifier(log)

	queue, err := zonequeue.New(
		zonequeue.NewPostgresStore(db),
		edgeClient,
		zonequeue.WithCeiling(cfg.Queue.PendingCeiling),
		zonequeue.WithPollInterval(cfg.Queue.PollInterval),
		zonequeue.WithActivationTimeout(cfg.Queue.ActivationTimeout),
		zonequeue.WithAuditPublisher(auditor),
		zonequeue.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("build zone queue: %w", err)
	}

	migrateSvc, err := migration.New(
		migration.NewPostgresStore(db),
		registrarClient,
		edgeClient,
		verifySvc,
		queue,
		migration.WithLogger(log),
		migration.WithAuditPublisher(auditor),
		migration.WithNotifier(notifier),
		migration.WithProber(migration.NewNetProber(
			cfg.Verify.DNSTimeout, cfg.Verify.HTTPTimeout, cfg.Verify.ProbeRetries)),
		migration.WithFreshness(cfg.Verification.Freshness),
	)
	if err != nil {
		return fmt.Errorf("build migration service: %w", err)
	}

	// The queue hands created zones back to the orchestrator to finish the
	// cutover, and reports activation outcomes.
	queueOpts := zonequeue.WithListener(migrateSvc)
	queueOpts(queue)

	var limiterStore ratelimit.Store = ratelimit.NewMemoryStore()
	if redisClient != nil {
		limiterStore = ratelimit.NewRedisStore(redisClient.Client)
	}
	limiter, err := ratelimit.New(limiterStore,
		cfg.RateLimit.MutatingPerWindow, cfg.RateLimit.Window,
		ratelimit.WithLogger(log),
		ratelimit.WithAuditPublisher(auditor),
	)
	if err != nil {
		return fmt.Errorf("build rate limiter: %w", err)
	}

	deps := httpapi.Deps{
		Verification: verification.NewHandler(verifySvc),
		Migration:    migration.NewHandler(migrateSvc),
		JWTValidator: jwttoken.NewService(cfg.JWTSigningKey),
		RateLimiter:  limiter,
		Metrics:      metrics.New(),
		Logger:       log,
		DB:           httpapi.PingerFunc(db.PingContext),
	}
	if redisClient != nil {
		deps.Redis = httpapi.PingerFunc(redisClient.Health)
	}

	srv := httpserver.New(cfg.Addr, httpapi.NewRouter(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := worker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return queue.Run(gctx)
	})
	g.Go(func() error {
		log.Info("zonepilot listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// unsealCredentials decrypts the registrar and edge provider credentials
// stored in configuration.
func unsealCredentials(cfg config.Config) (registrar.Credentials, edge.Credentials, error) {
	var (
		regCreds  registrar.Credentials
		edgeCreds edge.Credentials
	)

	key, err := secrets.ParseKey(cfg.SealingKey)
	if err != nil {
		return regCreds, edgeCreds, fmt.Errorf("ZONEPILOT_SEALING_KEY: %w", err)
	}

	regJSON, err := unseal(key, cfg.Registrar.CredentialsBlob)
	if err != nil {
		return regCreds, edgeCreds, fmt.Errorf("ZONEPILOT_REGISTRAR_CREDENTIALS: %w", err)
	}
	if regCreds, err = registrar.ParseCredentials(regJSON); err != nil {
		return regCreds, edgeCreds, fmt.Errorf("registrar credentials: %w", err)
	}

	edgeJSON, err := unseal(key, cfg.Edge.CredentialsBlob)
	if err != nil {
		return regCreds, edgeCreds, fmt.Errorf("ZONEPILOT_EDGE_CREDENTIALS: %w", err)
	}
	if edgeCreds, err = edge.ParseCredentials(edgeJSON); err != nil {
		return regCreds, edgeCreds, fmt.Errorf("edge credentials: %w", err)
	}
	return regCreds, edgeCreds, nil
}

func unseal(key secrets.Key, blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	return secrets.Decrypt(key, raw)
}
