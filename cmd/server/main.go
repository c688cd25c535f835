package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"

	"orphan-recovery/internal/audit"
	auditrepo "orphan-recovery/internal/audit/repository"
	"orphan-recovery/internal/config"
	"orphan-recovery/internal/db"
	"orphan-recovery/internal/devcode"
	healthpkg "orphan-recovery/internal/health"
	healthhandler "orphan-recovery/internal/health/handler"
	identitygateway "orphan-recovery/internal/identity/gateway"
	identityhandler "orphan-recovery/internal/identity/handler"
	identityservice "orphan-recovery/internal/identity/service"
	"orphan-recovery/internal/lock"
	lockrepo "orphan-recovery/internal/lock/repository"
	"orphan-recovery/internal/mail"
	membershiprepo "orphan-recovery/internal/membership/repository"
	"orphan-recovery/internal/orphan"
	"orphan-recovery/internal/platform/logger"
	"orphan-recovery/internal/platform/task"
	policyengine "orphan-recovery/internal/policy/engine"
	profilerepo "orphan-recovery/internal/profile/repository"
	recoveryhandler "orphan-recovery/internal/recovery/handler"
	recoveryservice "orphan-recovery/internal/recovery/service"
	"orphan-recovery/internal/security"
	"orphan-recovery/internal/server"
	"orphan-recovery/internal/telemetry"
	telemetryotel "orphan-recovery/internal/telemetry/otel"
	"orphan-recovery/internal/telemetry/producer"
	"orphan-recovery/internal/verification"
	coderepo "orphan-recovery/internal/verification/repository"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL must be set")
	}

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()

	log := logger.New(cfg.ServiceName, providers.Enabled)
	slog.SetDefault(log)
	log.InfoContext(ctx, "configuration loaded",
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"store_backend", cfg.StoreBackend,
		"env", cfg.Env,
		"otel_enabled", providers.Enabled)

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	var rdb *redis.Client
	if cfg.StoreBackend == config.StoreBackendRedis {
		rdb, err = db.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()
	}
	lockStore, codeStore := stores(cfg, pool, rdb)

	kratos := identitygateway.NewKratosGateway(cfg.KratosPublicURL, cfg.KratosAdminURL, cfg.KratosRequestTimeout())

	policy, err := policyengine.NewOPAEvaluator(ctx, cfg.DegradedPolicyFile, log)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	profiles := profilerepo.NewPostgresRepository(pool)
	memberships := membershiprepo.NewPostgresRepository(pool)
	classifier := orphan.NewClassifier(
		profiles,
		memberships,
		orphan.WithAttemptTimeout(cfg.AttemptTimeout()),
		orphan.WithMaxAttempts(cfg.ClassifierMaxAttempts),
		orphan.WithLogger(log),
		orphan.WithMeter(otel.GetMeterProvider().Meter("orphan-recovery/orphan")),
	)

	var devCodes devcode.Store
	var sender recoveryservice.CodeSender
	if cfg.CodeReturnToClient && !cfg.IsProduction() {
		devCodes = devcode.NewMemoryStore()
		sender = mail.NewDevSender(devCodes, log)
	} else {
		if cfg.SMTPHost == "" {
			return errors.New("config: SMTP_HOST must be set unless CODE_RETURN_TO_CLIENT=true")
		}
		sender = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Pass:     cfg.SMTPPass,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})
	}

	emitters := telemetry.MultiEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		defer kafkaProducer.Close()
	}

	cleanup := recoveryservice.NewCleanupService(
		kratos,
		lock.NewManager(lockStore, cfg.LockTTL(), log),
		codeStore,
		classifier,
		[]recoveryservice.CompanionStore{profiles, memberships},
		sender,
		audit.NewLogger(auditrepo.NewPostgresRepository(pool), log),
		emitters,
		recoveryservice.Config{
			CodeTTL:             cfg.CodeTTL(),
			MaxCodeAttempts:     cfg.MaxCodeAttempts,
			MinNotFoundDuration: recoveryservice.DefaultMinNotFoundDuration,
		},
		log,
	)

	var ticketIssuer identityservice.TicketIssuer
	var ticketParser recoveryhandler.TicketParser
	if cfg.RecoveryTicketSecret != "" {
		issuer := security.NewTicketIssuer(cfg.RecoveryTicketSecret, cfg.TicketTTL())
		ticketIssuer, ticketParser = issuer, issuer
	} else {
		log.WarnContext(ctx, "RECOVERY_TICKET_SECRET not set; recovery redirects carry no ticket")
	}

	tasks := task.NewRunner(log, cfg.LockTTL())
	auth := identityservice.NewAuthService(kratos, classifier, cleanup, ticketIssuer, policy, tasks, emitters, log)

	checks := healthpkg.NewChecker(healthpkg.DefaultTimeout)
	checks.Add("postgres", pool.Ping)
	if rdb != nil {
		checks.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	checks.Add("kratos", kratos.Ready)
	checks.Add("policy", policy.HealthCheck)

	deps := server.HTTPDeps{
		Recovery:           recoveryhandler.NewHandler(cleanup, classifier, kratos, ticketParser, log),
		Auth:               identityhandler.NewAuthHandler(auth, log),
		Health:             healthhandler.NewHTTPHandler(checks),
		ServiceName:        cfg.ServiceName,
		EnableOTel:         providers.Enabled,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Log:                log,
	}
	if devCodes != nil {
		deps.Dev = recoveryhandler.NewDevHandler(devCodes)
	}
	e := server.NewHTTPServer(deps)

	healthSrv := health.NewServer()
	grpcSrv := server.NewGRPCServer(healthSrv, log, !cfg.IsProduction())

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.InfoContext(gCtx, "HTTP server listening", "addr", cfg.HTTPAddr)
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		updater := healthhandler.NewStatusUpdater(healthSrv, checks, server.GRPCServiceName, 0, log)
		g.Go(func() error {
			updater.Run(gCtx)
			return nil
		})
		g.Go(func() error {
			log.InfoContext(gCtx, "gRPC health server listening", "addr", cfg.GRPCAddr)
			return grpcSrv.Serve(lis)
		})
	}

	sweeper := verification.NewSweeper(codeStore, cfg.SweepInterval(), log)
	g.Go(func() error {
		sweeper.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcSrv.GracefulStop()
		err := e.Shutdown(shutdownCtx)
		if drainErr := tasks.Drain(shutdownCtx); drainErr != nil {
			log.Warn("detached tasks still running at shutdown", "error", drainErr)
		}
		return err
	})

	err = g.Wait()

	// Async telemetry emits finish within ShutdownDrainDuration.
	time.Sleep(telemetry.ShutdownDrainDuration)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := providers.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn("otel shutdown failed", "error", shutdownErr)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("server exited properly")
	return nil
}

// stores picks the lock and verification code backends for STORE_BACKEND.
func stores(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client) (lock.Store, verification.Store) {
	switch cfg.StoreBackend {
	case config.StoreBackendRedis:
		return lockrepo.NewRedisStore(rdb), coderepo.NewRedisStore(rdb)
	case config.StoreBackendPostgres:
		return lockrepo.NewPostgresStore(pool), coderepo.NewPostgresStore(pool)
	default:
		return lockrepo.NewMemoryStore(time.Now), coderepo.NewMemoryStore(time.Now)
	}
}
