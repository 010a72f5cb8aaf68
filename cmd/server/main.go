package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"github.com/seu-repo/sigec-csms/internal/adapter/cache"
	"github.com/seu-repo/sigec-csms/internal/adapter/http/fiber/handlers"
	"github.com/seu-repo/sigec-csms/internal/adapter/http/fiber/middleware"
	v201 "github.com/seu-repo/sigec-csms/internal/adapter/ocpp/v201"
	"github.com/seu-repo/sigec-csms/internal/adapter/queue"
	"github.com/seu-repo/sigec-csms/internal/adapter/storage/postgres"
	"github.com/seu-repo/sigec-csms/internal/observability/telemetry"
	"github.com/seu-repo/sigec-csms/internal/ports"
	"github.com/seu-repo/sigec-csms/internal/service/auth"
	"github.com/seu-repo/sigec-csms/internal/service/device"
	"github.com/seu-repo/sigec-csms/internal/service/health"
	"github.com/seu-repo/sigec-csms/internal/service/smartcharging"
	"github.com/seu-repo/sigec-csms/internal/service/transaction"
	"github.com/seu-repo/sigec-csms/pkg/config"
)

func main() {
	issueRole := flag.String("issue-token", "", "print an operator API token for this role (viewer, operator, admin) and exit")
	issueSubject := flag.String("subject", "bootstrap", "subject of the token printed by -issue-token")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	// 2. Initialize Logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer logger.Sync()

	// 3. Operator tokens. The revocation list lives in the same cache as the allow-list.
	appCache := newCache(cfg.Redis, logger)
	defer appCache.Close()

	if cfg.JWT.Secret == "" {
		if *issueRole != "" {
			logger.Fatal("jwt.secret must be set to issue tokens")
		}
		cfg.JWT.Secret = uuid.NewString()
		logger.Warn("jwt.secret is not set, using an ephemeral secret; operator tokens will not survive a restart")
	}
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TokenTTL, appCache, logger)

	if *issueRole != "" {
		token, err := jwtService.GenerateToken(*issueSubject, *issueRole)
		if err != nil {
			logger.Fatal("Failed to issue token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	logger.Info("Starting SIGEC CSMS",
		zap.String("service", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Initialize OpenTelemetry (Distributed Tracing)
	if cfg.OpenTelemetry.Enabled {
		tracerProvider, err := telemetry.InitTracer(cfg.OpenTelemetry.ServiceName, cfg.App.Version,
			cfg.OpenTelemetry.Jaeger.Endpoint, cfg.OpenTelemetry.Jaeger.SamplerParam)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				logger.Error("Error shutting down tracer provider", zap.Error(err))
			}
		}()
	}

	healthService := health.NewService(cfg.App.Version, logger)
	healthService.RegisterPing("cache", false, func(context.Context) error { return appCache.Ping() })

	// 5. Initialize PostgreSQL (optional: without it the engine keeps state in memory only)
	var (
		db              *gorm.DB
		chargePointRepo ports.ChargePointRepository
		transactionRepo ports.TransactionRepository
	)
	if cfg.Database.URL != "" {
		db, err = postgres.NewConnection(cfg.Database, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer postgres.Close(db)

		if cfg.Database.AutoMigrate {
			if err := postgres.RunMigrations(db); err != nil {
				logger.Fatal("Failed to run migrations", zap.Error(err))
			}
		}
		sqlDB, err := db.DB()
		if err != nil {
			logger.Fatal("Failed to get underlying SQL DB", zap.Error(err))
		}
		healthService.RegisterPing("database", true, sqlDB.PingContext)

		chargePointRepo = postgres.NewChargePointRepository(db, logger)
		transactionRepo = postgres.NewTransactionRepository(db, logger)
	} else {
		logger.Warn("database.url is not set, transactions and devices will not be persisted")
	}

	// 6. Initialize Message Queue
	mq, err := newQueue(cfg.Queue, logger)
	if err != nil {
		logger.Fatal("Failed to connect to message queue", zap.Error(err), zap.String("driver", cfg.Queue.Driver))
	}
	if mq != nil {
		defer mq.Close()
	}
	events := queue.NewPublisher(mq, logger)

	// 7. Initialize Services (Business Logic Layer)
	deviceService := device.NewService(chargePointRepo, appCache, events, logger)
	if n, err := deviceService.Load(ctx); err != nil {
		logger.Warn("Failed to load charge points", zap.Error(err))
	} else {
		logger.Info("Charge points loaded", zap.Int("count", n))
	}

	transactionService := transaction.NewService(transactionRepo, deviceService, events, transaction.Config{
		OrphanGrace: cfg.OCPP.OrphanGrace,
		PreauthTTL:  cfg.OCPP.PreauthTTL,
	}, logger)

	var authClient ports.AuthorizationClient
	if cfg.Auth.ServiceURL != "" {
		authClient = auth.NewHTTPClient(cfg.Auth.ServiceURL, cfg.Auth.Timeout)
	} else {
		logger.Warn("auth.service_url is not set, id tokens are checked against the offline allow-list only")
	}
	authService := auth.NewService(authClient, appCache, cfg.Auth, cfg.CircuitBreaker, logger)
	if err := authService.Seed(ctx, cfg.Auth.OfflineAllowList); err != nil {
		logger.Fatal("Failed to seed offline allow-list", zap.Error(err))
	}

	resolver := smartcharging.NewResolver(logger)

	// 8. Initialize OCPP 2.0.1 Server
	security := v201.NewSecurityManager(v201.SecurityConfigFrom(cfg.OCPP.Security, cfg.HTTP.AllowedOrigins), logger)
	ocppServer, err := v201.NewServer(v201.ConfigFrom(cfg.OCPP), v201.Deps{
		Devices:      deviceService,
		Transactions: transactionService,
		Auth:         authService,
		Profiles:     resolver,
		Security:     security,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to build OCPP server", zap.Error(err))
	}
	go func() {
		if err := ocppServer.Start(ctx, cfg.OCPP.Port, cfg.OCPP.SweepInterval); err != nil {
			logger.Fatal("OCPP Server failed", zap.Error(err))
		}
	}()

	// 9. Start Background Workers
	go expireOrphans(ctx, transactionService, cfg.OCPP.SweepInterval, logger)

	// 10. Initialize Fiber HTTP Server (operator API)
	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		ServerHeader:          cfg.App.Name,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		IdleTimeout:           cfg.HTTP.IdleTimeout,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(middleware.NewCORS(cfg.HTTP.AllowedOrigins))

	health.NewFiberHandler(healthService).RegisterRoutes(app)

	if cfg.Prometheus.Enabled {
		metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
		app.Get(cfg.Prometheus.Path, func(c *fiber.Ctx) error {
			metricsHandler(c.Context())
			return nil
		})
	}

	api := &handlers.API{
		Devices:      handlers.NewDeviceHandler(deviceService, ocppServer, logger),
		Commands:     handlers.NewDeviceCommandHandler(ocppServer, logger),
		Profiles:     handlers.NewProfileHandler(ocppServer, resolver, logger),
		Transactions: handlers.NewTransactionHandler(transactionService, transactionRepo, logger),
		Auth:         handlers.NewAuthHandler(authService, jwtService, logger),
	}
	v1 := app.Group("/api/v1", middleware.RateLimit(cfg.HTTP.RateLimit))
	api.Register(v1, jwtService, auth.NewRBACService(logger), logger)

	go func() {
		logger.Info("Starting HTTP Server", zap.Int("port", cfg.HTTP.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			logger.Fatal("HTTP Server failed", zap.Error(err))
		}
	}()

	// 11. Graceful Shutdown
	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	if err := ocppServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("OCPP server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// newCache prefers Redis and falls back to an in-process cache so a Redis
// outage at boot does not keep chargers from authorizing offline.
func newCache(cfg config.RedisConfig, logger *zap.Logger) ports.Cache {
	if cfg.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.URL, logger)
		if err == nil {
			return redisCache
		}
		logger.Warn("Failed to connect to Redis, using in-process cache", zap.Error(err))
	}
	return cache.NewLocalCache(10*time.Minute, logger)
}

func newQueue(cfg config.QueueConfig, logger *zap.Logger) (queue.MessageQueue, error) {
	switch cfg.Driver {
	case "nats":
		if cfg.NATS.URL == "" {
			return nil, errors.New("queue.nats.url is not set")
		}
		return queue.NewNATSQueue(cfg.NATS.URL, "csms", cfg.NATS.MaxReconnects, cfg.NATS.ReconnectWait, logger)
	case "rabbitmq":
		if cfg.RabbitMQ.URL == "" {
			return nil, errors.New("queue.rabbitmq.url is not set")
		}
		return queue.NewRabbitMQQueue(cfg.RabbitMQ.URL, "csms.events", logger)
	default:
		logger.Info("Event publishing disabled")
		return nil, nil
	}
}

// expireOrphans hands orphaned transactions whose grace period ran out to operators.
func expireOrphans(ctx context.Context, txs *transaction.Service, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		every = 10 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := txs.ExpireOrphans(ctx, now); n > 0 {
				logger.Warn("Orphaned transactions need reconciliation", zap.Int("count", n))
			}
		}
	}
}
