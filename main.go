package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"

	"github.com/Ramsey-B/stem/pkg/database"
	stemmw "github.com/Ramsey-B/stem/pkg/middleware"
	"github.com/Ramsey-B/stem/pkg/startup"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/Ramsey-B/stem/pkg/tracing/exporters"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/handlers"
	actionrequestrepo "github.com/Ramsey-B/clover/internal/repositories/actionrequest"
	auditlogrepo "github.com/Ramsey-B/clover/internal/repositories/auditlog"
	officerepo "github.com/Ramsey-B/clover/internal/repositories/office"
	recipientrepo "github.com/Ramsey-B/clover/internal/repositories/recipient"
	staffrepo "github.com/Ramsey-B/clover/internal/repositories/staff"
	supportplanrepo "github.com/Ramsey-B/clover/internal/repositories/supportplan"
	"github.com/Ramsey-B/clover/pkg/approval"
	"github.com/Ramsey-B/clover/pkg/audit"
	"github.com/Ramsey-B/clover/pkg/deliverables"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/health"
	"github.com/Ramsey-B/clover/pkg/kafka"
	clovermw "github.com/Ramsey-B/clover/pkg/middleware"
	cloverredis "github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/supportplan"
	"github.com/Ramsey-B/clover/pkg/tenancy"
)

var version = "dev"

// app carries the resources shared between startup dependencies.
type app struct {
	cfg    *config.Config
	logger ectologger.Logger

	sqlDB    *sqlx.DB
	db       database.DB
	redis    *cloverredis.Client
	producer *kafka.Producer
	store    *deliverables.Store
	tracer   *sdktrace.TracerProvider
	checker  *health.Checker
	server   *echo.Echo
}

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(&cfg)
	a := &app{cfg: &cfg, logger: logger}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boot := startup.NewStartup[any](logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&tracingDependency{app: a})
	boot.AddDependency(&databaseDependency{app: a})
	boot.AddDependency(&migrationsDependency{app: a})
	boot.AddDependency(&redisDependency{app: a})
	boot.AddDependency(&deliverableStoreDependency{app: a})
	serverDeps := []string{"tracing", "database", "migrations", "redis", "deliverable-store"}
	if cfg.KafkaEnabled {
		boot.AddDependency(&kafkaDependency{app: a})
		serverDeps = append(serverDeps, "kafka")
	}
	boot.AddDependency(&serverDependency{app: a, dependsOn: serverDeps})

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("startup failed")
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := boot.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) ectologger.Logger {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type tracingDependency struct {
	app *app
}

func (d *tracingDependency) GetName() string     { return "tracing" }
func (d *tracingDependency) DependsOn() []string { return nil }

func (d *tracingDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg
	if !cfg.TracingEnabled {
		return nil
	}

	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: cfg.TracingOTLPEndpoint,
		Protocol: cfg.TracingOTLPProtocol,
		Insecure: true,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.AppName),
			semconv.ServiceVersion(version),
		)),
	)
	otel.SetTracerProvider(provider)
	tracing.SetTracer(provider.Tracer(cfg.AppName))
	d.app.tracer = provider
	return nil
}

func (d *tracingDependency) Stop(ctx context.Context) error {
	if d.app.tracer == nil {
		return nil
	}
	return d.app.tracer.Shutdown(ctx)
}

type databaseDependency struct {
	app *app
}

func (d *databaseDependency) GetName() string     { return "database" }
func (d *databaseDependency) DependsOn() []string { return nil }

func (d *databaseDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword,
		cfg.DatabaseName, cfg.DatabaseSSLMode)

	sqlDB, err := sqlx.ConnectContext(ctx, cfg.DatabaseDriver, dsn)
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	d.app.sqlDB = sqlDB
	d.app.db = database.NewDatabaseInstance(sqlDB, d.app.logger)
	return nil
}

func (d *databaseDependency) Stop(ctx context.Context) error {
	if d.app.sqlDB == nil {
		return nil
	}
	return d.app.sqlDB.Close()
}

type migrationsDependency struct {
	app *app
}

func (d *migrationsDependency) GetName() string     { return "migrations" }
func (d *migrationsDependency) DependsOn() []string { return []string{"database"} }

func (d *migrationsDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg
	driver, err := migratepg.WithInstance(d.app.sqlDB.DB, &migratepg.Config{DatabaseName: cfg.DatabaseName})
	if err != nil {
		return err
	}

	service := database.NewMigrationService(d.app.logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return service.Migrate(cfg.DatabaseName, driver)
}

func (d *migrationsDependency) Stop(ctx context.Context) error { return nil }

type redisDependency struct {
	app *app
}

func (d *redisDependency) GetName() string     { return "redis" }
func (d *redisDependency) DependsOn() []string { return nil }

func (d *redisDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg
	client, err := cloverredis.NewClient(cloverredis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, d.app.logger)
	if err != nil {
		return err
	}
	d.app.redis = client
	return nil
}

func (d *redisDependency) Stop(ctx context.Context) error {
	if d.app.redis == nil {
		return nil
	}
	return d.app.redis.Close()
}

type kafkaDependency struct {
	app *app
}

func (d *kafkaDependency) GetName() string     { return "kafka" }
func (d *kafkaDependency) DependsOn() []string { return nil }

func (d *kafkaDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg
	d.app.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, d.app.logger)
	return nil
}

func (d *kafkaDependency) Stop(ctx context.Context) error {
	if d.app.producer == nil {
		return nil
	}
	return d.app.producer.Close()
}

type deliverableStoreDependency struct {
	app *app
}

func (d *deliverableStoreDependency) GetName() string     { return "deliverable-store" }
func (d *deliverableStoreDependency) DependsOn() []string { return nil }

func (d *deliverableStoreDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg
	store, err := deliverables.NewStore(deliverables.Config{
		Endpoint:  cfg.DeliverableStoreEndpoint,
		AccessKey: cfg.DeliverableStoreAccessKey,
		SecretKey: cfg.DeliverableStoreSecretKey,
		Bucket:    cfg.DeliverableStoreBucket,
		UseTLS:    cfg.DeliverableStoreUseTLS,
		Timeout:   cfg.DeliverableUploadTimeout,
	}, d.app.logger)
	if err != nil {
		return err
	}
	d.app.store = store
	return nil
}

func (d *deliverableStoreDependency) Stop(ctx context.Context) error { return nil }

type serverDependency struct {
	app       *app
	dependsOn []string
}

func (d *serverDependency) GetName() string     { return "http-server" }
func (d *serverDependency) DependsOn() []string { return d.dependsOn }

func (d *serverDependency) Start(ctx context.Context) error {
	a := d.app
	e, err := buildServer(a)
	if err != nil {
		return err
	}
	a.server = e

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", a.cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("http server stopped unexpectedly")
		}
	}()

	a.checker.SetReady(true)
	a.logger.WithField("port", a.cfg.Port).Infof("listening on port %d", a.cfg.Port)
	return nil
}

func (d *serverDependency) Stop(ctx context.Context) error {
	if d.app.server == nil {
		return nil
	}
	if d.app.checker != nil {
		d.app.checker.SetReady(false)
	}
	return d.app.server.Shutdown(ctx)
}

func buildServer(a *app) (*echo.Echo, error) {
	cfg := a.cfg
	logger := a.logger

	offices := officerepo.NewRepository(a.db, logger)
	staff := staffrepo.NewRepository(a.db, logger)
	recipients := recipientrepo.NewRepository(a.db, logger)
	plans := supportplanrepo.NewRepository(a.db, logger)
	requests := actionrequestrepo.NewRepository(a.db, logger)
	auditLogs := auditlogrepo.NewRepository(a.db, logger)

	auditWriter := audit.NewWriter(auditLogs, logger)
	var publisher events.Publisher
	if a.producer != nil {
		publisher = a.producer
	}
	emitter := events.NewEmitter(publisher, logger)
	locker := cloverredis.NewLocker(a.redis, cfg.AppName)

	gracePeriod := time.Duration(cfg.WithdrawalGraceDays) * 24 * time.Hour
	coordinator := tenancy.NewCoordinator(offices, staff, auditWriter, gracePeriod, logger)

	engine := approval.NewEngine(requests, auditWriter, emitter, logger,
		approval.NewRoleChangeStrategy(staff),
		approval.NewWithdrawalStrategy(coordinator),
		approval.NewEmployeeActionStrategy(plans, a.store),
	)
	planService := supportplan.NewService(plans, recipients, engine, auditWriter, emitter, a.store, locker, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()
	e.HTTPErrorHandler = stemmw.Error(logger)
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(stemmw.Context())
	e.Use(stemmw.Logger(logger))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(clovermw.Metrics())

	a.checker = health.NewChecker(a.db, a.redis, version)
	a.checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	if cfg.AuthEnabled {
		authn, err := clovermw.Authentication(logger, cfg.AuthIssuerURL, cfg.AuthClientID)
		if err != nil {
			return nil, err
		}
		api.Use(authn)
	}
	api.Use(clovermw.ActorResolver(staff, logger))

	handlers.NewOfficeHandler(offices, staff, auditWriter, logger).Register(api.Group("/offices"))
	handlers.NewRequestHandler(engine, logger).Register(api.Group("/requests"))
	handlers.NewPlanHandler(planService, a.store, logger).Register(api.Group("/recipients"), api.Group("/cycles"))
	handlers.NewAuditHandler(auditLogs, logger).Register(api.Group("/audit"))

	return e, nil
}
