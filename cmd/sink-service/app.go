package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"rivulet/internal/batch"
	"rivulet/internal/config"
	"rivulet/internal/constants"
	"rivulet/internal/decoder"
	"rivulet/internal/logger"
	"rivulet/internal/manifest"
	"rivulet/internal/mapping"
	"rivulet/internal/schemaregistry"
	"rivulet/internal/sink"
	"rivulet/internal/writer"
	"rivulet/pkg/bootstrap"
	"rivulet/pkg/circuitbreaker"
	"rivulet/pkg/health"
	"rivulet/pkg/metrics"
	"rivulet/pkg/middleware"
	"rivulet/pkg/migrations"
	"rivulet/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	s3             *s3.Client
	engine         *batch.Engine
	pipeline       *sink.Pipeline
	runner         *sink.Runner
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceNameSink)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceNameSink)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterSinkMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.initS3(ctx); err != nil {
		return fmt.Errorf("failed to initialize s3: %w", err)
	}

	if err := a.initPipeline(); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	// the producer doubles as the DLQ writer, so it comes first
	if err := a.InitProducer(constants.ServiceNameSink); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}
	if err := a.InitConsumer(constants.ServiceNameSink, a.Config.Sink.DLQTopic); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}
	a.runner = sink.NewRunner(a.Consumer, a.Config.Sink.SourceTopics, a.pipeline, a.engine, a.Logger)

	a.initHTTPServer()
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.db != nil && a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(ctx, a.db); err != nil {
			return err
		}
		a.Logger.InfowCtx(ctx, "Database migrations applied")
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb
	return nil
}

func (a *App) initS3(ctx context.Context) error {
	if !a.usesS3() {
		return nil
	}
	client, err := writer.NewS3Client(ctx, a.Config.Sink.S3)
	if err != nil {
		return err
	}
	a.s3 = client
	return nil
}

func (a *App) usesS3() bool {
	for _, m := range a.Config.Sink.Mappings {
		if strings.EqualFold(m.Destination, constants.DestinationS3) {
			return true
		}
	}
	return false
}

func (a *App) newBreaker(name string) *circuitbreaker.Wrapper {
	if !a.Config.CircuitBreaker.Enabled {
		return nil
	}
	return circuitbreaker.NewWrapper(circuitbreaker.FromConfig(name, a.Config.CircuitBreaker))
}

func (a *App) initPipeline() error {
	var source decoder.SchemaSource
	if a.Config.SchemaRegistry.URL != "" {
		metrics.RegisterSchemaRegistryMetrics()

		var breaker *circuitbreaker.Wrapper
		if a.Config.CircuitBreaker.Enabled {
			breaker = schemaregistry.NewBreaker(a.Config.CircuitBreaker)
		}

		ttl := time.Duration(a.Config.Database.Redis.TTLSeconds) * time.Second
		client, err := schemaregistry.NewClient(a.Config.SchemaRegistry, a.redis, ttl, breaker, a.Logger)
		if err != nil {
			return err
		}
		source = client
	}

	converter, err := writer.NewParquetConverter()
	if err != nil {
		return err
	}

	var s3Writer *writer.S3Writer
	if a.s3 != nil {
		s3Writer = writer.NewS3Writer(a.s3, converter, a.newBreaker("s3-upload"), a.Logger)
	}

	a.engine = batch.NewEngine(
		a.Config.Sink.Batch,
		mapping.NewResolver(a.Config.Sink, nil),
		writer.NewDispatcher(writer.NewLocalWriter(converter), s3Writer),
		sink.NewManifestObserver(manifest.NewRecorder(a.db, a.Logger), a.Logger),
		nil,
		a.Logger,
	)
	a.pipeline = sink.NewPipeline(decoder.NewComposite(source), a.engine, a.Logger)
	return nil
}

func (a *App) initHTTPServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))
	healthRegistry.Register(health.NewFuncChecker("local_dir", a.checkBaseDir))
	if a.db != nil {
		healthRegistry.RegisterOptional(health.NewPostgreSQLChecker(a.db))
	}
	if a.redis != nil {
		healthRegistry.RegisterOptional(health.NewRedisChecker(a.redis))
	}
	if a.s3 != nil && a.Config.Sink.S3.Bucket != "" {
		healthRegistry.Register(health.NewS3Checker(a.s3, a.Config.Sink.S3.Bucket))
	}

	router.GET("/health", health.Handler(healthRegistry))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:     router,
		ReadTimeout: a.Config.Server.ReadTimeout,
	}
}

func (a *App) checkBaseDir(context.Context) error {
	dir := a.Config.Sink.Local.BaseDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("base dir %s not writable: %w", dir, err)
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.engine.Run(gCtx)
	})

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Starting sink consumer",
			"topics", a.Config.Sink.SourceTopics,
			"dlq_topic", a.Config.Sink.DLQTopic,
		)
		return a.runner.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		// the runner's final flush still needs the broker and databases
		<-a.runner.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown runs after the runner's final flush and closes the broker and databases.
func (a *App) Shutdown(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(a.redis, a.db)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
