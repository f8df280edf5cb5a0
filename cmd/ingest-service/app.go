package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"rivulet/internal/config"
	"rivulet/internal/constants"
	"rivulet/internal/ingest"
	"rivulet/internal/logger"
	"rivulet/internal/schemaregistry"
	"rivulet/pkg/bootstrap"
	"rivulet/pkg/circuitbreaker"
	"rivulet/pkg/health"
	"rivulet/pkg/metrics"
	"rivulet/pkg/middleware"
	"rivulet/pkg/ratelimit"
	"rivulet/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	handler        *ingest.Handler
	limiter        *ratelimit.Store
	router         *gin.Engine
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceNameIngest)
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceNameIngest)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterIngestMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.InitProducer(constants.ServiceNameIngest); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initHandler(ctx); err != nil {
		return fmt.Errorf("failed to initialize handler: %w", err)
	}

	a.initRouter()

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	return nil
}

func (a *App) initHandler(ctx context.Context) error {
	serializer, err := ingest.NewContainerSerializer()
	if err != nil {
		return err
	}
	events := ingest.NewService(a.Producer, serializer, a.Config.Ingest.EventsTopic, a.Config.Ingest.MaxLineBytes, nil, a.Logger)

	var registry *ingest.Service
	if a.Config.SchemaRegistry.URL != "" {
		metrics.RegisterSchemaRegistryMetrics()

		var breaker *circuitbreaker.Wrapper
		if a.Config.CircuitBreaker.Enabled {
			breaker = schemaregistry.NewBreaker(a.Config.CircuitBreaker)
		}

		client, err := schemaregistry.NewClient(a.Config.SchemaRegistry, nil, 0, breaker, a.Logger)
		if err != nil {
			return err
		}

		regSerializer, err := ingest.NewRegistrySerializer(ctx, client, a.Config.SchemaRegistry.Subject)
		if err != nil {
			return err
		}
		registry = ingest.NewService(a.Producer, regSerializer, a.Config.Ingest.RegistryTopic, a.Config.Ingest.MaxLineBytes, nil, a.Logger)

		a.Logger.InfowCtx(ctx, "Registry-framed ingestion enabled",
			"topic", a.Config.Ingest.RegistryTopic,
			"subject", a.Config.SchemaRegistry.Subject,
		)
	}

	a.handler = ingest.NewHandler(events, registry, a.Config.Ingest.DefaultMaxInFlight, a.Logger)
	return nil
}

func (a *App) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceNameIngest))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))

	router.GET("/health", health.Handler(healthRegistry))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("")
	if rl := a.Config.Ingest.RateLimit; rl.Enabled {
		a.limiter = ratelimit.NewStore(ratelimit.RateLimitConfig{
			RPS:             rl.RPS,
			Burst:           rl.Burst,
			CleanupInterval: rl.CleanupInterval,
			MaxAge:          rl.MaxAge,
		})
		api.Use(a.limiter.Middleware())
		a.Logger.Infow("Rate limiting enabled", "rps", rl.RPS, "burst", rl.Burst)
	}
	a.handler.RegisterRoutes(api)

	a.router = router
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

	if a.limiter != nil {
		g.Go(func() error {
			return a.limiter.Run(gCtx)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown stops accepting requests first so that in-flight wait-for-ack
// submissions resolve before the producer closes.
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

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
