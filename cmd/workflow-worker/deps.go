package main

import (
	"context"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/blingmoon/tree-workflow/internal/config"
	"github.com/blingmoon/tree-workflow/workflow"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// deps 进程里面需要关闭的资源
type deps struct {
	engine  *workflow.Engine
	lock    workflow.WorkflowLock
	closers []func(context.Context) error
}

func (d *deps) Close(ctx context.Context, logger *slog.Logger) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			logger.ErrorContext(ctx, "close resource failed", "err", err)
		}
	}
}

func openDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.New(postgres.Config{DriverName: "postgres", DSN: cfg.DSN})
	default:
		dialector = sqlite.Open(cfg.DSN)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, errors.WithMessagef(err, "open %s failed", cfg.Driver)
	}
	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if cfg.ShouldAutoMigrate() {
		if err := db.AutoMigrate(workflow.AllModels()...); err != nil {
			return nil, errors.WithMessage(err, "auto migrate failed")
		}
	}
	return db, nil
}

func newPublisher(cfg config.NotifierConfig, logger *slog.Logger) (message.Publisher, error) {
	wmLogger := watermill.NewSlogLogger(logger)
	if cfg.Backend == "kafka" {
		saramaConfig := sarama.NewConfig()
		saramaConfig.Producer.Return.Successes = true
		publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:               cfg.KafkaBrokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaConfig,
			OTELEnabled:           true,
		}, wmLogger)
		if err != nil {
			return nil, errors.WithMessage(err, "create kafka publisher failed")
		}
		return publisher, nil
	}
	return gochannel.NewGoChannel(gochannel.Config{}, wmLogger), nil
}

func setupTracing(ctx context.Context, cfg config.TracingConfig) (func(context.Context) error, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "create otlp exporter failed")
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))
	return tp.Shutdown, nil
}

func buildDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{}
	fail := func(err error) (*deps, error) {
		d.Close(ctx, logger)
		return nil, err
	}

	if cfg.Tracing.IsEnabled() {
		shutdown, err := setupTracing(ctx, cfg.Tracing)
		if err != nil {
			return fail(err)
		}
		d.closers = append(d.closers, shutdown)
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		return fail(err)
	}
	d.closers = append(d.closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	var redisClient *redis.Client
	if cfg.Queue.Backend == "redis" || cfg.Lock.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fail(errors.WithMessagef(err, "ping redis %s failed", cfg.Redis.Addr))
		}
		d.closers = append(d.closers, func(context.Context) error { return redisClient.Close() })
	}

	var queue workflow.JobQueue
	if cfg.Queue.Backend == "redis" {
		queue = workflow.NewRedisJobQueue(redisClient, cfg.Queue.RedisPrefix)
	} else {
		queue = workflow.NewGormJobQueue(db)
	}

	if cfg.Lock.Backend == "redis" {
		d.lock = workflow.NewRedisWorkflowLock(redisClient)
	} else {
		d.lock = workflow.NewLocalWorkflowLock()
	}

	publisher, err := newPublisher(cfg.Notifier, logger)
	if err != nil {
		return fail(err)
	}
	d.closers = append(d.closers, func(context.Context) error { return publisher.Close() })

	d.engine = workflow.NewEngine(workflow.NewWorkflowRepo(db), queue,
		workflow.WithLogger(logger),
		workflow.WithNotifier(workflow.NewWatermillNotifier(publisher, cfg.Notifier.Topic)),
		workflow.WithTracerProvider(otel.GetTracerProvider()),
		workflow.WithEngineConfig(cfg.Engine),
	)
	return d, nil
}

func newRunner(d *deps, cfg *config.Config) (*workflow.Runner, error) {
	return workflow.NewRunner(d.engine, d.lock, cfg.Runner)
}
