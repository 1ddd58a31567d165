package config

import (
	"os"
	"reflect"

	"dario.cat/mergo"
	"github.com/blingmoon/tree-workflow/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string                `yaml:"log_level" validate:"oneof=debug info warn error"`
	Database DatabaseConfig        `yaml:"database"`
	Queue    QueueConfig           `yaml:"queue"`
	Lock     LockConfig            `yaml:"lock"`
	Redis    RedisConfig           `yaml:"redis"`
	Notifier NotifierConfig        `yaml:"notifier"`
	Tracing  TracingConfig         `yaml:"tracing"`
	Engine   workflow.EngineConfig `yaml:"engine"`
	Runner   workflow.RunnerConfig `yaml:"runner"`
}

type DatabaseConfig struct {
	Driver      string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN         string `yaml:"dsn" validate:"required"`
	AutoMigrate *bool  `yaml:"auto_migrate"`
}

type QueueConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=gorm redis"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type LockConfig struct {
	Backend string `yaml:"backend" validate:"oneof=local redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type NotifierConfig struct {
	Backend      string   `yaml:"backend" validate:"oneof=gochannel kafka"`
	Topic        string   `yaml:"topic" validate:"required"`
	KafkaBrokers []string `yaml:"kafka_brokers" validate:"required_if=Backend kafka"`
}

type TracingConfig struct {
	Enabled     *bool  `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// ShouldAutoMigrate 没配置时不迁移
func (c DatabaseConfig) ShouldAutoMigrate() bool {
	return c.AutoMigrate != nil && *c.AutoMigrate
}

func (c TracingConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled
}

func Default() Config {
	return Config{
		LogLevel: "info",
		Database: DatabaseConfig{
			Driver:      "sqlite",
			DSN:         "workflow.db",
			AutoMigrate: workflow.Bool(true),
		},
		Queue: QueueConfig{
			Backend:     "gorm",
			RedisPrefix: "workflow_job",
		},
		Lock: LockConfig{Backend: "local"},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Notifier: NotifierConfig{
			Backend: "gochannel",
			Topic:   "workflow.client_actions",
		},
		Tracing: TracingConfig{
			Enabled:     workflow.Bool(false),
			ServiceName: "workflow-worker",
		},
		Engine: workflow.DefaultEngineConfig(),
		Runner: workflow.DefaultRunnerConfig(),
	}
}

// boolPtrTransformer 文件里写了的开关一律覆盖默认值, 包括 false
// mergo 默认把 false 当成没写
type boolPtrTransformer struct{}

func (boolPtrTransformer) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ != reflect.TypeOf((*bool)(nil)) {
		return nil
	}
	return func(dst, src reflect.Value) error {
		if !src.IsNil() && dst.CanSet() {
			dst.Set(src)
		}
		return nil
	}
}

// Load 文件里有的字段覆盖默认值, path 为空只用默认值
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WithMessagef(err, "read config %s failed", path)
		}
		fileCfg := Config{}
		if err := yaml.Unmarshal(b, &fileCfg); err != nil {
			return nil, errors.WithMessagef(err, "parse config %s failed", path)
		}
		if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride, mergo.WithTransformers(boolPtrTransformer{})); err != nil {
			return nil, errors.WithMessage(err, "merge config failed")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return errors.WithMessage(err, "invalid config")
	}
	if c.Tracing.IsEnabled() && c.Tracing.ServiceName == "" {
		return errors.New("invalid config: tracing.service_name is required when tracing is enabled")
	}
	if (c.Queue.Backend == "redis" || c.Lock.Backend == "redis") && c.Redis.Addr == "" {
		return errors.New("invalid config: redis.addr is required by redis queue or lock")
	}
	return nil
}
