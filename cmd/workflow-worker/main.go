package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/blingmoon/tree-workflow/internal/config"
	"github.com/blingmoon/tree-workflow/internal/log"
	cli "github.com/urfave/cli/v3"
)

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML config file",
			Sources: cli.EnvVars("WORKFLOW_CONFIG"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "database-driver",
			Usage:   "Database driver (sqlite, postgres)",
			Sources: cli.EnvVars("WORKFLOW_DATABASE_DRIVER"),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Usage:   "Database DSN",
			Sources: cli.EnvVars("WORKFLOW_DATABASE_DSN"),
		},
		&cli.StringFlag{
			Name:    "queue",
			Usage:   "Job queue backend (gorm, redis)",
			Sources: cli.EnvVars("WORKFLOW_QUEUE"),
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address for the redis queue and lock",
			Sources: cli.EnvVars("REDIS_ADDR"),
		},
	}
}

// loadConfig 配置文件 < 环境变量/命令行
func loadConfig(command *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return nil, err
	}
	if command.IsSet("log-level") {
		cfg.LogLevel = command.String("log-level")
	}
	if command.IsSet("database-driver") {
		cfg.Database.Driver = command.String("database-driver")
	}
	if command.IsSet("database-dsn") {
		cfg.Database.DSN = command.String("database-dsn")
	}
	if command.IsSet("queue") {
		cfg.Queue.Backend = command.String("queue")
	}
	if command.IsSet("redis-addr") {
		cfg.Redis.Addr = command.String("redis-addr")
	}
	return cfg, cfg.Validate()
}

func main() {
	cmd := &cli.Command{
		Name:  "workflow-worker",
		Usage: "Run the workflow job runner",
		Flags: configFlags(),
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Poll the job queue and perform due events until interrupted",
				Action: runAction,
			},
			{
				Name:   "drain",
				Usage:  "Perform every due job once and exit",
				Action: drainAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.WithModule("workflow-worker").Error("command failed", "err", err)
		os.Exit(1)
	}
}

func runAction(ctx context.Context, command *cli.Command) error {
	cfg, err := loadConfig(command)
	if err != nil {
		return err
	}
	log.Setup(cfg.LogLevel)
	logger := log.WithModule("workflow-worker")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close(context.Background(), logger)

	runner, err := newRunner(d, cfg)
	if err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("shutting down runner")
	<-runner.Stop().Done()
	return nil
}

func drainAction(ctx context.Context, command *cli.Command) error {
	cfg, err := loadConfig(command)
	if err != nil {
		return err
	}
	log.Setup(cfg.LogLevel)
	logger := log.WithModule("workflow-worker")

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close(context.Background(), logger)

	performed, err := d.engine.Worker().Drain(ctx)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "drain finished", "performed", performed)
	return nil
}
