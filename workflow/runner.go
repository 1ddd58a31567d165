package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

type RunnerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	Concurrency  int           `yaml:"concurrency" validate:"gte=1"`
	BatchSize    int           `yaml:"batch_size" validate:"gte=1"`
	LockKey      string        `yaml:"lock_key" validate:"required"`
	LockTTL      time.Duration `yaml:"lock_ttl" validate:"gt=0"`
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval: time.Second,
		Concurrency:  8,
		BatchSize:    100,
		LockKey:      "workflow:runner:claim",
		LockTTL:      30 * time.Second,
	}
}

// Runner 后台轮询任务队列
// 认领阶段用 WorkflowLock 保证同一时间只有一个进程在认领, 执行阶段并发
type Runner struct {
	engine *Engine
	lock   WorkflowLock
	config RunnerConfig
	cron   *cron.Cron
}

func NewRunner(engine *Engine, lock WorkflowLock, config RunnerConfig) (*Runner, error) {
	if err := validateParams(&config); err != nil {
		return nil, err
	}
	if lock == nil {
		lock = NewLocalWorkflowLock()
	}
	return &Runner{
		engine: engine,
		lock:   lock,
		config: config,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
	}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	schedule := fmt.Sprintf("@every %s", r.config.PollInterval)
	_, err := r.cron.AddFunc(schedule, func() {
		if _, err := r.PollOnce(ctx); err != nil {
			r.engine.logger.WarnContext(ctx, "poll jobs failed", "err", err)
		}
	})
	if err != nil {
		return errors.WithMessagef(err, "add poll func failed, schedule: %s", schedule)
	}
	r.cron.Start()
	r.engine.logger.InfoContext(ctx, "runner started",
		"poll_interval", r.config.PollInterval,
		"concurrency", r.config.Concurrency)
	return nil
}

// Stop 返回的 ctx 在正在执行的轮询结束后 done
func (r *Runner) Stop() context.Context {
	return r.cron.Stop()
}

// PollOnce 认领一批到期任务并发执行, 返回执行的任务数
func (r *Runner) PollOnce(ctx context.Context) (int, error) {
	var jobs []*Job
	err := r.lock.NonBlockingSynchronized(ctx, r.config.LockKey, r.config.LockTTL, func(ctx context.Context) error {
		var err error
		jobs, err = r.engine.queue.ClaimDue(ctx, r.engine.Now(), r.config.BatchSize)
		return err
	})
	if err != nil {
		if errors.Is(err, LockFailedError) {
			// 别的进程正在认领
			return 0, nil
		}
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if err := r.engine.worker.RunJob(gctx, job); err != nil {
				r.engine.logger.ErrorContext(gctx, "update job failed", "job_id", job.ID, "err", err)
			}
			return nil
		})
	}
	return len(jobs), g.Wait()
}
