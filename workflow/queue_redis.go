package workflow

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// redisJobQueue
// {prefix}:seq       INCR 生成任务ID, 也就是入队顺序
// {prefix}:pending   ZSET, member 是任务ID, score 是 fires_at 毫秒
// {prefix}:running   ZSET, 认领时间
// {prefix}:dead      SET
// {prefix}:job:{id}  任务JSON
type redisJobQueue struct {
	redisClient redis.Cmdable
	prefix      string
}

func NewRedisJobQueue(redisClient redis.Cmdable, prefix string) JobQueue {
	if prefix == "" {
		prefix = "workflow_job"
	}
	return &redisJobQueue{redisClient: redisClient, prefix: prefix}
}

func (q *redisJobQueue) key(name string) string {
	return q.prefix + ":" + name
}

func (q *redisJobQueue) jobKey(id int64) string {
	return fmt.Sprintf("%s:job:%d", q.prefix, id)
}

func (q *redisJobQueue) save(ctx context.Context, pipe redis.Pipeliner, job *Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return errors.WithMessage(err, "marshal job failed")
	}
	pipe.Set(ctx, q.jobKey(job.ID), b, 0)
	return nil
}

func (q *redisJobQueue) Enqueue(ctx context.Context, job *Job) error {
	id, err := q.redisClient.Incr(ctx, q.key("seq")).Result()
	if err != nil {
		return errors.WithMessage(err, "incr job seq failed")
	}
	job.ID = id
	job.Status = JobStatusPending
	_, err = q.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := q.save(ctx, pipe, job); err != nil {
			return err
		}
		pipe.ZAdd(ctx, q.key("pending"), redis.Z{Score: float64(job.FiresAt.UnixMilli()), Member: strconv.FormatInt(id, 10)})
		return nil
	})
	if err != nil {
		return errors.WithMessagef(err, "enqueue job %d failed", id)
	}
	return nil
}

// ClaimDue 取出所有到期的任务, 按ID也就是入队顺序认领前 limit 个, 和 gorm 队列一致
func (q *redisJobQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	members, err := q.redisClient.ZRangeByScore(ctx, q.key("pending"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, errors.WithMessage(err, "query due jobs failed")
	}
	ids := make([]int64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid job member %s", member)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	claimed := make([]*Job, 0, len(ids))
	for _, id := range ids {
		member := strconv.FormatInt(id, 10)
		// ZREM 成功的才算认领到
		removed, err := q.redisClient.ZRem(ctx, q.key("pending"), member).Result()
		if err != nil {
			return claimed, errors.WithMessagef(err, "claim job %d failed", id)
		}
		if removed == 0 {
			continue
		}
		b, err := q.redisClient.Get(ctx, q.jobKey(id)).Bytes()
		if err != nil {
			return claimed, errors.WithMessagef(err, "load job %d failed", id)
		}
		job := &Job{}
		if err := json.Unmarshal(b, job); err != nil {
			return claimed, errors.WithMessagef(err, "unmarshal job %d failed", id)
		}
		job.Status = JobStatusRunning
		job.Deliveries++
		_, err = q.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := q.save(ctx, pipe, job); err != nil {
				return err
			}
			pipe.ZAdd(ctx, q.key("running"), redis.Z{Score: float64(time.Now().UnixMilli()), Member: member})
			return nil
		})
		if err != nil {
			return claimed, errors.WithMessagef(err, "mark job %d running failed", id)
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (q *redisJobQueue) Complete(ctx context.Context, job *Job) error {
	member := strconv.FormatInt(job.ID, 10)
	removed, err := q.redisClient.ZRem(ctx, q.key("running"), member).Result()
	if err != nil {
		return errors.WithMessagef(err, "complete job %d failed", job.ID)
	}
	if removed == 0 {
		return errors.WithMessagef(ErrJobClaimConflict, "job %d is not running", job.ID)
	}
	job.Status = JobStatusDone
	return q.redisClient.Del(ctx, q.jobKey(job.ID)).Err()
}

func (q *redisJobQueue) Retry(ctx context.Context, job *Job, at time.Time, cause error) error {
	return q.release(ctx, job, cause, func(pipe redis.Pipeliner, member string) {
		job.Status = JobStatusPending
		job.FiresAt = at
		pipe.ZAdd(ctx, q.key("pending"), redis.Z{Score: float64(at.UnixMilli()), Member: member})
	})
}

func (q *redisJobQueue) Bury(ctx context.Context, job *Job, cause error) error {
	return q.release(ctx, job, cause, func(pipe redis.Pipeliner, member string) {
		job.Status = JobStatusDead
		pipe.SAdd(ctx, q.key("dead"), member)
	})
}

func (q *redisJobQueue) release(ctx context.Context, job *Job, cause error, next func(pipe redis.Pipeliner, member string)) error {
	member := strconv.FormatInt(job.ID, 10)
	removed, err := q.redisClient.ZRem(ctx, q.key("running"), member).Result()
	if err != nil {
		return errors.WithMessagef(err, "release job %d failed", job.ID)
	}
	if removed == 0 {
		return errors.WithMessagef(ErrJobClaimConflict, "job %d is not running", job.ID)
	}
	job.LastError = errorString(cause)
	_, err = q.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		next(pipe, member)
		return q.save(ctx, pipe, job)
	})
	if err != nil {
		return errors.WithMessagef(err, "release job %d failed", job.ID)
	}
	return nil
}
