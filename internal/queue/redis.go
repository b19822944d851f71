package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/quarrylabs/quarry/internal/config"
)

// priorityBand separates priority classes in the ready zset score: the top
// bits carry the priority rank, the low bits a monotonic sequence, so ZPopMin
// yields strict priority order with FIFO inside each class.
const priorityBand = int64(1) << 40

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// jobStore is the durable state behind the async dispatcher: a ready queue,
// a delayed queue keyed by ready-at time, and the status counters.
type jobStore interface {
	enqueue(ctx context.Context, job *Job) error
	enqueueDelayed(ctx context.Context, job *Job, readyAt int64) error
	popReady(ctx context.Context) (*Job, bool, error)
	promoteDue(ctx context.Context, now int64) error
	setActive(ctx context.Context, delta int64) error
	incrCompleted(ctx context.Context) error
	incrFailed(ctx context.Context) error
	counts(ctx context.Context) (*Status, error)
}

type redisJobStore struct {
	client *redis.Client
	prefix string
}

func newRedisJobStore(client *redis.Client, prefix string) *redisJobStore {
	return &redisJobStore{client: client, prefix: prefix}
}

func (s *redisJobStore) key(suffix string) string {
	return s.prefix + ":" + suffix
}

func (s *redisJobStore) enqueue(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	seq, err := s.client.Incr(ctx, s.key("seq")).Result()
	if err != nil {
		return err
	}
	score := float64(job.Priority.rank()*priorityBand + seq)
	return s.client.ZAdd(ctx, s.key("ready"), redis.Z{Score: score, Member: string(data)}).Err()
}

func (s *redisJobStore) enqueueDelayed(ctx context.Context, job *Job, readyAt int64) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.client.ZAdd(ctx, s.key("delayed"), redis.Z{Score: float64(readyAt), Member: string(data)}).Err()
}

func (s *redisJobStore) popReady(ctx context.Context) (*Job, bool, error) {
	vals, err := s.client.ZPopMin(ctx, s.key("ready"), 1).Result()
	if err != nil {
		return nil, false, err
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	member, ok := vals[0].Member.(string)
	if !ok {
		return nil, false, fmt.Errorf("unexpected member type %T", vals[0].Member)
	}
	var job Job
	if err := json.Unmarshal([]byte(member), &job); err != nil {
		return nil, false, fmt.Errorf("decode job: %w", err)
	}
	return &job, true, nil
}

// promoteDue moves delayed jobs whose ready-at has passed back onto the
// ready queue. ZRem arbitrates between competing workers: only the one that
// actually removed the member re-enqueues it.
func (s *redisJobStore) promoteDue(ctx context.Context, now int64) error {
	members, err := s.client.ZRangeByScore(ctx, s.key("delayed"), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now, 10),
		Offset: 0,
		Count:  100,
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range members {
		removed, err := s.client.ZRem(ctx, s.key("delayed"), member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			return fmt.Errorf("decode delayed job: %w", err)
		}
		if err := s.enqueue(ctx, &job); err != nil {
			return err
		}
	}
	return nil
}

func (s *redisJobStore) setActive(ctx context.Context, delta int64) error {
	return s.client.IncrBy(ctx, s.key("active"), delta).Err()
}

func (s *redisJobStore) incrCompleted(ctx context.Context) error {
	return s.client.Incr(ctx, s.key("completed")).Err()
}

func (s *redisJobStore) incrFailed(ctx context.Context) error {
	return s.client.Incr(ctx, s.key("failed")).Err()
}

func (s *redisJobStore) counts(ctx context.Context) (*Status, error) {
	ready, err := s.client.ZCard(ctx, s.key("ready")).Result()
	if err != nil {
		return nil, err
	}
	delayed, err := s.client.ZCard(ctx, s.key("delayed")).Result()
	if err != nil {
		return nil, err
	}
	active, err := s.counterValue(ctx, "active")
	if err != nil {
		return nil, err
	}
	completed, err := s.counterValue(ctx, "completed")
	if err != nil {
		return nil, err
	}
	failed, err := s.counterValue(ctx, "failed")
	if err != nil {
		return nil, err
	}
	if active < 0 {
		active = 0
	}
	return &Status{
		Waiting:   ready + delayed,
		Active:    active,
		Completed: completed,
		Failed:    failed,
	}, nil
}

func (s *redisJobStore) counterValue(ctx context.Context, suffix string) (int64, error) {
	val, err := s.client.Get(ctx, s.key(suffix)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}
