package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix      = "dq"
	defaultShards      = 8
	defaultPollTimeout = time.Second
	deadLetterSuffix   = "dead"
	processingSuffix   = "processing"
)

// Config controls queue key layout and polling.
type Config struct {
	Prefix      string
	Shards      int
	PollTimeout time.Duration
}

// Queue is a durable, sharded FIFO work queue stored in Redis lists. A
// dequeued job stays in Redis until it is delivered or dead-lettered.
type Queue struct {
	redis       redis.UniversalClient
	prefix      string
	shards      int
	pollTimeout time.Duration
	now         func() time.Time
}

// NewQueue creates a Queue. Zero config fields fall back to defaults.
func NewQueue(redisClient redis.UniversalClient, cfg Config) *Queue {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShards
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	return &Queue{
		redis:       redisClient,
		prefix:      cfg.Prefix,
		shards:      cfg.Shards,
		pollTimeout: cfg.PollTimeout,
		now:         time.Now,
	}
}

// Shards returns the number of shard lists.
func (q *Queue) Shards() int {
	return q.shards
}

// ShardFor returns the shard that holds every job of accountID.
func (q *Queue) ShardFor(accountID string) int {
	return int(xxhash.Sum64String(accountID) % uint64(q.shards))
}

func (q *Queue) shardKey(shard int) string {
	return q.prefix + ":" + strconv.Itoa(shard)
}

func (q *Queue) processingKey(shard int) string {
	return q.shardKey(shard) + ":" + processingSuffix
}

func (q *Queue) deadKey() string {
	return q.prefix + ":" + deadLetterSuffix
}

// Enqueue appends job to its account's shard and returns its handle. ID and
// EnqueuedAt are assigned here; delivery happens later on a Pool worker.
func (q *Queue) Enqueue(ctx context.Context, job Job) (Handle, error) {
	if !job.Kind.Valid() {
		return Handle{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, job.Kind)
	}
	if job.AccountID == "" {
		return Handle{}, fmt.Errorf("%w: missing account id", ErrInvalidJob)
	}

	now := q.now().UTC()
	job.ID = ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	job.EnqueuedAt = now

	data, err := json.Marshal(job)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	shard := q.ShardFor(job.AccountID)
	if err := q.redis.RPush(ctx, q.shardKey(shard), data).Err(); err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	return Handle{ID: job.ID, Kind: job.Kind, Shard: shard}, nil
}

// Dequeue moves the oldest job of shard into the shard's processing list,
// waiting up to the poll timeout. The job stays there until Ack, Requeue or
// DeadLetter settles it. It returns (nil, nil) when the shard stayed empty.
func (q *Queue) Dequeue(ctx context.Context, shard int) (*Job, error) {
	payload, err := q.redis.BLMove(ctx, q.shardKey(shard), q.processingKey(shard), "LEFT", "RIGHT", q.pollTimeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		// Unreadable payloads are parked rather than retried forever.
		if parkErr := q.park(ctx, shard, payload, payload); parkErr != nil {
			return nil, errors.Join(fmt.Errorf("%w: %v", ErrInvalidJob, err), parkErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	job.payload = payload
	return &job, nil
}

// Ack removes a delivered job from its processing list.
func (q *Queue) Ack(ctx context.Context, job Job) error {
	if job.payload == "" {
		return nil
	}
	if err := q.redis.LRem(ctx, q.processingKey(q.ShardFor(job.AccountID)), 1, job.payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Requeue puts an unfinished job back at the head of its shard, ahead of any
// later job of the same account.
func (q *Queue) Requeue(ctx context.Context, job Job) error {
	if job.payload == "" {
		return fmt.Errorf("%w: job was not dequeued", ErrInvalidJob)
	}
	shard := q.ShardFor(job.AccountID)
	_, err := q.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(shard), 1, job.payload)
		pipe.LPush(ctx, q.shardKey(shard), job.payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Recover returns jobs left in processing lists by a worker that died
// mid-delivery to the head of their shards, keeping their order. Only one
// Pool may drain a queue prefix, or Recover would steal its in-flight jobs.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for shard := 0; shard < q.shards; shard++ {
		for {
			err := q.redis.LMove(ctx, q.processingKey(shard), q.shardKey(shard), "RIGHT", "LEFT").Err()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return moved, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
			}
			moved++
		}
	}
	return moved, nil
}

// DeadLetter parks a job whose delivery was abandoned.
func (q *Queue) DeadLetter(ctx context.Context, job Job, cause error) error {
	record := DeadLetter{Job: job, FailedAt: q.now().UTC()}
	if cause != nil {
		record.Error = cause.Error()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return q.park(ctx, q.ShardFor(job.AccountID), string(data), job.payload)
}

// park appends record to the dead-letter list, then drops payload from the
// shard's processing list. A failed append leaves the payload where Recover
// finds it.
func (q *Queue) park(ctx context.Context, shard int, record, payload string) error {
	if err := q.redis.RPush(ctx, q.deadKey(), record).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	if payload == "" {
		return nil
	}
	if err := q.redis.LRem(ctx, q.processingKey(shard), 1, payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Pending returns the number of jobs not yet settled across all shards:
// waiting ones plus those being delivered.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	pipe := q.redis.Pipeline()
	cmds := make([]*redis.IntCmd, 0, 2*q.shards)
	for i := 0; i < q.shards; i++ {
		cmds = append(cmds, pipe.LLen(ctx, q.shardKey(i)), pipe.LLen(ctx, q.processingKey(i)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	var total int64
	for _, cmd := range cmds {
		total += cmd.Val()
	}
	return total, nil
}

// DeadLetters returns the number of parked jobs.
func (q *Queue) DeadLetters(ctx context.Context) (int64, error) {
	n, err := q.redis.LLen(ctx, q.deadKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return n, nil
}
