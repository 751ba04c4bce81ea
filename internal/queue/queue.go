package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrQueue = errors.New("queue: store unavailable")

const (
	DefaultConcurrency  = 10
	DefaultMaxAttempts  = 3
	DefaultBackoff      = time.Second
	DefaultLease        = time.Minute
	DefaultPollInterval = 200 * time.Millisecond
	deadLetterCap       = 1000
)

type Config struct {
	Name         string        `mapstructure:"name"`
	Concurrency  int           `mapstructure:"concurrency"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Backoff      time.Duration `mapstructure:"backoff"`
	Lease        time.Duration `mapstructure:"lease"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "sync-events"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.Lease <= 0 {
		c.Lease = DefaultLease
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

// claimScript returns expired leases to the delayed set, then leases up to
// ARGV[3] due jobs until ARGV[1]+ARGV[2].
var claimScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
for _, id in ipairs(expired) do
	redis.call("ZREM", KEYS[2], id)
	redis.call("ZADD", KEYS[1], ARGV[1], id)
end
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[3])
local deadline = tonumber(ARGV[1]) + tonumber(ARGV[2])
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("ZADD", KEYS[2], deadline, id)
end
return ids
`)

// Queue is a durable delayed job queue on Redis. Jobs are leased while being
// processed; a lease that runs out puts the job back, so delivery is at least
// once.
type Queue struct {
	client   *redis.Client
	cfg      Config
	delayed  string
	active   string
	jobs     string
	dead     string
	now      func() time.Time
	handlers map[string]Handler
}

func New(client *redis.Client, prefix string, cfg Config) *Queue {
	cfg = cfg.withDefaults()
	base := fmt.Sprintf("%s:queue:%s", prefix, cfg.Name)
	return &Queue{
		client:   client,
		cfg:      cfg,
		delayed:  base + ":delayed",
		active:   base + ":active",
		jobs:     base + ":jobs",
		dead:     base + ":dead",
		now:      time.Now,
		handlers: make(map[string]Handler),
	}
}

func (q *Queue) Name() string {
	return q.cfg.Name
}

// Enqueue stores a job that becomes due after delay.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload interface{}, delay time.Duration) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", jobType, err)
	}

	now := q.now()
	job := &Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     data,
		MaxAttempts: q.cfg.MaxAttempts,
		EnqueuedAt:  now,
	}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobs, job.ID, body)
	pipe.ZAdd(ctx, q.delayed, redis.Z{Score: float64(now.Add(delay).UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: enqueue %s: %v", ErrQueue, jobType, err)
	}
	return job, nil
}

// Claim leases up to n due jobs.
func (q *Queue) Claim(ctx context.Context, n int) ([]*Job, error) {
	if n <= 0 {
		return nil, nil
	}
	now := q.now().UnixMilli()
	ids, err := claimScript.Run(ctx, q.client,
		[]string{q.delayed, q.active},
		now, q.cfg.Lease.Milliseconds(), n).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: claim: %v", ErrQueue, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	bodies, err := q.client.HMGet(ctx, q.jobs, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: load jobs: %v", ErrQueue, err)
	}

	jobs := make([]*Job, 0, len(ids))
	for i, v := range bodies {
		body, ok := v.(string)
		if !ok {
			q.client.ZRem(ctx, q.active, ids[i])
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			slog.Error("Dropping undecodable job", "queue", q.cfg.Name, "job_id", ids[i], "error", err)
			q.client.ZRem(ctx, q.active, ids[i])
			q.client.HDel(ctx, q.jobs, ids[i])
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Ack removes a completed job.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.active, job.ID)
	pipe.HDel(ctx, q.jobs, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: ack: %v", ErrQueue, err)
	}
	return nil
}

// Fail records a failed attempt. The job is retried with exponential backoff
// until it runs out of attempts, then parked in the dead-letter list.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	job.Attempts++
	job.LastError = cause.Error()
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.active, job.ID)
	if job.Attempts >= job.MaxAttempts {
		pipe.HDel(ctx, q.jobs, job.ID)
		pipe.LPush(ctx, q.dead, body)
		pipe.LTrim(ctx, q.dead, 0, deadLetterCap-1)
	} else {
		delay := q.cfg.Backoff << (job.Attempts - 1)
		pipe.HSet(ctx, q.jobs, job.ID, body)
		pipe.ZAdd(ctx, q.delayed, redis.Z{Score: float64(q.now().Add(delay).UnixMilli()), Member: job.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: fail: %v", ErrQueue, err)
	}

	if job.Attempts >= job.MaxAttempts {
		slog.Error("Job exhausted its attempts, moved to dead letters",
			"queue", q.cfg.Name,
			"job_id", job.ID,
			"type", job.Type,
			"attempts", job.Attempts,
			"error", cause)
	} else {
		slog.Warn("Job failed, will retry",
			"queue", q.cfg.Name,
			"job_id", job.ID,
			"type", job.Type,
			"attempts", job.Attempts,
			"error", cause)
	}
	return nil
}

// Depth is the number of jobs waiting or in flight.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	delayed := pipe.ZCard(ctx, q.delayed)
	active := pipe.ZCard(ctx, q.active)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: depth: %v", ErrQueue, err)
	}
	return delayed.Val() + active.Val(), nil
}

// DeadLetters returns up to limit of the most recently parked jobs.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]Job, error) {
	bodies, err := q.client.LRange(ctx, q.dead, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: dead letters: %v", ErrQueue, err)
	}
	jobs := make([]Job, 0, len(bodies))
	for _, body := range bodies {
		var job Job
		if err := json.Unmarshal([]byte(body), &job); err == nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}
