package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// =============================================================================
// Connection
// =============================================================================

// RedisConfig is the connection configuration shared by every queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, cfg.Addr, err)
	}
	return client, nil
}

// =============================================================================
// Queue
// =============================================================================

// Config configures one named queue.
type Config struct {
	Prefix    string        // key namespace, default "deployer"
	ResultTTL time.Duration // lifetime of the results hash, default 7 days
}

// Queue is one named reliable queue.
type Queue struct {
	client *redis.Client
	name   string
	keys   Keys
	config Config
	logger *slog.Logger
}

// New creates the queue called name on client.
func New(client *redis.Client, name string, config Config, logger *slog.Logger) *Queue {
	if config.Prefix == "" {
		config.Prefix = "deployer"
	}
	if config.ResultTTL == 0 {
		config.ResultTTL = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		client: client,
		name:   name,
		keys:   KeysFor(config.Prefix, name),
		config: config,
		logger: logger.With("component", "queue", "queue", name),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Enqueue appends a job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	env, err := NewEnvelope(name, payload)
	if err != nil {
		return "", NewQueueError("enqueue", q.name, "", err)
	}
	raw, err := env.Encode()
	if err != nil {
		return "", NewQueueError("enqueue", q.name, env.ID, err)
	}
	if err := q.client.LPush(ctx, q.keys.Wait, raw).Err(); err != nil {
		return "", NewQueueError("enqueue", q.name, env.ID, err)
	}
	return env.ID, nil
}

// Recover moves every job left in the active list back to the head of the
// wait list, counting the interrupted attempt.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for {
		raw, err := q.client.RPop(ctx, q.keys.Active).Result()
		if errors.Is(err, redis.Nil) {
			return recovered, nil
		}
		if err != nil {
			return recovered, NewQueueError("recover", q.name, "", err)
		}

		if env, decodeErr := DecodeEnvelope(raw); decodeErr == nil {
			env.Attempts++
			if encoded, encErr := env.Encode(); encErr == nil {
				raw = encoded
			}
		}
		if err := q.client.RPush(ctx, q.keys.Wait, raw).Err(); err != nil {
			return recovered, NewQueueError("recover", q.name, "", err)
		}
		recovered++
	}
}

// Delivery is a received job. Raw is the exact list item, needed to remove it
// from the active list.
type Delivery struct {
	Envelope *Envelope
	Raw      string

	// Malformed is the decode error of an item that is not a valid envelope.
	// Envelope then only carries the id its result is stored under.
	Malformed error
}

// Receive blocks up to timeout for the next job and moves it to the active
// list. It returns nil when no job arrived in time. A malformed item is
// returned with Malformed set and stays active until it is completed.
func (q *Queue) Receive(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.client.BLMove(ctx, q.keys.Wait, q.keys.Active, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueueError("receive", q.name, "", err)
	}

	env, err := DecodeEnvelope(raw)
	if err != nil {
		d := &Delivery{Envelope: salvageEnvelope(raw), Raw: raw, Malformed: err}
		q.logger.Warn("received malformed job", "job_id", d.Envelope.ID, "error", err)
		return d, nil
	}
	return &Delivery{Envelope: env, Raw: raw}, nil
}

// Complete stores the result of a delivery and removes it from the active
// list in one transaction.
func (q *Queue) Complete(ctx context.Context, d *Delivery, result any) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return NewQueueError("complete", q.name, d.Envelope.ID, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.keys.Results, d.Envelope.ID, string(encoded))
		pipe.Expire(ctx, q.keys.Results, q.config.ResultTTL)
		pipe.LRem(ctx, q.keys.Active, 1, d.Raw)
		return nil
	})
	if err != nil {
		return NewQueueError("complete", q.name, d.Envelope.ID, err)
	}
	return nil
}

// Retry puts a delivery back at the head of the wait list with its attempt
// counter raised, and drops it from the active list.
func (q *Queue) Retry(ctx context.Context, d *Delivery) error {
	next := *d.Envelope
	next.Attempts++
	raw, err := next.Encode()
	if err != nil {
		return NewQueueError("retry", q.name, d.Envelope.ID, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.keys.Active, 1, d.Raw)
		pipe.RPush(ctx, q.keys.Wait, raw)
		return nil
	})
	if err != nil {
		return NewQueueError("retry", q.name, d.Envelope.ID, err)
	}
	return nil
}

// Result returns the stored result of a job.
func (q *Queue) Result(ctx context.Context, jobID string) (json.RawMessage, error) {
	raw, err := q.client.HGet(ctx, q.keys.Results, jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, NewQueueError("result", q.name, jobID, ErrResultNotFound)
	}
	if err != nil {
		return nil, NewQueueError("result", q.name, jobID, err)
	}
	return json.RawMessage(raw), nil
}

// Depth returns the number of waiting and in-flight jobs.
func (q *Queue) Depth(ctx context.Context) (waiting, active int64, err error) {
	pipe := q.client.Pipeline()
	waitCmd := pipe.LLen(ctx, q.keys.Wait)
	activeCmd := pipe.LLen(ctx, q.keys.Active)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, NewQueueError("depth", q.name, "", err)
	}
	return waitCmd.Val(), activeCmd.Val(), nil
}
