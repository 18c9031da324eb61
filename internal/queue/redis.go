// Package queue carries externally initiated collection triggers. An
// outside scheduler pushes trigger requests onto a redis list; the daemon
// leases them and forwards to the orchestrator.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blacktide/blacktide/internal/intel"
)

// TriggerRequest asks for one collection run.
type TriggerRequest struct {
	Source string `json:"source"`
	Start  string `json:"start"` // YYYY-MM-DD, empty = trailing day
	End    string `json:"end"`
	TS     int64  `json:"ts"`
}

const dateLayout = "2006-01-02"

// Range resolves the requested window, defaulting to the trailing day.
func (r TriggerRequest) Range() intel.DateRange {
	start, err1 := time.Parse(dateLayout, r.Start)
	end, err2 := time.Parse(dateLayout, r.End)
	if err1 != nil || err2 != nil || end.Before(start) {
		return intel.LastDays(1)
	}
	return intel.DateRange{Start: start, End: end}
}

type RedisQueue struct {
	cli      *redis.Client
	queueKey string
	procKey  string
}

func NewRedis(addr, key string) (*RedisQueue, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	if err := cli.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisQueue{cli: cli, queueKey: key, procKey: key + ":processing"}, nil
}

// Lease pops one request into the processing list. The returned ack
// removes it once the trigger has been handed to the orchestrator. A nil
// request with nil error means the poll timed out with an empty queue.
func (q *RedisQueue) Lease(ctx context.Context) (*TriggerRequest, func() error, error) {
	res, err := q.cli.BRPopLPush(ctx, q.queueKey, q.procKey, 5*time.Second).Result()
	if err == redis.Nil {
		return nil, func() error { return nil }, nil
	}
	if err != nil {
		return nil, func() error { return err }, err
	}
	var req TriggerRequest
	if err := json.Unmarshal([]byte(res), &req); err != nil {
		// Drop the malformed item so it does not wedge the queue.
		_ = q.cli.LRem(ctx, q.procKey, 1, res).Err()
		return nil, func() error { return nil }, err
	}
	ack := func() error {
		return q.cli.LRem(ctx, q.procKey, 1, res).Err()
	}
	return &req, ack, nil
}

// Push enqueues a trigger request.
func (q *RedisQueue) Push(ctx context.Context, req TriggerRequest) error {
	if req.TS == 0 {
		req.TS = time.Now().UTC().Unix()
	}
	b, _ := json.Marshal(req)
	return q.cli.LPush(ctx, q.queueKey, string(b)).Err()
}
