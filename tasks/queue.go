package tasks

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// JobQueue is the deferred-delivery substrate for reply jobs: members become
// visible no earlier than their due time, and a member can only be claimed
// once per enqueue.
type JobQueue interface {
	Enqueue(ctx context.Context, member string, dueAt time.Time) error
	Due(ctx context.Context, now time.Time, limit int64) ([]string, error)
}

// Queue is a redis sorted set scored by due time (unix seconds). The member
// string doubles as the job's idempotency key: re-enqueueing the same member
// just rescores it, so duplicate delivery cannot fan out into duplicate
// jobs. Jobs survive process restarts as long as redis does.
type Queue struct {
	rdb *redis.Client
	key string
}

// NewQueue builds a Queue over the given redis client and key.
func NewQueue(rdb *redis.Client, key string) *Queue {
	return &Queue{rdb: rdb, key: key}
}

// Enqueue schedules a member for delivery at dueAt.
func (q *Queue) Enqueue(ctx context.Context, member string, dueAt time.Time) error {
	return q.rdb.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(dueAt.Unix()),
		Member: member,
	}).Err()
}

// Due returns up to limit members whose due time has passed. A member is
// handed out only to the caller whose ZRem removed it, so concurrent
// dispatchers never claim the same job twice.
func (q *Queue) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	members, err := q.rdb.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}

	claimed := make([]string, 0, len(members))
	for _, m := range members {
		n, err := q.rdb.ZRem(ctx, q.key, m).Result()
		if err != nil {
			return claimed, err
		}
		if n > 0 {
			claimed = append(claimed, m)
		}
	}
	return claimed, nil
}
