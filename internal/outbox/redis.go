package outbox

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix  = "storysync:outbox"
	redisAppendAttempts = 5
)

// RedisQueue keeps record payloads in a hash and their order in a sorted set
// scored by sequence number.
type RedisQueue struct {
	client   *redis.Client
	prefix   string
	capacity int
}

func NewRedisQueue(client *redis.Client, prefix string, capacity int) *RedisQueue {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisQueue{client: client, prefix: prefix, capacity: normalizeCapacity(capacity)}
}

func OpenRedisQueue(dsn string, capacity int) (*RedisQueue, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return NewRedisQueue(redis.NewClient(opts), defaultRedisPrefix, capacity), nil
}

func (q *RedisQueue) itemsKey() string { return q.prefix + ":items" }
func (q *RedisQueue) orderKey() string { return q.prefix + ":order" }
func (q *RedisQueue) seqKey() string { return q.prefix + ":seq" }

func (q *RedisQueue) Append(ctx context.Context, r Record) (Record, error) {
	r, err := prepareAppend(r)
	if err != nil {
		return Record{}, err
	}
	for attempt := 0; attempt < redisAppendAttempts; attempt++ {
		err = q.client.Watch(ctx, func(tx *redis.Tx) error {
			depth, err := tx.ZCard(ctx, q.orderKey()).Result()
			if err != nil {
				return err
			}
			if depth >= int64(q.capacity) {
				return ErrQueueFull
			}
			seq, err := tx.Incr(ctx, q.seqKey()).Result()
			if err != nil {
				return err
			}
			r.Seq = seq
			payload, err := encodeRecord(r)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, q.itemsKey(), r.ID.String(), payload)
				pipe.ZAdd(ctx, q.orderKey(), redis.Z{Score: float64(seq), Member: r.ID.String()})
				return nil
			})
			return err
		}, q.orderKey())
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return Record{}, err
	}
	return r, nil
}

func (q *RedisQueue) Peek(ctx context.Context) (Record, bool, error) {
	items, err := q.List(ctx)
	if err != nil || len(items) == 0 {
		return Record{}, false, err
	}
	return items[0], true, nil
}

func (q *RedisQueue) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, q.itemsKey(), id.String())
		pipe.ZRem(ctx, q.orderKey(), id.String())
		return nil
	})
	return err
}

func (q *RedisQueue) List(ctx context.Context) ([]Record, error) {
	var order *redis.ZSliceCmd
	var payloads *redis.MapStringStringCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		order = pipe.ZRangeWithScores(ctx, q.orderKey(), 0, -1)
		payloads = pipe.HGetAll(ctx, q.itemsKey())
		return nil
	})
	if err != nil {
		return nil, err
	}
	byID := payloads.Val()
	items := make([]Record, 0, len(byID))
	for _, z := range order.Val() {
		id, _ := z.Member.(string)
		payload, ok := byID[id]
		if !ok {
			continue
		}
		r, err := decodeRecord(payload, int64(z.Score))
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.orderKey()).Result()
	return int(n), err
}

func (q *RedisQueue) Capacity() int {
	return q.capacity
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
