package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/agentworkforce/storysync/internal/story"
)

const defaultRedisPrefix = "storysync:store"

// RedisStore keeps each collection as a hash of JSON payloads plus a sorted
// set of positions. Reads and wholesale replaces run inside MULTI/EXEC.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func OpenRedisStore(dsn string) (*RedisStore, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return NewRedisStore(redis.NewClient(opts), defaultRedisPrefix), nil
}

func (r *RedisStore) itemsKey(c Collection) string { return fmt.Sprintf("%s:%s:items", r.prefix, c) }
func (r *RedisStore) orderKey(c Collection) string { return fmt.Sprintf("%s:%s:order", r.prefix, c) }
func (r *RedisStore) seqKey(c Collection) string { return fmt.Sprintf("%s:%s:seq", r.prefix, c) }

func (r *RedisStore) GetAll(ctx context.Context, c Collection) ([]story.Story, error) {
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	var order *redis.StringSliceCmd
	var items *redis.MapStringStringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		order = pipe.ZRange(ctx, r.orderKey(c), 0, -1)
		items = pipe.HGetAll(ctx, r.itemsKey(c))
		return nil
	})
	if err != nil {
		return nil, err
	}
	payloads := items.Val()
	out := make([]story.Story, 0, len(payloads))
	for _, id := range order.Val() {
		payload, ok := payloads[id]
		if !ok {
			continue
		}
		var item story.Story
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *RedisStore) Get(ctx context.Context, c Collection, id string) (story.Story, bool, error) {
	if err := checkCollection(c); err != nil {
		return story.Story{}, false, err
	}
	payload, err := r.client.HGet(ctx, r.itemsKey(c), id).Result()
	if errors.Is(err, redis.Nil) {
		return story.Story{}, false, nil
	}
	if err != nil {
		return story.Story{}, false, err
	}
	var item story.Story
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return story.Story{}, false, err
	}
	return item, true, nil
}

func (r *RedisStore) Put(ctx context.Context, c Collection, item story.Story) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	if err := item.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	position, err := r.client.Incr(ctx, r.seqKey(c)).Result()
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.itemsKey(c), item.ID, string(payload))
		pipe.ZAddNX(ctx, r.orderKey(c), redis.Z{Score: float64(position), Member: item.ID})
		return nil
	})
	return err
}

func (r *RedisStore) PutAll(ctx context.Context, c Collection, stories []story.Story) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	stories, err := normalizeAll(stories)
	if err != nil {
		return err
	}
	fields := make([]any, 0, len(stories)*2)
	members := make([]redis.Z, 0, len(stories))
	for i, item := range stories {
		payload, err := json.Marshal(item)
		if err != nil {
			return err
		}
		fields = append(fields, item.ID, string(payload))
		members = append(members, redis.Z{Score: float64(i + 1), Member: item.ID})
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.itemsKey(c), r.orderKey(c))
		if len(stories) > 0 {
			pipe.HSet(ctx, r.itemsKey(c), fields...)
			pipe.ZAdd(ctx, r.orderKey(c), members...)
		}
		pipe.Set(ctx, r.seqKey(c), len(stories), 0)
		return nil
	})
	return err
}

func (r *RedisStore) Delete(ctx context.Context, c Collection, id string) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.itemsKey(c), id)
		pipe.ZRem(ctx, r.orderKey(c), id)
		return nil
	})
	return err
}

func (r *RedisStore) Clear(ctx context.Context, c Collection) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	return r.client.Del(ctx, r.itemsKey(c), r.orderKey(c), r.seqKey(c)).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
