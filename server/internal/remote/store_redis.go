package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/threatwatch/threatwatch/pkg/types"
)

// DefaultPrefix namespaces the keys a RedisStore and the SQL table name use.
const DefaultPrefix = "threats"

// RedisStore keeps each slot as a JSON document in the hash <prefix>:docs and
// indexes active slots in the sorted set <prefix>:active, scored by
// updatedAt in unix microseconds.
type RedisStore struct {
	Client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis store: parse url: %w", err)
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis store: ping: %w", err)
	}
	return NewRedisStoreFromClient(rdb, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{Client: rdb, prefix: prefix}
}

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.Client.Close() }

func (s *RedisStore) docsKey() string   { return s.prefix + ":docs" }
func (s *RedisStore) activeKey() string { return s.prefix + ":active" }

// QueryActive implements Store.
func (s *RedisStore) QueryActive(ctx context.Context, limit int) ([]types.Record, error) {
	if limit <= 0 {
		return []types.Record{}, nil
	}
	keys, err := s.Client.ZRevRange(ctx, s.activeKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, unavailable(OpQueryActive, err)
	}
	slots, err := s.load(ctx, keys)
	if err != nil {
		return nil, unavailable(OpQueryActive, err)
	}

	out := make([]types.Record, 0, len(slots))
	for _, sl := range slots {
		out = append(out, sl.Record)
	}
	return out, nil
}

// QueryOldest implements Store.
func (s *RedisStore) QueryOldest(ctx context.Context, limit int) ([]Slot, error) {
	if limit <= 0 {
		return []Slot{}, nil
	}
	keys, err := s.Client.ZRange(ctx, s.activeKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, unavailable(OpQueryOldest, err)
	}
	slots, err := s.load(ctx, keys)
	if err != nil {
		return nil, unavailable(OpQueryOldest, err)
	}
	return slots, nil
}

// Upsert implements Store. The document write and the index update run in
// one MULTI/EXEC transaction.
func (s *RedisStore) Upsert(ctx context.Context, key string, rec types.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return unavailable(OpUpsert, fmt.Errorf("encode %s: %w", key, err))
	}

	_, err = s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.docsKey(), key, data)
		if rec.Active() {
			pipe.ZAdd(ctx, s.activeKey(), redis.Z{
				Score:  float64(rec.UpdatedAt.UnixMicro()),
				Member: key,
			})
		} else {
			pipe.ZRem(ctx, s.activeKey(), key)
		}
		return nil
	})
	if err != nil {
		return unavailable(OpUpsert, err)
	}
	return nil
}

// load fetches the documents for keys, keeping their order. Keys whose
// document is missing or no longer active are skipped.
func (s *RedisStore) load(ctx context.Context, keys []string) ([]Slot, error) {
	if len(keys) == 0 {
		return []Slot{}, nil
	}
	vals, err := s.Client.HMGet(ctx, s.docsKey(), keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Slot, 0, len(keys))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec types.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		if !rec.Active() {
			continue
		}
		out = append(out, Slot{Key: keys[i], Record: normalizeStored(keys[i], rec)})
	}
	return out, nil
}
