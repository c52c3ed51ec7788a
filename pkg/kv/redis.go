package kv

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Each logical key is a hash {v: value, m: meta, ver: version}. A sorted set
// with score 0 holds every logical key so List can page lexicographically.
var putScript = redis.NewScript(`
redis.call("HINCRBY", KEYS[1], "ver", 1)
redis.call("HSET", KEYS[1], "v", ARGV[1], "m", ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
else
  redis.call("PERSIST", KEYS[1])
end
redis.call("ZADD", KEYS[2], 0, ARGV[4])
return 1
`)

var putIfVersionScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "ver")
if not cur then
  cur = ""
end
if cur ~= ARGV[2] then
  return 0
end
redis.call("HSET", KEYS[1], "v", ARGV[1])
redis.call("HINCRBY", KEYS[1], "ver", 1)
redis.call("ZADD", KEYS[2], 0, ARGV[3])
return 1
`)

// RedisStore implements Store on a single Redis database.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a Redis-backed store. All keys live under prefix.
func NewRedisStore(addr, password, prefix string) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	}), prefix)
}

// NewRedisStoreFromClient shares an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "edgepress"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Client exposes the underlying client for components sharing the connection.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) dataKey(key string) string {
	return s.prefix + ":k:" + key
}

func (s *RedisStore) keySetKey() string {
	return s.prefix + ":keys"
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	val, err := s.client.HGet(ctx, s.dataKey(key), "v").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	ttlMs := opts.TTL.Milliseconds()
	if opts.TTL > 0 && ttlMs == 0 {
		ttlMs = 1
	}
	return putScript.Run(ctx, s.client,
		[]string{s.dataKey(key), s.keySetKey()},
		value, opts.Meta, ttlMs, key,
	).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.dataKey(key))
	pipe.ZRem(ctx, s.keySetKey(), key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (s *RedisStore) GetVersioned(ctx context.Context, key string) ([]byte, string, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	vals, err := s.client.HMGet(ctx, s.dataKey(key), "v", "ver").Result()
	if err != nil {
		return nil, "", false, err
	}
	if len(vals) != 2 || vals[0] == nil {
		return nil, "", false, nil
	}
	value, _ := vals[0].(string)
	version, _ := vals[1].(string)
	return []byte(value), version, true, nil
}

func (s *RedisStore) PutIfVersion(ctx context.Context, key string, value []byte, version string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	ok, err := putIfVersionScript.Run(ctx, s.client,
		[]string{s.dataKey(key), s.keySetKey()},
		value, version, key,
	).Int64()
	if err != nil {
		return err
	}
	if ok != 1 {
		return ErrVersionConflict
	}
	return nil
}

// List pages the key set with ZRANGEBYLEX. Members whose hash expired are
// pruned from the set and skipped; the cursor still advances past them.
func (s *RedisStore) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	limit := normalizeLimit(opts.Limit)

	min, max := "-", "+"
	if opts.Prefix != "" {
		min = "[" + opts.Prefix
		max = "[" + opts.Prefix + "\xff"
	}
	if opts.Cursor != "" {
		min = "(" + opts.Cursor
	}
	members, err := s.client.ZRangeByLex(ctx, s.keySetKey(), &redis.ZRangeBy{
		Min:    min,
		Max:    max,
		Offset: 0,
		Count:  int64(limit + 1),
	}).Result()
	if err != nil {
		return ListResult{}, err
	}

	res := ListResult{Complete: true}
	if len(members) > limit {
		members = members[:limit]
		res.Complete = false
	}
	if len(members) == 0 {
		return res, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(members))
	for i, member := range members {
		cmds[i] = pipe.HMGet(ctx, s.dataKey(member), "m", "ver")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return ListResult{}, err
	}

	stale := make([]any, 0)
	res.Items = make([]Item, 0, len(members))
	for i, member := range members {
		vals, err := cmds[i].Result()
		if err != nil {
			return ListResult{}, err
		}
		if len(vals) != 2 || vals[1] == nil {
			stale = append(stale, member)
			continue
		}
		item := Item{Key: member}
		if meta, _ := vals[0].(string); meta != "" {
			item.Meta = []byte(meta)
		}
		res.Items = append(res.Items, item)
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, s.keySetKey(), stale...).Err()
	}
	if !res.Complete {
		res.Cursor = members[len(members)-1]
	}
	return res, nil
}
