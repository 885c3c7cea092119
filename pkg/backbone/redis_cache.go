// Copyright 2026 OneAgent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backbone

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oneagent-io/oneagent/pkg/fault"
)

// RedisCache implements Cache on a Redis server, giving multiple OneAgent
// processes a shared backbone without changing any consumer. Key shapes
// map onto native Redis types: plain values to strings, sets to SETs,
// ordered lists to LISTs.
type RedisCache struct {
	rdb *redis.Client
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache connects to addr and verifies the connection with a ping.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fault.Wrap(fault.KindBackendUnavailable, err, "redis ping")
	}
	return &RedisCache{rdb: rdb}, nil
}

// NewRedisCacheFromClient wraps an existing client. The caller keeps
// ownership of the client lifecycle when constructed this way.
func NewRedisCacheFromClient(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func redisErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "WRONGTYPE") {
		return fault.Wrap(fault.KindConflict, err, op)
	}
	return fault.Wrap(fault.KindBackendUnavailable, err, op)
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, redisErr(err, "get")
	}
	return val, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return redisErr(c.rdb.Set(ctx, key, value, ttl).Err(), "set")
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return redisErr(c.rdb.Del(ctx, key).Err(), "del")
}

// GetOrCreate implements Cache using SETNX for the creation race.
func (c *RedisCache) GetOrCreate(ctx context.Context, key string, ttl time.Duration, create func() ([]byte, error)) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		return val, false, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, false, redisErr(err, "get")
	}

	value, err := create()
	if err != nil {
		return nil, false, err
	}
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, false, redisErr(err, "setnx")
	}
	if ok {
		return value, true, nil
	}
	// Lost the race; return the winner's value.
	val, err = c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false, redisErr(err, "get after setnx race")
	}
	return val, false, nil
}

// UpdateIf implements Cache with WATCH-based optimistic transactions.
// A concurrent writer between read and commit reads as a failed
// comparison, which callers already handle with their retry loops.
func (c *RedisCache) UpdateIf(ctx context.Context, key string, expected, next []byte) (bool, error) {
	swapped := false
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			if expected != nil {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, 0)
				return nil
			})
			if err == nil {
				swapped = true
			}
			return err
		}
		if err != nil {
			return err
		}
		if expected == nil || !bytes.Equal(cur, expected) {
			return nil
		}
		ttl, err := tx.TTL(ctx, key).Result()
		if err != nil {
			return err
		}
		if ttl < 0 {
			ttl = 0
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}

	err := c.rdb.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, redisErr(err, "updateif")
	}
	return swapped, nil
}

// Expire implements Cache.
func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ok, err := c.rdb.Persist(ctx, key).Result()
		if err != nil {
			return redisErr(err, "persist")
		}
		if !ok {
			// Persist also reports false for keys without a TTL; only a
			// missing key is an error here.
			exists, err := c.rdb.Exists(ctx, key).Result()
			if err != nil {
				return redisErr(err, "exists")
			}
			if exists == 0 {
				return fault.Newf(fault.KindNotFound, "key %q not found", key)
			}
		}
		return nil
	}
	ok, err := c.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		return redisErr(err, "expire")
	}
	if !ok {
		return fault.Newf(fault.KindNotFound, "key %q not found", key)
	}
	return nil
}

// ListByPrefix implements Cache with SCAN + MGET batches. Keys holding
// non-string shapes come back nil from MGET and are skipped.
func (c *RedisCache) ListByPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 256).Result()
		if err != nil {
			return nil, redisErr(err, "scan")
		}
		if len(keys) > 0 {
			vals, err := c.rdb.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, redisErr(err, "mget")
			}
			for i, v := range vals {
				s, ok := v.(string)
				if !ok {
					continue
				}
				out[keys[i]] = []byte(s)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// SetAdd implements Cache.
func (c *RedisCache) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return redisErr(c.rdb.SAdd(ctx, key, args...).Err(), "sadd")
}

// SetRemove implements Cache.
func (c *RedisCache) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return redisErr(c.rdb.SRem(ctx, key, args...).Err(), "srem")
}

// SetMembers implements Cache.
func (c *RedisCache) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, redisErr(err, "smembers")
	}
	return members, nil
}

// ListAppend implements Cache.
func (c *RedisCache) ListAppend(ctx context.Context, key string, value []byte, max int) error {
	if err := c.rdb.RPush(ctx, key, value).Err(); err != nil {
		return redisErr(err, "rpush")
	}
	if max > 0 {
		if err := c.rdb.LTrim(ctx, key, int64(-max), -1).Err(); err != nil {
			return redisErr(err, "ltrim")
		}
	}
	return nil
}

// ListRange implements Cache.
func (c *RedisCache) ListRange(ctx context.Context, key string, start, stop int) ([][]byte, error) {
	vals, err := c.rdb.LRange(ctx, key, int64(start), int64(stop)).Result()
	if err != nil {
		return nil, redisErr(err, "lrange")
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// ListLen implements Cache.
func (c *RedisCache) ListLen(ctx context.Context, key string) (int, error) {
	n, err := c.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, redisErr(err, "llen")
	}
	return int(n), nil
}

// Namespace implements Cache.
func (c *RedisCache) Namespace(prefix string) Cache {
	return NewNamespace(c, prefix)
}

// Close implements Cache.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
