// Package redisstore implements store.Store on Redis. Compare-and-set runs
// as a Lua script and Update uses WATCH/MULTI/EXEC, so several bot
// processes may share one Redis safely.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ctf-bot/internal/store"
)

var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

type Store struct {
	rdb *redis.Client
}

var _ store.Store = (*Store)(nil)

// New connects to redisURL (redis://[:password@]host:port/db) and pings it.
func New(ctx context.Context, redisURL string) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL is empty")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = 100
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.Unavailable("get", err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return store.Unavailable("set", s.rdb.Set(ctx, key, value, 0).Err())
}

func (s *Store) CompareAndSet(ctx context.Context, key string, expected, value []byte) (bool, error) {
	if expected == nil {
		ok, err := s.rdb.SetNX(ctx, key, value, 0).Result()
		if err != nil {
			return false, store.Unavailable("setnx", err)
		}
		return ok, nil
	}
	n, err := casScript.Run(ctx, s.rdb, []string{key}, expected, value).Int()
	if err != nil {
		return false, store.Unavailable("cas", err)
	}
	return n == 1, nil
}

func (s *Store) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := s.rdb.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, store.Unavailable("incrby", err)
	}
	return n, nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	out := []string{}
	seen := map[string]bool{}
	iter := s.rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", 500).Iterator()
	for iter.Next(ctx) {
		// SCAN may return a key more than once.
		k := iter.Val()
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, store.Unavailable("scan", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return store.Unavailable("del", s.rdb.Del(ctx, key).Err())
}

func (s *Store) Update(ctx context.Context, keys []string, fn func(tx store.Txn) error) error {
	if len(keys) == 0 {
		return fmt.Errorf("update: no keys to watch")
	}
	for attempt := 0; attempt < store.MaxAttempts; attempt++ {
		var fnErr error
		err := s.rdb.Watch(ctx, func(rtx *redis.Tx) error {
			vals, err := rtx.MGet(ctx, keys...).Result()
			if err != nil {
				return err
			}
			t := &txn{snapshot: map[string][]byte{}, writes: map[string][]byte{}}
			for i, v := range vals {
				if str, ok := v.(string); ok {
					t.snapshot[keys[i]] = []byte(str)
				}
			}
			if fnErr = fn(t); fnErr != nil {
				return fnErr
			}
			if len(t.writes) == 0 {
				return nil
			}
			_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for k, v := range t.writes {
					pipe.Set(ctx, k, v, 0)
				}
				return nil
			})
			return err
		}, keys...)
		switch {
		case err == nil:
			return nil
		case fnErr != nil:
			return fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return store.Unavailable("update", err)
		}
	}
	return store.ErrConflict
}

func (s *Store) Close() error { return s.rdb.Close() }

type txn struct {
	snapshot map[string][]byte
	writes   map[string][]byte
}

func (t *txn) Get(key string) ([]byte, bool) {
	v, ok := t.snapshot[key]
	return v, ok
}

func (t *txn) Set(key string, value []byte) {
	t.writes[key] = value
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
