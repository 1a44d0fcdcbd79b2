// Package memstore is an in-process Store for tests and single-node runs.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"

	"ctf-bot/internal/store"
)

// shardCount stripes the key space; operations on keys in different shards
// never wait for each other.
const shardCount = 64

type shard struct {
	mu   sync.RWMutex
	data map[string][]byte
}

type Store struct {
	shards [shardCount]shard
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].data = map[string][]byte{}
	}
	return s
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

func (s *Store) shard(key string) *shard { return &s.shards[shardIndex(key)] }

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.data[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	sh := s.shard(key)
	sh.mu.Lock()
	sh.data[key] = bytes.Clone(value)
	sh.mu.Unlock()
	return nil
}

func (s *Store) CompareAndSet(_ context.Context, key string, expected, value []byte) (bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur, ok := sh.data[key]
	if expected == nil {
		if ok {
			return false, nil
		}
	} else if !ok || !bytes.Equal(cur, expected) {
		return false, nil
	}
	sh.data[key] = bytes.Clone(value)
	return true, nil
}

func (s *Store) Increment(_ context.Context, key string, delta int64) (int64, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	var n int64
	if cur, ok := sh.data[key]; ok {
		parsed, err := strconv.ParseInt(string(cur), 10, 64)
		if err != nil {
			return 0, store.Unavailable("increment", err)
		}
		n = parsed
	}
	n += delta
	sh.data[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

// Keys visits the shards one at a time; keys written meanwhile may or may
// not be listed.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	out := []string{}
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k := range sh.data {
			if strings.HasPrefix(k, prefix) {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.data, key)
	sh.mu.Unlock()
	return nil
}

// Update locks the shards of keys, in index order, for the whole attempt, so
// it never conflicts. Updates touching other shards run alongside it.
func (s *Store) Update(ctx context.Context, keys []string, fn func(tx store.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	locked := s.lockShards(keys)
	defer func() {
		for _, i := range locked {
			s.shards[i].mu.Unlock()
		}
	}()

	tx := &txn{snapshot: map[string][]byte{}, writes: map[string][]byte{}}
	for _, k := range keys {
		if v, ok := s.shard(k).data[k]; ok {
			tx.snapshot[k] = v
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	watched := make(map[string]bool, len(keys))
	for _, k := range keys {
		watched[k] = true
	}
	for k := range tx.writes {
		if !watched[k] {
			return fmt.Errorf("memstore: write to unwatched key %q", k)
		}
	}
	for k, v := range tx.writes {
		s.shard(k).data[k] = v
	}
	return nil
}

// lockShards takes the write locks covering keys in ascending shard order,
// which keeps concurrent Updates free of lock-order deadlocks.
func (s *Store) lockShards(keys []string) []int {
	seen := map[int]bool{}
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		i := shardIndex(k)
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		s.shards[i].mu.Lock()
	}
	return idx
}

func (s *Store) Close() error { return nil }

type txn struct {
	snapshot map[string][]byte
	writes   map[string][]byte
}

func (t *txn) Get(key string) ([]byte, bool) {
	v, ok := t.snapshot[key]
	return bytes.Clone(v), ok
}

func (t *txn) Set(key string, value []byte) {
	t.writes[key] = bytes.Clone(value)
}
