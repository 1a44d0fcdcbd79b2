// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"ctf-bot/internal/store"
)

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("SetGet", func(t *testing.T) { testSetGet(t, newStore(t)) })
	t.Run("CompareAndSetAbsent", func(t *testing.T) { testCASAbsent(t, newStore(t)) })
	t.Run("CompareAndSetValue", func(t *testing.T) { testCASValue(t, newStore(t)) })
	t.Run("ConcurrentCompareAndSet", func(t *testing.T) { testConcurrentCAS(t, newStore(t)) })
	t.Run("Increment", func(t *testing.T) { testIncrement(t, newStore(t)) })
	t.Run("KeysByPrefix", func(t *testing.T) { testKeys(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("UpdateCommits", func(t *testing.T) { testUpdateCommits(t, newStore(t)) })
	t.Run("UpdateAbort", func(t *testing.T) { testUpdateAbort(t, newStore(t)) })
	t.Run("ConcurrentUpdateInsertOnce", func(t *testing.T) { testConcurrentInsertOnce(t, newStore(t)) })
}

func testGetMissing(t *testing.T, s store.Store) {
	_, ok, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected missing key")
	}
}

func testSetGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != "v2" {
		t.Fatalf("expected v2, got %q", got)
	}
}

func testCASAbsent(t *testing.T, s store.Store) {
	ctx := context.Background()
	ok, err := s.CompareAndSet(ctx, "k", nil, []byte("first"))
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	ok, err = s.CompareAndSet(ctx, "k", nil, []byte("second"))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if ok {
		t.Fatal("second insert into an existing key must fail")
	}
	got, _, _ := s.Get(ctx, "k")
	if string(got) != "first" {
		t.Fatalf("expected first, got %q", got)
	}
}

func testCASValue(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("a")); err != nil {
		t.Fatalf("set: %v", err)
	}
	ok, err := s.CompareAndSet(ctx, "k", []byte("b"), []byte("c"))
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if ok {
		t.Fatal("cas with stale expected value must fail")
	}
	ok, err = s.CompareAndSet(ctx, "k", []byte("a"), []byte("c"))
	if err != nil || !ok {
		t.Fatalf("cas: ok=%v err=%v", ok, err)
	}
	ok, err = s.CompareAndSet(ctx, "missing", []byte("a"), []byte("c"))
	if err != nil {
		t.Fatalf("cas missing: %v", err)
	}
	if ok {
		t.Fatal("cas with expected value on a missing key must fail")
	}
}

func testConcurrentCAS(t *testing.T, s store.Store) {
	ctx := context.Background()
	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.CompareAndSet(ctx, "race", nil, []byte(strconv.Itoa(i)))
			if err != nil {
				t.Errorf("cas: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func testIncrement(t *testing.T, s store.Store) {
	ctx := context.Background()
	n, err := s.Increment(ctx, "counter", 5)
	if err != nil || n != 5 {
		t.Fatalf("expected 5, got %d (err %v)", n, err)
	}
	n, err = s.Increment(ctx, "counter", -2)
	if err != nil || n != 3 {
		t.Fatalf("expected 3, got %d (err %v)", n, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Increment(ctx, "counter", 1); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()
	n, err = s.Increment(ctx, "counter", 0)
	if err != nil || n != 23 {
		t.Fatalf("expected 23, got %d (err %v)", n, err)
	}
}

func testKeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, k := range []string{"task:a", "task:b", "solve:1:a", "taskx"} {
		if err := s.Set(ctx, k, []byte("1")); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	keys, err := s.Keys(ctx, "task:")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	sort.Strings(keys)
	if fmt.Sprint(keys) != "[task:a task:b]" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("key still present after delete")
	}
}

func testUpdateCommits(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	err := s.Update(ctx, []string{"a", "b"}, func(tx store.Txn) error {
		v, ok := tx.Get("a")
		if !ok || string(v) != "1" {
			return fmt.Errorf("snapshot a = %q (%v)", v, ok)
		}
		if _, ok := tx.Get("b"); ok {
			return errors.New("b should be absent")
		}
		tx.Set("a", []byte("2"))
		tx.Set("b", []byte("x"))
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	a, _, _ := s.Get(ctx, "a")
	b, _, _ := s.Get(ctx, "b")
	if string(a) != "2" || string(b) != "x" {
		t.Fatalf("writes not committed: a=%q b=%q", a, b)
	}
}

func testUpdateAbort(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.Update(ctx, []string{"a"}, func(tx store.Txn) error {
		tx.Set("a", []byte("written"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatal("aborted update must not write")
	}
}

// Many goroutines insert the same absent key inside Update; exactly one must
// observe it absent and commit.
func testConcurrentInsertOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	const workers = 12
	var inserted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var mine bool
			err := s.Update(ctx, []string{"once"}, func(tx store.Txn) error {
				mine = false
				if _, ok := tx.Get("once"); ok {
					return nil
				}
				mine = true
				tx.Set("once", []byte(strconv.Itoa(i)))
				return nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
				return
			}
			if mine {
				inserted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if inserted.Load() != 1 {
		t.Fatalf("expected one insert, got %d", inserted.Load())
	}
}
