// Package store is the narrow key-value contract the CTF core persists
// through. Implementations live in the memstore, redisstore and pgstore
// subpackages.
package store

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable wraps every connectivity or backend failure so callers
	// can tell "the store is down" apart from domain outcomes.
	ErrUnavailable = errors.New("store unavailable")

	// ErrConflict is returned by Update when the watched keys kept changing
	// for MaxAttempts rounds.
	ErrConflict = errors.New("store: transaction conflict")
)

// MaxAttempts bounds the optimistic retry loops of Update and of callers
// running their own compare-and-set loops.
const MaxAttempts = 16

type Store interface {
	// Get returns the value under key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set overwrites key unconditionally.
	Set(ctx context.Context, key string, value []byte) error

	// CompareAndSet stores value under key only if the current value equals
	// expected byte for byte. A nil expected means "key must be absent".
	CompareAndSet(ctx context.Context, key string, expected, value []byte) (bool, error)

	// Increment atomically adds delta to the integer counter under key and
	// returns the new value. Missing counters start at zero.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// Keys lists every key starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Update runs fn against a snapshot of keys and commits its writes
	// atomically, provided none of keys changed since the snapshot was
	// taken. On a concurrent change fn is re-run with a fresh snapshot, up
	// to MaxAttempts times. An error from fn aborts without writing.
	Update(ctx context.Context, keys []string, fn func(tx Txn) error) error

	Close() error
}

// Txn is the view of a single Update attempt.
type Txn interface {
	// Get reads one of the watched keys from the attempt's snapshot.
	Get(key string) ([]byte, bool)
	// Set buffers a write to one of the watched keys; it is applied on
	// commit.
	Set(key string, value []byte)
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &unavailableError{op: op, err: err}
}

type unavailableError struct {
	op  string
	err error
}

func (e *unavailableError) Error() string { return "store " + e.op + ": " + e.err.Error() }

func (e *unavailableError) Unwrap() []error { return []error{ErrUnavailable, e.err} }
