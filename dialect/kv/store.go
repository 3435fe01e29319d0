package kv

import (
	"context"
	"errors"
)

// Well-known store errors. Store implementations map their native errors
// onto these.
var (
	ErrKeyNotFound      = errors.New("kv: key not found")
	ErrKeyExists        = errors.New("kv: key already exists")
	ErrRevisionMismatch = errors.New("kv: revision mismatch (concurrent update)")
)

// Entry is a stored value with its native revision.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KeyIterator walks keys lazily.
//
//	for it.Next(ctx) {
//		key := it.Key()
//	}
//	if err := it.Err(); err != nil { ... }
type KeyIterator interface {
	Next(ctx context.Context) bool
	Key() string
	Err() error
	Close() error
}

// Store is a key-value store with per-key revisions for compare-and-set.
type Store interface {
	// Get returns ErrKeyNotFound when the key does not exist.
	Get(ctx context.Context, key string) (Entry, error)
	// Create writes a new key. It returns ErrKeyExists when the key exists.
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	// Update replaces the value if the key is still at revision. It returns
	// ErrRevisionMismatch when the key changed and ErrKeyNotFound when it
	// was deleted.
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	// Put writes unconditionally (last writer wins).
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// Increment adds delta to a counter and returns the new value. A
	// missing counter starts at initial.
	Increment(ctx context.Context, key string, delta, initial int64) (int64, error)
	// Keys lists the keys starting with prefix. A key may be listed more
	// than once when the store changes during the iteration.
	Keys(ctx context.Context, prefix string) (KeyIterator, error)
	Close() error
}

// IsConflict reports whether err is a compare-and-set failure.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRevisionMismatch) || errors.Is(err, ErrKeyExists)
}
