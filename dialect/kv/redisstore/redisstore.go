// Package redisstore implements kv.Store on Redis.
//
// Each key is a hash with the value in field "v" and a revision counter in
// field "r". Conditional writes use WATCH and MULTI.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/jacentio/lattice/dialect/kv"
)

const (
	fieldValue    = "v"
	fieldRevision = "r"
)

// Config holds the connection settings used by Open.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Prefix is prepended to every key.
	// Default: "lattice:"
	Prefix string

	// DialTimeout bounds each connection attempt.
	// Default: 3s
	DialTimeout time.Duration

	// PingRetries is the number of extra pings Open makes before giving up.
	// Default: 5
	PingRetries int

	// ScanCount is the COUNT hint of SCAN calls.
	// Default: 100
	ScanCount int64
}

func (c *Config) validate() {
	if c.Prefix == "" {
		c.Prefix = "lattice:"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.PingRetries < 0 {
		c.PingRetries = 0
	} else if c.PingRetries == 0 {
		c.PingRetries = 5
	}
	if c.ScanCount <= 0 {
		c.ScanCount = 100
	}
}

// Store is a kv.Store backed by a Redis client.
type Store struct {
	client    *redis.Client
	prefix    string
	scanCount int64
}

var _ kv.Store = (*Store)(nil)

// New wraps an existing client. Close closes the client.
func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix, scanCount: 100}
}

// Open connects to Redis and pings it until it answers.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg.validate()
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("addr", cfg.Addr).Msg("connecting to redis")

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	s := time.Now()
	ping := func() error {
		return client.Ping(ctx).Err()
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(cfg.PingRetries)), ctx)
	err := backoff.RetryNotify(ping, b, func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("wait", wait).Msg("redis ping failed, retrying")
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("error pinging redis: %w", err)
	}
	logger.Debug().Msgf("redis ping successful in %s", time.Since(s))

	store := New(client, cfg.Prefix)
	store.scanCount = cfg.ScanCount
	return store, nil
}

// Client returns the underlying client.
func (s *Store) Client() *redis.Client { return s.client }

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Get(ctx context.Context, key string) (kv.Entry, error) {
	vals, err := s.client.HMGet(ctx, s.key(key), fieldValue, fieldRevision).Result()
	if err != nil {
		return kv.Entry{}, fmt.Errorf("error in redis HMGET: %w", err)
	}
	if vals[0] == nil {
		return kv.Entry{}, kv.ErrKeyNotFound
	}
	rev, err := parseRevision(vals[1])
	if err != nil {
		return kv.Entry{}, err
	}
	return kv.Entry{Key: key, Value: []byte(vals[0].(string)), Revision: rev}, nil
}

func parseRevision(v any) (uint64, error) {
	s, _ := v.(string)
	rev, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: malformed revision %q: %w", s, err)
	}
	return rev, nil
}

func (s *Store) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	k := s.key(key)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, k).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return kv.ErrKeyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, fieldValue, value, fieldRevision, 1)
			return nil
		})
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, kv.ErrKeyExists
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *Store) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	k := s.key(key)
	var next *redis.IntCmd
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, k, fieldRevision).Result()
		if errors.Is(err, redis.Nil) {
			return kv.ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		current, err := parseRevision(raw)
		if err != nil {
			return err
		}
		if current != revision {
			return kv.ErrRevisionMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, fieldValue, value)
			next = pipe.HIncrBy(ctx, k, fieldRevision, 1)
			return nil
		})
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, kv.ErrRevisionMismatch
	}
	if err != nil {
		return 0, err
	}
	return uint64(next.Val()), nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	k := s.key(key)
	var next *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, fieldValue, value)
		next = pipe.HIncrBy(ctx, k, fieldRevision, 1)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error in redis HSET: %w", err)
	}
	return uint64(next.Val()), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("error in redis DEL: %w", err)
	}
	return nil
}

// Increment keeps counters as hashes too, so that Get reads them like any
// other key.
func (s *Store) Increment(ctx context.Context, key string, delta, initial int64) (int64, error) {
	k := s.key(key)
	var next *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, k, fieldValue, initial)
		next = pipe.HIncrBy(ctx, k, fieldValue, delta)
		pipe.HIncrBy(ctx, k, fieldRevision, 1)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error in redis HINCRBY: %w", err)
	}
	return next.Val(), nil
}

func (s *Store) Keys(ctx context.Context, prefix string) (kv.KeyIterator, error) {
	return &scanIterator{
		client: s.client,
		strip:  len(s.prefix),
		match:  escapeGlob(s.key(prefix)) + "*",
		count:  s.scanCount,
	}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// scanIterator walks SCAN pages lazily. Duplicates within one page are
// dropped. SCAN may still return a key again on a later page when the
// keyspace is rehashed during the walk; only the current page is kept in
// memory.
type scanIterator struct {
	client *redis.Client
	strip  int
	match  string
	count  int64

	cursor  uint64
	started bool
	page    []string
	current string
	seen    map[string]struct{}
	err     error
	closed  bool
}

func (it *scanIterator) Next(ctx context.Context) bool {
	for {
		if it.closed || it.err != nil {
			return false
		}
		for len(it.page) > 0 {
			k := it.page[0]
			it.page = it.page[1:]
			if _, dup := it.seen[k]; dup {
				continue
			}
			it.seen[k] = struct{}{}
			it.current = k[it.strip:]
			return true
		}
		if it.started && it.cursor == 0 {
			return false
		}
		keys, cursor, err := it.client.Scan(ctx, it.cursor, it.match, it.count).Result()
		if err != nil {
			it.err = fmt.Errorf("error in redis SCAN: %w", err)
			return false
		}
		it.started = true
		it.cursor = cursor
		it.page = keys
		it.seen = make(map[string]struct{}, len(keys))
	}
}

func (it *scanIterator) Key() string { return it.current }
func (it *scanIterator) Err() error  { return it.err }

func (it *scanIterator) Close() error {
	it.closed = true
	it.page = nil
	return nil
}
