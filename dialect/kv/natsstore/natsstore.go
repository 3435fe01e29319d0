// Package natsstore implements kv.Store on a NATS JetStream key-value
// bucket.
package natsstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/jacentio/lattice/dialect/kv"
)

// Config holds the connection settings used by Open.
type Config struct {
	URL string

	// Bucket is the key-value bucket. It is created when missing.
	// Default: "lattice"
	Bucket string

	// Replicas is used when the bucket is created.
	// Default: 1
	Replicas int

	// Timeout bounds each operation.
	// Default: 5s
	Timeout time.Duration

	// MaxRetries bounds the compare-and-set attempts of Increment.
	// Default: 10
	MaxRetries int
}

func (c *Config) validate() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Bucket == "" {
		c.Bucket = "lattice"
	}
	if c.Replicas < 1 {
		c.Replicas = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 10
	}
}

// Store is a kv.Store backed by a JetStream bucket.
type Store struct {
	bucket     jetstream.KeyValue
	conn       *nats.Conn
	timeout    time.Duration
	maxRetries int
}

var _ kv.Store = (*Store)(nil)

// New wraps an existing bucket. Close does not close its connection.
func New(bucket jetstream.KeyValue) *Store {
	return &Store{bucket: bucket, timeout: 5 * time.Second, maxRetries: 10}
}

// Open connects to NATS and opens the bucket, creating it if needed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg.validate()
	logger := zerolog.Ctx(ctx)

	nc, err := nats.Connect(cfg.URL, nats.Name("lattice"), nats.Timeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err != nil {
		logger.Info().Str("bucket", cfg.Bucket).Msg("creating key-value bucket")
		bucket, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:   cfg.Bucket,
			History:  1,
			Storage:  jetstream.FileStorage,
			Replicas: cfg.Replicas,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open bucket %s: %w", cfg.Bucket, err)
	}

	return &Store{bucket: bucket, conn: nc, timeout: cfg.Timeout, maxRetries: cfg.MaxRetries}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}

func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

func isWrongSequence(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return true
	}
	return strings.Contains(err.Error(), "wrong last sequence")
}

func (s *Store) Get(ctx context.Context, key string) (kv.Entry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entry, err := s.bucket.Get(ctx, key)
	if isNotFound(err) {
		return kv.Entry{}, kv.ErrKeyNotFound
	}
	if err != nil {
		return kv.Entry{}, fmt.Errorf("kv get %s: %w", key, err)
	}
	return kv.Entry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

func (s *Store) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rev, err := s.bucket.Create(ctx, key, value)
	if errors.Is(err, jetstream.ErrKeyExists) || (err != nil && isWrongSequence(err)) {
		return 0, kv.ErrKeyExists
	}
	if err != nil {
		return 0, fmt.Errorf("kv create %s: %w", key, err)
	}
	return rev, nil
}

func (s *Store) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rev, err := s.bucket.Update(ctx, key, value, revision)
	if err != nil && (errors.Is(err, jetstream.ErrKeyExists) || isWrongSequence(err)) {
		return 0, kv.ErrRevisionMismatch
	}
	if err != nil {
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}
	return rev, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rev, err := s.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	return rev, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.bucket.Delete(ctx, key); err != nil && !isNotFound(err) {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// Increment runs a compare-and-set loop on a decimal counter.
func (s *Store) Increment(ctx context.Context, key string, delta, initial int64) (int64, error) {
	var next int64
	attempt := func() error {
		entry, err := s.Get(ctx, key)
		switch {
		case errors.Is(err, kv.ErrKeyNotFound):
			next = initial + delta
			_, err = s.Create(ctx, key, []byte(strconv.FormatInt(next, 10)))
		case err != nil:
			return backoff.Permanent(err)
		default:
			current, perr := strconv.ParseInt(string(entry.Value), 10, 64)
			if perr != nil {
				return backoff.Permanent(fmt.Errorf("kv counter %s: %w", key, perr))
			}
			next = current + delta
			_, err = s.Update(ctx, key, []byte(strconv.FormatInt(next, 10)), entry.Revision)
		}
		if err != nil && !kv.IsConflict(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0
	if err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxRetries)), ctx)); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) Keys(ctx context.Context, prefix string) (kv.KeyIterator, error) {
	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return &keyIterator{prefix: prefix}, nil
		}
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	return &keyIterator{lister: lister, keys: lister.Keys(), prefix: prefix}, nil
}

// Close closes the connection opened by Open.
func (s *Store) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

// keyIterator filters a bucket key listing by prefix.
type keyIterator struct {
	lister  jetstream.KeyLister
	keys    <-chan string
	prefix  string
	current string
	err     error
}

func (it *keyIterator) Next(ctx context.Context) bool {
	if it.keys == nil {
		return false
	}
	for {
		select {
		case <-ctx.Done():
			it.err = ctx.Err()
			return false
		case k, ok := <-it.keys:
			if !ok {
				it.keys = nil
				return false
			}
			if strings.HasPrefix(k, it.prefix) {
				it.current = k
				return true
			}
		}
	}
}

func (it *keyIterator) Key() string { return it.current }
func (it *keyIterator) Err() error  { return it.err }

func (it *keyIterator) Close() error {
	it.keys = nil
	if it.lister == nil {
		return nil
	}
	return it.lister.Stop()
}
