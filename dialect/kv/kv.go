// Package kv is a grid dialect over any key-value store with per-key
// revisions (Redis, NATS JetStream key-value buckets).
//
// Each entity is a JSON envelope holding its flat columns and a logical
// revision. Writes check the logical revision first, then commit with the
// store's native compare-and-set; native races are retried with backoff
// and re-evaluated against the fresh record.
package kv

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/jacentio/lattice/dialect"
	"github.com/jacentio/lattice/document"
	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/options"
)

var errOwnerMissing = errors.New("owner entity does not exist")

// Config holds configuration for the key-value dialect.
type Config struct {
	// MaxRetries bounds the compare-and-set attempts after native races.
	// Default: 10
	MaxRetries int

	// RetryInterval is the initial delay between attempts.
	// Default: 10ms
	RetryInterval time.Duration

	// MaxRetryInterval caps the delay between attempts.
	// Default: 1s
	MaxRetryInterval time.Duration

	// ScanPageSize is the number of keys read per ForEachTuple page.
	// Default: 64
	ScanPageSize int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       10,
		RetryInterval:    10 * time.Millisecond,
		MaxRetryInterval: time.Second,
		ScanPageSize:     64,
	}
}

func (c *Config) validate() {
	d := DefaultConfig()
	if c.MaxRetries < 1 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.MaxRetryInterval < c.RetryInterval {
		c.MaxRetryInterval = max(d.MaxRetryInterval, c.RetryInterval)
	}
	if c.ScanPageSize < 1 {
		c.ScanPageSize = d.ScanPageSize
	}
}

// Dialect provides grid operations on a Store.
type Dialect struct {
	store  Store
	config Config
}

var (
	_ dialect.GridDialect                        = (*Dialect)(nil)
	_ dialect.AssociationStorageAwareGridDialect = (*Dialect)(nil)
)

// New creates a dialect over store.
func New(store Store, config Config) *Dialect {
	config.validate()
	return &Dialect{store: store, config: config}
}

// Store returns the underlying store.
func (d *Dialect) Store() Store {
	return d.store
}

// Close closes the underlying store.
func (d *Dialect) Close() error {
	return d.store.Close()
}

// storeError classifies a store failure that is not part of the store's
// compare-and-set protocol.
func storeError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return dialect.Connection(err)
}

func (d *Dialect) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.config.RetryInterval
	b.MaxInterval = d.config.MaxRetryInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.config.MaxRetries)), ctx)
}

// mutate runs fn on the current envelope of key and writes its result with
// compare-and-set. fn gets nil when the key does not exist and returns nil
// when there is nothing to write. fn runs again after a native race.
func (d *Dialect) mutate(ctx context.Context, key string, fn func(current *envelope) (*envelope, error)) error {
	attempt := func() error {
		var current *envelope
		entry, err := d.store.Get(ctx, key)
		switch {
		case err == nil:
			e, err := decodeEnvelope(entry.Value)
			if err != nil {
				return backoff.Permanent(err)
			}
			current = &e
		case !errors.Is(err, ErrKeyNotFound):
			return backoff.Permanent(storeError(err))
		}

		next, err := fn(current)
		if err != nil {
			return backoff.Permanent(err)
		}
		if next == nil {
			return nil
		}
		data, err := encodeEnvelope(*next)
		if err != nil {
			return backoff.Permanent(err)
		}

		if current == nil {
			_, err = d.store.Create(ctx, key, data)
		} else {
			_, err = d.store.Update(ctx, key, data, entry.Revision)
		}
		if err == nil || IsConflict(err) || errors.Is(err, ErrKeyNotFound) {
			return err
		}
		return backoff.Permanent(storeError(err))
	}

	notify := func(err error, wait time.Duration) {
		zerolog.Ctx(ctx).Debug().Err(err).Str("key", key).Dur("wait", wait).Msg("compare-and-set race, retrying")
	}
	err := backoff.RetryNotify(attempt, d.backOff(ctx), notify)
	if IsConflict(err) || errors.Is(err, ErrKeyNotFound) {
		return fmt.Errorf("%w: %w", dialect.ErrOptimisticLock, err)
	}
	return err
}

func (d *Dialect) GetTuple(ctx context.Context, key model.EntityKey, tc dialect.TupleContext) (*model.Tuple, error) {
	entry, err := d.store.Get(ctx, EntityKey(key))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dialect.NewError("get tuple", key, storeError(err))
	}
	e, err := decodeEnvelope(entry.Value)
	if err != nil {
		return nil, dialect.NewError("get tuple", key, err)
	}
	return model.NewTupleFromSnapshot(newSnapshot(e.Columns, e.Rev), model.SnapshotUpdate), nil
}

func (d *Dialect) CreateTuple(key model.EntityKey, tc dialect.TupleContext) *model.Tuple {
	return model.NewTuple()
}

func (d *Dialect) InsertOrUpdateTuple(ctx context.Context, key model.EntityKey, tuple *model.Tuple, tc dialect.TupleContext) error {
	if tuple.SnapshotType() == model.SnapshotUpdate && !tuple.HasOperations() {
		return nil
	}
	ops := tuple.Operations()
	expected := dialect.ExpectedRevision(tuple)

	var committed snapshot
	err := d.mutate(ctx, EntityKey(key), func(current *envelope) (*envelope, error) {
		var rev int64
		columns := make(map[string]any)
		if current != nil {
			rev = current.Rev
			columns = maps.Clone(current.Columns)
		}

		conflict := (tuple.SnapshotType() == model.SnapshotInsert && current != nil) ||
			(tuple.SnapshotType() == model.SnapshotUpdate && (current == nil || rev != expected))
		if conflict {
			if current != nil && dialect.IsReplay(ops, expected, rev, func(c string) any { return current.Columns[c] }) {
				committed = newSnapshot(current.Columns, rev)
				return nil, nil
			}
			zerolog.Ctx(ctx).Debug().Str("key", key.String()).Int64("expected", expected).Int64("current", rev).Msg("revision conflict")
			return nil, dialect.ConflictError(tuple)
		}

		document.ApplyToColumns(columns, ops, document.NewEmbeddableStateFinder(tuple, tc.Type.SelectableColumns))
		names, values := key.ColumnNames(), key.ColumnValues()
		for i, c := range names {
			if _, ok := columns[c]; !ok {
				columns[c] = values[i]
			}
		}
		committed = newSnapshot(columns, rev+1)
		return &envelope{Rev: rev + 1, Columns: columns}, nil
	})
	if err != nil {
		return dialect.NewError("insert or update tuple", key, err)
	}
	tuple.Commit(committed)
	return nil
}

func (d *Dialect) RemoveTuple(ctx context.Context, key model.EntityKey, tc dialect.TupleContext) error {
	return dialect.NewError("remove tuple", key, storeError(d.store.Delete(ctx, EntityKey(key))))
}

func (d *Dialect) GetAssociation(ctx context.Context, key model.AssociationKey, ac dialect.AssociationContext) (*model.Association, error) {
	meta := key.Metadata()
	strategy := ac.Type.StorageStrategy(meta)

	var stored any
	if strategy == dialect.StrategyInEntity {
		entry, err := d.store.Get(ctx, EntityKey(key.OwnerEntityKey()))
		if err != nil && !errors.Is(err, ErrKeyNotFound) {
			return nil, dialect.NewError("get association", key, storeError(err))
		}
		if err == nil {
			e, err := decodeEnvelope(entry.Value)
			if err != nil {
				return nil, dialect.NewError("get association", key, err)
			}
			stored = e.Columns[meta.CollectionRole]
		}
	} else {
		entry, err := d.store.Get(ctx, AssociationKey(key, strategy))
		if err != nil && !errors.Is(err, ErrKeyNotFound) {
			return nil, dialect.NewError("get association", key, storeError(err))
		}
		if err == nil {
			if stored, err = decodeRows(entry.Value); err != nil {
				return nil, dialect.NewError("get association", key, err)
			}
		}
	}

	if stored == nil {
		return nil, nil
	}
	return model.NewAssociationFromSnapshot(document.SnapshotFromDocument(key, stored)), nil
}

func (d *Dialect) CreateAssociation(key model.AssociationKey, ac dialect.AssociationContext) *model.Association {
	return model.NewAssociation()
}

func (d *Dialect) InsertOrUpdateAssociation(ctx context.Context, key model.AssociationKey, assoc *model.Association, ac dialect.AssociationContext) error {
	rows := document.AssociationRows(key, assoc, ac.Type.Options.MapStorage)
	if err := d.writeAssociation(ctx, key, ac, rows); err != nil {
		return dialect.NewError("insert or update association", key, err)
	}
	assoc.Commit(document.AssociationFromRows(assoc.Rows()))
	return nil
}

func (d *Dialect) RemoveAssociation(ctx context.Context, key model.AssociationKey, ac dialect.AssociationContext) error {
	return dialect.NewError("remove association", key, d.writeAssociation(ctx, key, ac, nil))
}

// writeAssociation stores rows, or removes the association when rows is nil.
// In-entity rows live under the collection role of the owner's columns and
// do not change the owner's logical revision.
func (d *Dialect) writeAssociation(ctx context.Context, key model.AssociationKey, ac dialect.AssociationContext, rows any) error {
	meta := key.Metadata()
	strategy := ac.Type.StorageStrategy(meta)

	if strategy == dialect.StrategyInEntity {
		role := meta.CollectionRole
		return d.mutate(ctx, EntityKey(key.OwnerEntityKey()), func(current *envelope) (*envelope, error) {
			if current == nil {
				if rows == nil {
					return nil, nil
				}
				return nil, fmt.Errorf("%w: %w", dialect.ErrOptimisticLock, errOwnerMissing)
			}
			next := &envelope{Rev: current.Rev, Columns: maps.Clone(current.Columns)}
			if rows == nil {
				if _, ok := next.Columns[role]; !ok {
					return nil, nil
				}
				delete(next.Columns, role)
			} else {
				next.Columns[role] = rows
			}
			return next, nil
		})
	}

	storeKey := AssociationKey(key, strategy)
	if rows == nil {
		return storeError(d.store.Delete(ctx, storeKey))
	}
	data, err := encodeRows(rows)
	if err != nil {
		return err
	}
	_, err = d.store.Put(ctx, storeKey, data)
	return storeError(err)
}

// IsStoredInEntityStructure reports whether the association is kept in the
// owner's envelope.
func (d *Dialect) IsStoredInEntityStructure(meta model.AssociationKeyMetadata, tc dialect.AssociationTypeContext) bool {
	return tc.StorageStrategy(meta) == dialect.StrategyInEntity
}

// SupportsAssociationStorage accepts every storage mode.
func (d *Dialect) SupportsAssociationStorage(st options.AssociationStorageType) bool {
	return true
}

func (d *Dialect) NextValue(ctx context.Context, req dialect.NextValueRequest) (int64, error) {
	inc := req.Increment
	if inc == 0 {
		inc = 1
	}
	v, err := d.store.Increment(ctx, CounterKey(req.Key), inc, req.InitialValue)
	if err != nil {
		return 0, dialect.NewError("next value", req.Key, storeError(err))
	}
	return v - inc, nil
}

// SupportsSequences is false: NextValue uses store counters.
func (d *Dialect) SupportsSequences() bool { return false }

func (d *Dialect) ForEachTuple(ctx context.Context, consumer dialect.ModelConsumer, tc dialect.TupleTypeContext, metadata ...model.EntityKeyMetadata) error {
	for _, meta := range metadata {
		prefix := EntityPrefix(meta.Table())
		supplier := dialect.SupplierFunc(func(ctx context.Context) (dialect.TupleIterator, error) {
			keys, err := d.store.Keys(ctx, prefix)
			if err != nil {
				return nil, dialect.NewError("scan "+meta.Table(), nil, storeError(err))
			}
			return dialect.NewPagedIterator(d.scanPage(meta.Table(), keys), keys.Close), nil
		})
		if err := consumer.Consume(ctx, meta, supplier); err != nil {
			return err
		}
	}
	return nil
}

// scanPage reads up to ScanPageSize keys per call. Entities removed since
// their key was listed are skipped. An entity whose key the store lists
// twice is passed to the consumer twice.
func (d *Dialect) scanPage(table string, keys KeyIterator) dialect.PageFunc {
	return func(ctx context.Context) ([]*model.Tuple, bool, error) {
		tuples := make([]*model.Tuple, 0, d.config.ScanPageSize)
		for read := 0; read < d.config.ScanPageSize; read++ {
			if !keys.Next(ctx) {
				if err := keys.Err(); err != nil {
					return nil, false, dialect.NewError("scan "+table, nil, storeError(err))
				}
				return tuples, true, nil
			}
			entry, err := d.store.Get(ctx, keys.Key())
			if errors.Is(err, ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return nil, false, dialect.NewError("scan "+table, nil, storeError(err))
			}
			e, err := decodeEnvelope(entry.Value)
			if err != nil {
				return nil, false, dialect.NewError("scan "+table, nil, err)
			}
			tuples = append(tuples, model.NewTupleFromSnapshot(newSnapshot(e.Columns, e.Rev), model.SnapshotUpdate))
		}
		return tuples, false, nil
	}
}

// OverrideType stores int64 as decimal strings, bytes as base64 and time
// as ISO-8601, since envelopes are JSON.
func (d *Dialect) OverrideType(t model.ValueType) (dialect.GridType, bool) {
	switch t {
	case model.ValueInt64:
		return dialect.Int64AsString, true
	case model.ValueBytes:
		return dialect.Base64Bytes, true
	case model.ValueTime:
		return dialect.ISO8601Time, true
	default:
		return nil, false
	}
}

// DuplicateInsertPreventionStrategy is Native: inserts use Store.Create.
func (d *Dialect) DuplicateInsertPreventionStrategy(meta model.EntityKeyMetadata) dialect.DuplicateInsertPreventionStrategy {
	return dialect.Native
}
