package kv

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/lattice/dialect"
	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/options"
)

var ordersMeta = model.NewEntityKeyMetadata("orders", "id")

func orderKey(id string) model.EntityKey { return model.NewEntityKey(ordersMeta, id) }

func newTestDialect() (*Dialect, *memStore) {
	store := newMemStore()
	return New(store, Config{RetryInterval: time.Millisecond, MaxRetryInterval: 5 * time.Millisecond}), store
}

func insert(t *testing.T, d *Dialect, key model.EntityKey, columns map[string]any) *model.Tuple {
	t.Helper()
	tuple := d.CreateTuple(key, dialect.TupleContext{})
	for c, v := range columns {
		tuple.Put(c, v)
	}
	require.NoError(t, d.InsertOrUpdateTuple(context.Background(), key, tuple, dialect.TupleContext{}))
	return tuple
}

func load(t *testing.T, d *Dialect, key model.EntityKey) *model.Tuple {
	t.Helper()
	tuple, err := d.GetTuple(context.Background(), key, dialect.TupleContext{})
	require.NoError(t, err)
	require.NotNil(t, tuple)
	return tuple
}

func rawEnvelope(t *testing.T, s *memStore, key model.EntityKey) envelope {
	t.Helper()
	entry, err := s.Get(context.Background(), EntityKey(key))
	require.NoError(t, err)
	e, err := decodeEnvelope(entry.Value)
	require.NoError(t, err)
	return e
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "e.b3JkZXJz.bzE", EntityKey(orderKey("o1")))
	assert.Equal(t, "e.b3JkZXJz.", EntityPrefix("orders"))
	nested := EntityKey(model.NewEntityKey(model.NewEntityKeyMetadata("a.b", "id"), "x"))
	assert.False(t, strings.HasPrefix(nested, EntityPrefix("a")))
	assert.Equal(t, "c.c2Vx.b3JkZXJz", CounterKey(model.IdSourceKey{Table: "seq", Segment: "orders"}))
}

func TestDottedColumnRoundTrip(t *testing.T) {
	d, s := newTestDialect()
	insert(t, d, orderKey("o1"), map[string]any{"a.b": "x", "count": 3})

	e := rawEnvelope(t, s, orderKey("o1"))
	assert.Equal(t, int64(1), e.Rev)
	assert.Equal(t, "x", e.Columns["a.b"])

	got := load(t, d, orderKey("o1"))
	assert.Equal(t, "x", got.Get("a.b"))
	assert.Equal(t, int64(3), got.Get("count"))
	assert.Equal(t, "o1", got.Get("id"))
	assert.Equal(t, int64(1), dialect.ExpectedRevision(got))
}

func TestGetTuple_MissingIsNil(t *testing.T) {
	d, _ := newTestDialect()
	got, err := d.GetTuple(context.Background(), orderKey("none"), dialect.TupleContext{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetTuple_StoreFailureIsConnectionError(t *testing.T) {
	d, s := newTestDialect()
	s.getErr = errors.New("dial tcp 127.0.0.1:6379: connection refused")

	_, err := d.GetTuple(context.Background(), orderKey("o1"), dialect.TupleContext{})
	assert.True(t, dialect.IsConnection(err))
}

func TestDuplicateInsert(t *testing.T) {
	d, _ := newTestDialect()
	insert(t, d, orderKey("o1"), map[string]any{"status": "new"})

	dup := d.CreateTuple(orderKey("o1"), dialect.TupleContext{})
	dup.Put("status", "other")
	err := d.InsertOrUpdateTuple(context.Background(), orderKey("o1"), dup, dialect.TupleContext{})
	assert.ErrorIs(t, err, dialect.ErrTupleAlreadyExists)
}

func TestSecondUnitOfWorkConflicts(t *testing.T) {
	d, _ := newTestDialect()
	ctx := context.Background()
	insert(t, d, orderKey("o1"), map[string]any{"status": "new"})

	first := load(t, d, orderKey("o1"))
	second := load(t, d, orderKey("o1"))
	first.Put("status", "paid")
	require.NoError(t, d.InsertOrUpdateTuple(ctx, orderKey("o1"), first, dialect.TupleContext{}))

	second.Put("status", "cancelled")
	assert.ErrorIs(t, d.InsertOrUpdateTuple(ctx, orderKey("o1"), second, dialect.TupleContext{}), dialect.ErrOptimisticLock)
	assert.Equal(t, "paid", load(t, d, orderKey("o1")).Get("status"))
}

func TestReplayedWriteIsIdempotent(t *testing.T) {
	d, _ := newTestDialect()
	ctx := context.Background()
	insert(t, d, orderKey("o1"), map[string]any{"status": "new", "qty": 1})

	loaded := load(t, d, orderKey("o1"))
	replay := load(t, d, orderKey("o1"))
	loaded.Put("qty", 2)
	replay.Put("qty", 2)

	require.NoError(t, d.InsertOrUpdateTuple(ctx, orderKey("o1"), loaded, dialect.TupleContext{}))
	require.NoError(t, d.InsertOrUpdateTuple(ctx, orderKey("o1"), replay, dialect.TupleContext{}))
	assert.Equal(t, int64(2), dialect.ExpectedRevision(replay))
}

func TestNativeRaceIsRetried(t *testing.T) {
	d, s := newTestDialect()
	ctx := context.Background()
	insert(t, d, orderKey("o1"), map[string]any{"status": "new"})
	loaded := load(t, d, orderKey("o1"))

	writes := 0
	s.beforeWrite = func(key string) {
		writes++
		if writes == 1 {
			// Same logical content under a new native revision.
			entry, _ := s.Get(ctx, key)
			_, _ = s.Put(ctx, key, entry.Value)
		}
	}

	loaded.Put("status", "paid")
	require.NoError(t, d.InsertOrUpdateTuple(ctx, orderKey("o1"), loaded, dialect.TupleContext{}))
	assert.Equal(t, 2, writes)
	assert.Equal(t, "paid", load(t, d, orderKey("o1")).Get("status"))
	assert.Equal(t, int64(2), dialect.ExpectedRevision(loaded))
}

func TestNativeRaceWithLogicalChangeConflicts(t *testing.T) {
	d, s := newTestDialect()
	ctx := context.Background()
	insert(t, d, orderKey("o1"), map[string]any{"status": "new"})
	loaded := load(t, d, orderKey("o1"))

	raced := false
	s.beforeWrite = func(key string) {
		if raced {
			return
		}
		raced = true
		data, _ := encodeEnvelope(envelope{Rev: 2, Columns: map[string]any{"id": "o1", "status": "shipped"}})
		_, _ = s.Put(ctx, key, data)
	}

	loaded.Put("status", "paid")
	err := d.InsertOrUpdateTuple(ctx, orderKey("o1"), loaded, dialect.TupleContext{})
	assert.ErrorIs(t, err, dialect.ErrOptimisticLock)
	assert.Equal(t, "shipped", load(t, d, orderKey("o1")).Get("status"))
}

func TestNativeRaceRetriesAreBounded(t *testing.T) {
	store := newMemStore()
	d := New(store, Config{MaxRetries: 2, RetryInterval: time.Millisecond, MaxRetryInterval: time.Millisecond})
	ctx := context.Background()
	insert(t, d, orderKey("o1"), map[string]any{"status": "new"})
	loaded := load(t, d, orderKey("o1"))

	writes := 0
	store.beforeWrite = func(key string) {
		writes++
		entry, _ := store.Get(ctx, key)
		_, _ = store.Put(ctx, key, entry.Value)
	}

	loaded.Put("status", "paid")
	err := d.InsertOrUpdateTuple(ctx, orderKey("o1"), loaded, dialect.TupleContext{})
	assert.ErrorIs(t, err, dialect.ErrOptimisticLock)
	assert.ErrorIs(t, err, ErrRevisionMismatch)
	assert.Equal(t, 3, writes)
}

func TestNullEmbeddableColumnsAreDropped(t *testing.T) {
	d, _ := newTestDialect()
	ctx := context.Background()
	insert(t, d, orderKey("o1"), map[string]any{"shipping.city": "Lyon", "shipping.zip": "69000", "status": "new"})

	loaded := load(t, d, orderKey("o1"))
	loaded.Put("shipping.city", nil)
	loaded.Put("shipping.zip", nil)
	require.NoError(t, d.InsertOrUpdateTuple(ctx, orderKey("o1"), loaded, dialect.TupleContext{}))

	assert.ElementsMatch(t, []string{"id", "status"}, load(t, d, orderKey("o1")).ColumnNames())
}

func elementCollection(orderID string) (model.AssociationKeyMetadata, model.AssociationKey, dialect.AssociationContext) {
	meta := model.AssociationKeyMetadata{
		Table:             "order_items",
		ColumnNames:       []string{"order_id"},
		RowKeyColumnNames: []string{"order_id", "sku"},
		Kind:              model.KindEmbeddedCollection,
		CollectionRole:    "items",
	}
	key := model.NewAssociationKey(meta, []any{orderID}, orderKey(orderID))
	ac := dialect.AssociationContext{Type: dialect.NewAssociationTypeContext(meta, options.Values{}, options.Defaults, "items")}
	return meta, key, ac
}

func putItems(assoc *model.Association, meta model.AssociationKeyMetadata, orderID string, skus ...string) {
	for _, sku := range skus {
		row := model.NewTuple()
		row.Put("order_id", orderID)
		row.Put("sku", sku)
		row.Put("qty", 1)
		assoc.Put(model.NewRowKey(meta.RowKeyColumnNames, []any{orderID, sku}), row)
	}
}

func TestInEntityCollection_RemovingAllRowsRemovesColumn(t *testing.T) {
	d, s := newTestDialect()
	ctx := context.Background()
	insert(t, d, orderKey("o1"), map[string]any{"status": "new"})

	meta, key, ac := elementCollection("o1")
	assert.True(t, d.IsStoredInEntityStructure(meta, ac.Type))

	assoc := d.CreateAssociation(key, ac)
	putItems(assoc, meta, "o1", "A", "B")
	require.NoError(t, d.InsertOrUpdateAssociation(ctx, key, assoc, ac))
	assert.Contains(t, rawEnvelope(t, s, orderKey("o1")).Columns, "items")

	loaded, err := d.GetAssociation(ctx, key, ac)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 2, loaded.Size())

	for _, rk := range loaded.Keys() {
		loaded.Remove(rk)
	}
	require.NoError(t, d.InsertOrUpdateAssociation(ctx, key, loaded, ac))

	e := rawEnvelope(t, s, orderKey("o1"))
	assert.NotContains(t, e.Columns, "items")
	assert.Equal(t, int64(1), e.Rev)

	gone, err := d.GetAssociation(ctx, key, ac)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestInEntityCollection_OwnerMustExist(t *testing.T) {
	d, s := newTestDialect()
	ctx := context.Background()
	meta, key, ac := elementCollection("o9")

	assoc := d.CreateAssociation(key, ac)
	putItems(assoc, meta, "o9", "A")
	assert.ErrorIs(t, d.InsertOrUpdateAssociation(ctx, key, assoc, ac), dialect.ErrOptimisticLock)

	require.NoError(t, d.RemoveAssociation(ctx, key, ac))
	assert.Zero(t, s.count(EntityPrefix("orders")))
}

func linesAssociation(orderID string, opts options.Values) (model.AssociationKeyMetadata, model.AssociationKey, dialect.AssociationContext) {
	meta := model.AssociationKeyMetadata{
		Table:             "order_lines",
		ColumnNames:       []string{"order_id"},
		RowKeyColumnNames: []string{"order_id", "line_id"},
		Kind:              model.KindAssociation,
		CollectionRole:    "lines",
	}
	key := model.NewAssociationKey(meta, []any{orderID}, orderKey(orderID))
	ac := dialect.AssociationContext{Type: dialect.NewAssociationTypeContext(meta, opts, options.Defaults, "lines")}
	return meta, key, ac
}

func TestAssociationDocumentLeavesOwnerUntouched(t *testing.T) {
	d, s := newTestDialect()
	ctx := context.Background()
	insert(t, d, orderKey("o1"), map[string]any{"status": "new"})
	before, err := s.Get(ctx, EntityKey(orderKey("o1")))
	require.NoError(t, err)

	meta, key, ac := linesAssociation("o1", options.Values{AssociationStorage: options.AssociationDocument})
	assert.False(t, d.IsStoredInEntityStructure(meta, ac.Type))

	assoc := d.CreateAssociation(key, ac)
	for _, line := range []string{"l1", "l2"} {
		row := model.NewTuple()
		row.Put("order_id", "o1")
		row.Put("line_id", line)
		assoc.Put(model.NewRowKey(meta.RowKeyColumnNames, []any{"o1", line}), row)
	}
	require.NoError(t, d.InsertOrUpdateAssociation(ctx, key, assoc, ac))
	assert.Equal(t, 1, s.count("a."))

	var rows []any
	entry, err := s.Get(ctx, AssociationKey(key, dialect.StrategyGlobalCollection))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(entry.Value, &rows))
	assert.Len(t, rows, 2)

	loaded, err := d.GetAssociation(ctx, key, ac)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 2, loaded.Size())

	require.NoError(t, d.RemoveAssociation(ctx, key, ac))
	assert.Zero(t, s.count("a."))
	gone, err := d.GetAssociation(ctx, key, ac)
	require.NoError(t, err)
	assert.Nil(t, gone)

	after, err := s.Get(ctx, EntityKey(orderKey("o1")))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCollectionPerAssociationNamespace(t *testing.T) {
	d, s := newTestDialect()
	opts := options.Values{AssociationStorage: options.AssociationDocument, AssociationDocumentStorage: options.CollectionPerAssociation}
	meta, key, ac := linesAssociation("o1", opts)

	assoc := d.CreateAssociation(key, ac)
	row := model.NewTuple()
	row.Put("order_id", "o1")
	row.Put("line_id", "l1")
	assoc.Put(model.NewRowKey(meta.RowKeyColumnNames, []any{"o1", "l1"}), row)
	require.NoError(t, d.InsertOrUpdateAssociation(context.Background(), key, assoc, ac))

	assert.Equal(t, 1, s.count("p."))
	assert.Zero(t, s.count("a."))
}

func TestNextValue_ConcurrentCallersGetDistinctValues(t *testing.T) {
	d, _ := newTestDialect()
	req := dialect.NextValueRequest{
		Key:          model.IdSourceKey{Table: "sequences", KeyColumn: "name", ValueColumn: "next", Segment: "orders"},
		InitialValue: 1,
	}

	const callers = 30
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := d.NextValue(context.Background(), req)
			assert.NoError(t, err)
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, callers)
	assert.True(t, seen[1])
	assert.True(t, seen[callers])
}

func TestForEachTuple(t *testing.T) {
	store := newMemStore()
	d := New(store, Config{ScanPageSize: 2})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		insert(t, d, orderKey(id), map[string]any{"status": "new"})
	}
	insert(t, d, model.NewEntityKey(model.NewEntityKeyMetadata("customers", "id"), "x"), map[string]any{"name": "n"})

	var ids []any
	consumer := dialect.ConsumerFunc(func(ctx context.Context, meta model.EntityKeyMetadata, supplier dialect.TuplesSupplier) error {
		it, err := supplier.Get(ctx)
		if err != nil {
			return err
		}
		tuples, err := dialect.Collect(ctx, it)
		for _, tu := range tuples {
			ids = append(ids, tu.Get("id"))
		}
		return err
	})
	require.NoError(t, d.ForEachTuple(ctx, consumer, dialect.TupleTypeContext{}, ordersMeta))
	assert.ElementsMatch(t, []any{"a", "b", "c", "d", "e"}, ids)
}

func TestNativeQueriesAreNotSupported(t *testing.T) {
	d, _ := newTestDialect()
	_, err := dialect.ExecuteBackendQuery(context.Background(), d, dialect.BackendQuery{Query: "anything"}, dialect.QueryParameters{}, dialect.TupleContext{})
	assert.ErrorIs(t, err, dialect.ErrNotSupported)
}

func TestOverrideType(t *testing.T) {
	d, _ := newTestDialect()
	tests := []struct {
		vt   model.ValueType
		want dialect.GridType
	}{
		{model.ValueInt64, dialect.Int64AsString},
		{model.ValueBytes, dialect.Base64Bytes},
		{model.ValueTime, dialect.ISO8601Time},
	}
	for _, tt := range tests {
		t.Run(tt.vt.String(), func(t *testing.T) {
			got, ok := d.OverrideType(tt.vt)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
	_, ok := d.OverrideType(model.ValueString)
	assert.False(t, ok)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{MaxRetries: -1, MaxRetryInterval: time.Microsecond}
	cfg.validate()
	assert.Equal(t, DefaultConfig(), cfg)

	cfg = Config{MaxRetries: 3, RetryInterval: 2 * time.Second}
	cfg.validate()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.MaxRetryInterval)
}
