package document_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/lattice/document"
	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/options"
)

func TestGetValueOrNull(t *testing.T) {
	doc := map[string]any{
		"name": "n",
		"address": map[string]any{
			"city": "Lyon",
			"geo":  map[string]any{"lat": 45.7},
		},
		"scalar": 3,
	}

	tests := []struct {
		path string
		want any
	}{
		{"name", "n"},
		{"address.city", "Lyon"},
		{"address.geo.lat", 45.7},
		{"address.zip", nil},
		{"missing.city", nil},
		{"scalar.x", nil},
		{"name.first", nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, document.GetValueOrNull(doc, tt.path))
		})
	}
}

func TestGetValueOrNull_UndottedPathMatchesDirectLookup(t *testing.T) {
	doc := map[string]any{"a": 1, "b": nil}
	for _, p := range []string{"a", "b", "c"} {
		assert.Equal(t, doc[p], document.GetValueOrNull(doc, p))
	}
}

func TestResetValue_UndottedRemovesExactlyThatKey(t *testing.T) {
	doc := map[string]any{"a": 1, "b": 2}
	document.ResetValue(doc, "a")
	assert.Equal(t, map[string]any{"b": 2}, doc)
}

func TestResetValue_KeepsEmptiedSubDocuments(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": map[string]any{"c": 1}}}
	document.ResetValue(doc, "a.b.c")

	assert.Equal(t, map[string]any{"a": map[string]any{"b": map[string]any{}}}, doc)
}

func TestResetValue_UnresolvedPathIsNoop(t *testing.T) {
	doc := map[string]any{"a": "scalar"}
	document.ResetValue(doc, "a.b")
	document.ResetValue(doc, "x.y.z")
	assert.Equal(t, map[string]any{"a": "scalar"}, doc)
}

func TestSetValue(t *testing.T) {
	doc := map[string]any{"a": "scalar"}
	document.SetValue(doc, "a.b", "x")
	document.SetValue(doc, "c", 1)

	assert.Equal(t, "x", document.GetValueOrNull(doc, "a.b"))
	assert.Equal(t, 1, doc["c"])
	assert.True(t, document.HasField(doc, "a.b"))
	assert.False(t, document.HasField(doc, "a.z"))
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, "b", document.Flatten("", "b"))
	assert.Equal(t, "a.b", document.Flatten("a", "b"))
	assert.Equal(t, "a.b.c", document.Flatten("a.b", "c"))
}

func TestColumnSharedPrefix(t *testing.T) {
	p, ok := document.ColumnSharedPrefix([]string{"id.a", "id.b"})
	require.True(t, ok)
	assert.Equal(t, "id", p)

	_, ok = document.ColumnSharedPrefix([]string{"id.a", "b"})
	assert.False(t, ok)
	_, ok = document.ColumnSharedPrefix([]string{"x.a", "y.b"})
	assert.False(t, ok)
}

func TestFlattenDocumentRoundTrip(t *testing.T) {
	flat := map[string]any{"a.b": "x", "a.c": 1, "d": true}
	doc := document.UnflattenColumns(flat)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": "x", "c": 1}, "d": true}, doc)
	assert.Equal(t, flat, document.FlattenDocument(doc))
	assert.Equal(t, []string{"a.b", "a.c", "d"}, document.ColumnNames(doc))
}

func TestDeepCopyIsIndependent(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": []any{1}}}
	c := document.DeepCopy(doc)
	document.SetValue(c, "a.b", "changed")
	assert.Equal(t, []any{1}, document.GetValueOrNull(doc, "a.b"))
}

func TestEmbeddableStateFinder_AllNull(t *testing.T) {
	tuple := model.NewTuple()
	tuple.Put("e1.a", nil)
	tuple.Put("e1.b", nil)

	finder := document.NewEmbeddableStateFinder(tuple, []string{"e1.a", "e1.b"})
	emb, ok := finder.OuterMostNullEmbeddable("e1.a")
	require.True(t, ok)
	assert.Equal(t, "e1", emb)

	emb, ok = finder.OuterMostNullEmbeddable("e1.b")
	require.True(t, ok)
	assert.Equal(t, "e1", emb)
}

func TestEmbeddableStateFinder_NonNullSibling(t *testing.T) {
	tuple := model.NewTuple()
	tuple.Put("e1.a", nil)
	tuple.Put("e1.b", "x")

	finder := document.NewEmbeddableStateFinder(tuple, []string{"e1.a", "e1.b"})
	_, ok := finder.OuterMostNullEmbeddable("e1.a")
	assert.False(t, ok)
}

func TestEmbeddableStateFinder_NestedEmbeddable(t *testing.T) {
	tuple := model.NewTuple()
	tuple.Put("e1.z", "kept")
	tuple.Put("e1.e2.x", nil)
	tuple.Put("e1.e2.y", nil)

	finder := document.NewEmbeddableStateFinder(tuple, []string{"e1.z", "e1.e2.x", "e1.e2.y"})
	emb, ok := finder.OuterMostNullEmbeddable("e1.e2.x")
	require.True(t, ok)
	assert.Equal(t, "e1.e2", emb)
}

func TestEmbeddableStateFinder_UndottedColumn(t *testing.T) {
	tuple := model.NewTuple()
	tuple.Put("name", nil)
	_, ok := document.NewEmbeddableStateFinder(tuple, nil).OuterMostNullEmbeddable("name")
	assert.False(t, ok)
}

func TestApplyToDocument_RemovesNullEmbeddable(t *testing.T) {
	doc := map[string]any{
		"name":    "n",
		"address": map[string]any{"city": "Lyon", "zip": "69000"},
	}
	tuple := model.NewTupleFromSnapshot(model.MapSnapshot(document.FlattenDocument(doc)), model.SnapshotUpdate)
	tuple.Put("address.city", nil)
	tuple.Put("address.zip", nil)

	finder := document.NewEmbeddableStateFinder(tuple, nil)
	touched := document.ApplyToDocument(doc, tuple.Operations(), finder)

	assert.Equal(t, []string{"address"}, touched)
	assert.False(t, document.HasField(doc, "address"))
	assert.Equal(t, "n", doc["name"])
}

func TestApplyToDocument_ReportsWrittenPaths(t *testing.T) {
	doc := map[string]any{"shipping": map[string]any{"city": "Lyon"}}
	tuple := model.NewTupleFromSnapshot(model.MapSnapshot(document.FlattenDocument(doc)), model.SnapshotUpdate)
	tuple.Put("shipping.city", "Paris")
	tuple.Put("status", "paid")
	tuple.Put("shipping.city", "Nice")

	touched := document.ApplyToDocument(doc, tuple.Operations(), nil)

	assert.Equal(t, []string{"shipping.city", "status"}, touched)
	assert.Equal(t, "Nice", document.GetValueOrNull(doc, "shipping.city"))
}

func TestApplyToColumns(t *testing.T) {
	cols := map[string]any{"a.b": "x", "a.c": "y", "d": 1}
	tuple := model.NewTupleFromSnapshot(model.MapSnapshot(cols), model.SnapshotUpdate)
	tuple.Put("a.b", nil)
	tuple.Remove("a.c")
	tuple.Put("e", 2)

	document.ApplyToColumns(cols, tuple.Operations(), document.NewEmbeddableStateFinder(tuple, nil))
	assert.Equal(t, map[string]any{"d": 1, "e": 2}, cols)
}

func TestOperationsReflected(t *testing.T) {
	tuple := model.NewTuple()
	tuple.Put("n", 3)
	tuple.Put("gone", nil)

	current := map[string]any{"n": int64(3)}
	lookup := func(c string) any { return current[c] }
	assert.True(t, document.OperationsReflected(tuple.Operations(), lookup))

	current["gone"] = "still here"
	assert.False(t, document.OperationsReflected(tuple.Operations(), lookup))
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, document.ValuesEqual(1, int64(1)))
	assert.True(t, document.ValuesEqual(1.5, float32(1.5)))
	assert.False(t, document.ValuesEqual(1, "1"))
	assert.True(t, document.ValuesEqual([]byte("x"), []byte("x")))
	assert.True(t, document.ValuesEqual(map[string]any{"a": []any{1}}, map[string]any{"a": []any{int64(1)}}))
	assert.True(t, document.ValuesEqual(nil, nil))
	assert.False(t, document.ValuesEqual(nil, 0))
}

func TestValuesEqual_LargeIntegers(t *testing.T) {
	const big = int64(1) << 53
	assert.False(t, document.ValuesEqual(big, big+1))
	assert.False(t, document.ValuesEqual(uint64(big), big+1))
	assert.False(t, document.ValuesEqual(json.Number("9007199254740993"), big))
	assert.True(t, document.ValuesEqual(json.Number("9007199254740993"), big+1))
	assert.True(t, document.ValuesEqual(uint64(math.MaxInt64), int64(math.MaxInt64)))
	assert.False(t, document.ValuesEqual(uint64(math.MaxUint64), int64(-1)))
	assert.True(t, document.ValuesEqual(json.Number("2.5"), 2.5))
	assert.True(t, document.ValuesEqual(float64(big), big))
}

func itemsKey(orderID string) (model.AssociationKeyMetadata, model.AssociationKey) {
	meta := model.AssociationKeyMetadata{
		Table:                  "orders",
		ColumnNames:            []string{"order_id"},
		RowKeyColumnNames:      []string{"order_id", "idx"},
		RowKeyIndexColumnNames: []string{"idx"},
		RowColumnNames:         []string{"order_id", "idx", "sku"},
		Kind:                   model.KindEmbeddedCollection,
		CollectionRole:         "items",
	}
	owner := model.NewEntityKey(model.NewEntityKeyMetadata("orders", "order_id"), orderID)
	return meta, model.NewAssociationKey(meta, []any{orderID}, owner)
}

func itemRow(orderID string, idx any, sku string) (model.RowKey, *model.Tuple) {
	row := model.NewTuple()
	row.Put("order_id", orderID)
	row.Put("idx", idx)
	row.Put("sku", sku)
	return model.NewRowKey([]string{"order_id", "idx"}, []any{orderID, idx}), row
}

func TestAssociationRows_ListWithMapRows(t *testing.T) {
	_, key := itemsKey("o1")
	assoc := model.NewAssociation()
	assoc.Put(itemRow("o1", int64(0), "A"))
	assoc.Put(itemRow("o1", int64(1), "B"))

	stored := document.AssociationRows(key, assoc, options.ByKey)
	assert.Equal(t, []any{
		map[string]any{"idx": int64(0), "sku": "A"},
		map[string]any{"idx": int64(1), "sku": "B"},
	}, stored)

	rows := document.RowsFromDocument(key, stored)
	require.Len(t, rows, 2)
	k, _ := itemRow("o1", int64(1), "B")
	assert.True(t, rows[1].Key.Equal(k))
	assert.Equal(t, "B", rows[1].Tuple.Get("sku"))
	assert.Equal(t, "o1", rows[1].Tuple.Get("order_id"))
}

func TestAssociationRows_OrganizedByRowKey(t *testing.T) {
	_, key := itemsKey("o1")
	assoc := model.NewAssociation()
	assoc.Put(itemRow("o1", "home", "A"))
	assoc.Put(itemRow("o1", "work", "B"))

	stored := document.AssociationRows(key, assoc, options.ByKey)
	assert.Equal(t, map[string]any{"home": "A", "work": "B"}, stored)

	rows := document.RowsFromDocument(key, stored)
	require.Len(t, rows, 2)
	assert.Equal(t, "home", rows[0].Tuple.Get("idx"))
	assert.Equal(t, "A", rows[0].Tuple.Get("sku"))

	listed := document.AssociationRows(key, assoc, options.AsList)
	assert.IsType(t, []any{}, listed)
}

func TestAssociationRows_PlainValues(t *testing.T) {
	meta := model.AssociationKeyMetadata{
		Table:             "customers",
		ColumnNames:       []string{"customer_id"},
		RowKeyColumnNames: []string{"customer_id", "tag"},
		Kind:              model.KindEmbeddedCollection,
		CollectionRole:    "tags",
	}
	owner := model.NewEntityKey(model.NewEntityKeyMetadata("customers", "customer_id"), "c1")
	key := model.NewAssociationKey(meta, []any{"c1"}, owner)

	assoc := model.NewAssociation()
	for _, tag := range []string{"vip", "eu"} {
		row := model.NewTuple()
		row.Put("customer_id", "c1")
		row.Put("tag", tag)
		assoc.Put(model.NewRowKey(meta.RowKeyColumnNames, []any{"c1", tag}), row)
	}

	stored := document.AssociationRows(key, assoc, options.ByKey)
	assert.Equal(t, []any{"vip", "eu"}, stored)

	rows := document.RowsFromDocument(key, stored)
	require.Len(t, rows, 2)
	assert.Equal(t, "eu", rows[1].Tuple.Get("tag"))
}

func TestAssociationRows_EmptyIsNil(t *testing.T) {
	_, key := itemsKey("o1")
	assert.Nil(t, document.AssociationRows(key, model.NewAssociation(), options.ByKey))
	assert.Empty(t, document.RowsFromDocument(key, nil))
}
