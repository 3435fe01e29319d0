package document

import (
	"sort"

	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/options"
)

// OrganizeByRowKey reports whether rows are stored as a map keyed by the
// value of the association's single row key index column. That is the case
// when there is exactly one index column, every index value is a string and
// map storage is not AS_LIST. It returns the index column.
func OrganizeByRowKey(meta model.AssociationKeyMetadata, rows []model.Row, mapStorage options.MapStorageType) (string, bool) {
	if mapStorage == options.AsList || meta.IsOneToOne() || len(meta.RowKeyIndexColumnNames) != 1 || len(rows) == 0 {
		return "", false
	}
	index := meta.RowKeyIndexColumnNames[0]
	for _, r := range rows {
		if _, ok := r.Tuple.Get(index).(string); !ok {
			return "", false
		}
	}
	return index, true
}

// AssociationRows returns the document form of the association's effective
// rows: a list, a map keyed by row key index value, or the single row of a
// one-to-one association. It returns nil for an empty association.
func AssociationRows(key model.AssociationKey, assoc *model.Association, mapStorage options.MapStorageType) any {
	meta := key.Metadata()
	rows := assoc.Rows()
	if len(rows) == 0 {
		return nil
	}

	if meta.IsOneToOne() {
		return rowValue(meta, rows[0].Tuple, "")
	}

	if index, ok := OrganizeByRowKey(meta, rows, mapStorage); ok {
		out := make(map[string]any, len(rows))
		for _, r := range rows {
			out[r.Tuple.Get(index).(string)] = rowValue(meta, r.Tuple, index)
		}
		return out
	}

	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowValue(meta, r.Tuple, ""))
	}
	return out
}

// rowValue stores a row as a plain value when only the single row value
// column remains, else as a sub-document without the key columns.
func rowValue(meta model.AssociationKeyMetadata, row *model.Tuple, skip string) any {
	var columns []string
	for _, c := range meta.ColumnsWithoutKeyColumns(row.ColumnNames()) {
		if c != skip {
			columns = append(columns, c)
		}
	}
	if single, ok := meta.SingleRowValueColumn(); ok && len(columns) == 1 && columns[0] == single {
		return row.Get(single)
	}
	doc := make(map[string]any, len(columns))
	for _, c := range columns {
		if v := row.Get(c); v != nil {
			SetValue(doc, c, v)
		}
	}
	return doc
}

// RowsFromDocument rebuilds association rows from their document form.
// Key column values are taken from the association key.
func RowsFromDocument(key model.AssociationKey, stored any) []model.Row {
	if stored == nil {
		return nil
	}
	meta := key.Metadata()

	var rows []model.Row
	add := func(element any, index string, indexValue any) {
		rows = append(rows, buildRow(key, element, index, indexValue))
	}

	switch x := stored.(type) {
	case []any:
		for _, e := range x {
			add(e, "", nil)
		}
	case map[string]any:
		if meta.IsOneToOne() || len(meta.RowKeyIndexColumnNames) != 1 {
			add(x, "", nil)
			break
		}
		index := meta.RowKeyIndexColumnNames[0]
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			add(x[k], index, k)
		}
	default:
		add(x, "", nil)
	}
	return rows
}

func buildRow(key model.AssociationKey, element any, index string, indexValue any) model.Row {
	meta := key.Metadata()
	values := make(map[string]any)
	keyValues := key.ColumnValues()
	for i, c := range meta.ColumnNames {
		if i < len(keyValues) {
			values[c] = keyValues[i]
		}
	}
	if index != "" {
		values[index] = indexValue
	}
	if sub, ok := element.(map[string]any); ok {
		for c, v := range FlattenDocument(sub) {
			values[c] = v
		}
	} else if single, ok := meta.SingleRowValueColumn(); ok {
		values[single] = element
	}

	rowKeyValues := make([]any, len(meta.RowKeyColumnNames))
	for i, c := range meta.RowKeyColumnNames {
		rowKeyValues[i] = values[c]
	}
	return model.Row{
		Key:   model.NewRowKey(meta.RowKeyColumnNames, rowKeyValues),
		Tuple: model.NewTupleFromSnapshot(model.MapSnapshot(values), model.SnapshotUpdate),
	}
}

// SnapshotFromDocument builds an association snapshot from the stored form.
func SnapshotFromDocument(key model.AssociationKey, stored any) model.AssociationSnapshot {
	return model.NewRowsSnapshot(RowsFromDocument(key, stored))
}

// AssociationFromRows builds a committed association from effective rows,
// copying each row's values.
func AssociationFromRows(rows []model.Row) model.AssociationSnapshot {
	copied := make([]model.Row, len(rows))
	for i, r := range rows {
		copied[i] = model.Row{
			Key:   r.Key,
			Tuple: model.NewTupleFromSnapshot(model.MapSnapshot(r.Tuple.Values()), model.SnapshotUpdate),
		}
	}
	return model.NewRowsSnapshot(copied)
}
