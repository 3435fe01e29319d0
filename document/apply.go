package document

import (
	"strings"

	"github.com/jacentio/lattice/model"
)

// ApplyToDocument applies pending tuple operations to a nested document.
// A null or removed column inside an all-null embeddable removes the whole
// embeddable. It returns the written paths in first-touch order: the
// column of a put, or the removed column or embeddable.
func ApplyToDocument(doc map[string]any, ops []model.TupleOperation, finder *EmbeddableStateFinder) []string {
	var touched []string
	seen := make(map[string]bool)
	touch := func(path string) {
		if !seen[path] {
			seen[path] = true
			touched = append(touched, path)
		}
	}

	for _, op := range ops {
		if op.Type == model.OpPut {
			SetValue(doc, op.Column, op.Value)
			touch(op.Column)
			continue
		}
		target := op.Column
		if finder != nil {
			if emb, ok := finder.OuterMostNullEmbeddable(op.Column); ok {
				target = emb
			}
		}
		ResetValue(doc, target)
		touch(target)
	}
	return touched
}

// ApplyToColumns applies pending tuple operations to a flat column map.
// A null or removed column inside an all-null embeddable removes every
// column of that embeddable.
func ApplyToColumns(columns map[string]any, ops []model.TupleOperation, finder *EmbeddableStateFinder) {
	for _, op := range ops {
		if op.Type == model.OpPut {
			columns[op.Column] = op.Value
			continue
		}
		delete(columns, op.Column)
		if finder == nil {
			continue
		}
		if emb, ok := finder.OuterMostNullEmbeddable(op.Column); ok {
			p := emb + separator
			for c := range columns {
				if strings.HasPrefix(c, p) {
					delete(columns, c)
				}
			}
		}
	}
}

// OperationsReflected reports whether every pending operation is already
// visible through lookup: put values are present and null or removed
// columns are absent.
func OperationsReflected(ops []model.TupleOperation, lookup func(column string) any) bool {
	for _, op := range ops {
		current := lookup(op.Column)
		if op.Type == model.OpPut {
			if !ValuesEqual(current, op.Value) {
				return false
			}
			continue
		}
		if current != nil {
			return false
		}
	}
	return true
}
