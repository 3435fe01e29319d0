// Package document maps flat, dot-separated column names onto nested
// documents and back.
//
// A column "address.city" addresses the field "city" of the sub-document
// "address". Documents are map[string]any values whose sub-documents are
// map[string]any as well.
package document

import (
	"sort"
	"strings"
)

const separator = "."

// GetValueOrNull returns the value at path, or nil when any intermediate is
// missing or is not a sub-document.
func GetValueOrNull(doc map[string]any, path string) any {
	current := doc
	segments := strings.Split(path, separator)
	for i, seg := range segments {
		if current == nil {
			return nil
		}
		v, ok := current[seg]
		if !ok {
			return nil
		}
		if i == len(segments)-1 {
			return v
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

// HasField reports whether path resolves, even to a nil value.
func HasField(doc map[string]any, path string) bool {
	parent, leaf, ok := resolveParent(doc, path)
	if !ok {
		return false
	}
	_, ok = parent[leaf]
	return ok
}

// ResetValue removes the value at path when the full path resolves and
// does nothing otherwise. Sub-documents emptied by the removal are kept.
func ResetValue(doc map[string]any, path string) {
	parent, leaf, ok := resolveParent(doc, path)
	if !ok {
		return
	}
	delete(parent, leaf)
}

// SetValue sets the value at path, creating missing sub-documents and
// replacing intermediates that are not sub-documents.
func SetValue(doc map[string]any, path string, value any) {
	segments := strings.Split(path, separator)
	current := doc
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[seg] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

func resolveParent(doc map[string]any, path string) (map[string]any, string, bool) {
	segments := strings.Split(path, separator)
	current := doc
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			return nil, "", false
		}
		current = next
	}
	if current == nil {
		return nil, "", false
	}
	return current, segments[len(segments)-1], true
}

// Flatten joins a prefix and a name: right when left is empty, else
// left + "." + right.
func Flatten(left, right string) string {
	if left == "" {
		return right
	}
	return left + separator + right
}

// ColumnSharedPrefix returns the first segment shared by every column when
// all of them are dotted.
func ColumnSharedPrefix(columns []string) (string, bool) {
	var prefix string
	for i, c := range columns {
		top, _, dotted := strings.Cut(c, separator)
		if !dotted {
			return "", false
		}
		if i == 0 {
			prefix = top
		} else if top != prefix {
			return "", false
		}
	}
	return prefix, prefix != ""
}

// FlattenDocument converts a nested document into dot-path columns.
// Empty sub-documents produce no column.
func FlattenDocument(doc map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out map[string]any, prefix string, doc map[string]any) {
	for k, v := range doc {
		col := Flatten(prefix, k)
		if sub, ok := v.(map[string]any); ok {
			flattenInto(out, col, sub)
			continue
		}
		out[col] = v
	}
}

// UnflattenColumns converts dot-path columns into a nested document.
// Columns are applied in lexical order so the result is deterministic.
func UnflattenColumns(columns map[string]any) map[string]any {
	names := make([]string, 0, len(columns))
	for k := range columns {
		names = append(names, k)
	}
	sort.Strings(names)
	doc := make(map[string]any)
	for _, n := range names {
		SetValue(doc, n, columns[n])
	}
	return doc
}

// ColumnNames returns the sorted dot-path columns of doc.
func ColumnNames(doc map[string]any) []string {
	flat := FlattenDocument(doc)
	names := make([]string, 0, len(flat))
	for k := range flat {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// DeepCopy copies a document, its sub-documents and lists.
func DeepCopy(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return DeepCopy(x)
	case []any:
		c := make([]any, len(x))
		for i := range x {
			c[i] = copyValue(x[i])
		}
		return c
	case []byte:
		return append([]byte(nil), x...)
	default:
		return v
	}
}
