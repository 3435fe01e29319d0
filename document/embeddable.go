package document

import (
	"strings"

	"github.com/jacentio/lattice/model"
)

type embeddableState struct {
	embeddable  string
	collapsible bool
}

// EmbeddableStateFinder detects embeddables whose columns are all null in a
// tuple, so that a dialect can drop the whole sub-document rather than
// leaving an empty one behind.
//
// A finder is built for one tuple write and caches its answers per column.
type EmbeddableStateFinder struct {
	tuple   *model.Tuple
	columns []string
	cache   map[string]embeddableState
}

// NewEmbeddableStateFinder creates a finder over the tuple. selectableColumns
// are the columns of the entity type; the tuple's own columns are added.
func NewEmbeddableStateFinder(tuple *model.Tuple, selectableColumns []string) *EmbeddableStateFinder {
	seen := make(map[string]bool)
	var columns []string
	for _, list := range [][]string{selectableColumns, tuple.ColumnNames()} {
		for _, c := range list {
			if !seen[c] {
				seen[c] = true
				columns = append(columns, c)
			}
		}
	}
	return &EmbeddableStateFinder{
		tuple:   tuple,
		columns: columns,
		cache:   make(map[string]embeddableState),
	}
}

// OuterMostNullEmbeddable returns the outermost embeddable containing column
// whose columns are all null, if any.
func (f *EmbeddableStateFinder) OuterMostNullEmbeddable(column string) (string, bool) {
	if !strings.Contains(column, separator) {
		return "", false
	}
	if st, ok := f.cache[column]; ok {
		return st.embeddable, st.collapsible
	}

	segments := strings.Split(column, separator)
	innermost := len(segments) - 1
	for level := 1; level <= innermost; level++ {
		prefix := strings.Join(segments[:level], separator)
		members := f.columnsUnder(prefix, column)

		if f.allNull(members) {
			st := embeddableState{embeddable: prefix, collapsible: true}
			for _, c := range members {
				f.cache[c] = st
			}
			return prefix, true
		}

		if level == innermost {
			for _, c := range members {
				if !strings.Contains(c[len(prefix)+1:], separator) {
					f.cache[c] = embeddableState{}
				}
			}
		}
	}
	f.cache[column] = embeddableState{}
	return "", false
}

func (f *EmbeddableStateFinder) columnsUnder(prefix, column string) []string {
	members := []string{column}
	p := prefix + separator
	for _, c := range f.columns {
		if c != column && strings.HasPrefix(c, p) {
			members = append(members, c)
		}
	}
	return members
}

func (f *EmbeddableStateFinder) allNull(columns []string) bool {
	for _, c := range columns {
		if f.tuple.Get(c) != nil {
			return false
		}
	}
	return true
}
