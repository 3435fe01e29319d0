package model

import (
	"maps"
	"slices"
	"sort"
)

// SnapshotType tells whether a tuple's backing record already exists.
type SnapshotType int

const (
	// SnapshotInsert marks a tuple whose record does not exist yet.
	SnapshotInsert SnapshotType = iota
	// SnapshotUpdate marks a tuple loaded from, or committed to, the store.
	SnapshotUpdate
)

func (t SnapshotType) String() string {
	if t == SnapshotUpdate {
		return "UPDATE"
	}
	return "INSERT"
}

// TupleSnapshot is the read-only state a tuple was loaded with.
type TupleSnapshot interface {
	Get(column string) any
	ColumnNames() []string
	IsEmpty() bool
}

// MapSnapshot is a TupleSnapshot over a flat column map.
type MapSnapshot map[string]any

// Get returns the column value, or nil.
func (s MapSnapshot) Get(column string) any { return s[column] }

// ColumnNames returns the columns in lexical order.
func (s MapSnapshot) ColumnNames() []string {
	names := slices.Collect(maps.Keys(s))
	sort.Strings(names)
	return names
}

// IsEmpty reports whether the snapshot has no columns.
func (s MapSnapshot) IsEmpty() bool { return len(s) == 0 }

// EmptySnapshot is a snapshot without columns.
var EmptySnapshot TupleSnapshot = MapSnapshot(nil)

// TupleOperationType is the kind of a pending column change.
type TupleOperationType int

const (
	OpPut TupleOperationType = iota
	OpPutNull
	OpRemove
)

func (t TupleOperationType) String() string {
	switch t {
	case OpPutNull:
		return "PUT_NULL"
	case OpRemove:
		return "REMOVE"
	default:
		return "PUT"
	}
}

// TupleOperation is one pending column change.
type TupleOperation struct {
	Column string
	Value  any
	Type   TupleOperationType
}

// Tuple is a change-tracked row: a snapshot plus ordered pending operations.
type Tuple struct {
	snapshot     TupleSnapshot
	snapshotType SnapshotType
	ops          []TupleOperation
	index        map[string]int
}

// NewTuple returns an empty tuple whose record does not exist yet.
func NewTuple() *Tuple {
	return NewTupleFromSnapshot(EmptySnapshot, SnapshotInsert)
}

// NewTupleFromSnapshot wraps an existing snapshot.
func NewTupleFromSnapshot(snapshot TupleSnapshot, snapshotType SnapshotType) *Tuple {
	if snapshot == nil {
		snapshot = EmptySnapshot
	}
	return &Tuple{
		snapshot:     snapshot,
		snapshotType: snapshotType,
		index:        make(map[string]int),
	}
}

// Snapshot returns the state the tuple was loaded with.
func (t *Tuple) Snapshot() TupleSnapshot { return t.snapshot }

// SnapshotType returns whether the backing record exists.
func (t *Tuple) SnapshotType() SnapshotType { return t.snapshotType }

// SetSnapshotType overrides the snapshot type.
func (t *Tuple) SetSnapshotType(st SnapshotType) { t.snapshotType = st }

// Get returns the effective value of a column: the last pending operation
// if any, else the snapshot value.
func (t *Tuple) Get(column string) any {
	if i, ok := t.index[column]; ok {
		op := t.ops[i]
		if op.Type == OpPut {
			return op.Value
		}
		return nil
	}
	return t.snapshot.Get(column)
}

// Put records a PUT, or a PUT_NULL when value is nil.
func (t *Tuple) Put(column string, value any) {
	if value == nil {
		t.record(TupleOperation{Column: column, Type: OpPutNull})
		return
	}
	t.record(TupleOperation{Column: column, Value: value, Type: OpPut})
}

// Remove records a REMOVE.
func (t *Tuple) Remove(column string) {
	t.record(TupleOperation{Column: column, Type: OpRemove})
}

func (t *Tuple) record(op TupleOperation) {
	if i, ok := t.index[op.Column]; ok {
		t.ops[i] = op
		return
	}
	t.index[op.Column] = len(t.ops)
	t.ops = append(t.ops, op)
}

// Operations returns the pending operations in first-touch order.
func (t *Tuple) Operations() []TupleOperation {
	return slices.Clone(t.ops)
}

// HasOperations reports whether there are pending operations.
func (t *Tuple) HasOperations() bool { return len(t.ops) > 0 }

// ColumnNames returns the effective columns: snapshot columns not removed,
// followed by columns only set through pending operations.
func (t *Tuple) ColumnNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, c := range t.snapshot.ColumnNames() {
		seen[c] = true
		if i, ok := t.index[c]; ok && t.ops[i].Type == OpRemove {
			continue
		}
		names = append(names, c)
	}
	for _, op := range t.ops {
		if seen[op.Column] || op.Type == OpRemove {
			continue
		}
		names = append(names, op.Column)
	}
	return names
}

// IsEmpty reports whether the tuple has no effective columns.
func (t *Tuple) IsEmpty() bool { return len(t.ColumnNames()) == 0 }

// Commit installs the state persisted by a dialect: the snapshot is
// replaced, the tuple becomes an UPDATE tuple and pending operations are
// cleared.
func (t *Tuple) Commit(snapshot TupleSnapshot) {
	if snapshot == nil {
		snapshot = EmptySnapshot
	}
	t.snapshot = snapshot
	t.snapshotType = SnapshotUpdate
	t.ops = nil
	t.index = make(map[string]int)
}

// Values returns the effective column values as a flat map.
func (t *Tuple) Values() map[string]any {
	out := make(map[string]any)
	for _, c := range t.ColumnNames() {
		out[c] = t.Get(c)
	}
	return out
}
