package model

import "slices"

// AssociationSnapshot is the read-only state an association was loaded with.
type AssociationSnapshot interface {
	Get(key RowKey) *Tuple
	ContainsKey(key RowKey) bool
	Size() int
	RowKeys() []RowKey
}

// Row pairs a row key with its row tuple.
type Row struct {
	Key   RowKey
	Tuple *Tuple
}

// RowsSnapshot is an ordered AssociationSnapshot.
type RowsSnapshot struct {
	rows  []Row
	index map[string]int
}

// NewRowsSnapshot builds a snapshot; later rows replace earlier rows with
// an equal key.
func NewRowsSnapshot(rows []Row) *RowsSnapshot {
	s := &RowsSnapshot{index: make(map[string]int)}
	for _, r := range rows {
		h := r.Key.Hash()
		if i, ok := s.index[h]; ok {
			s.rows[i] = r
			continue
		}
		s.index[h] = len(s.rows)
		s.rows = append(s.rows, r)
	}
	return s
}

// Get returns the row tuple, or nil.
func (s *RowsSnapshot) Get(key RowKey) *Tuple {
	if i, ok := s.index[key.Hash()]; ok {
		return s.rows[i].Tuple
	}
	return nil
}

// ContainsKey reports whether the row exists.
func (s *RowsSnapshot) ContainsKey(key RowKey) bool {
	_, ok := s.index[key.Hash()]
	return ok
}

// Size returns the number of rows.
func (s *RowsSnapshot) Size() int { return len(s.rows) }

// RowKeys returns the keys in load order.
func (s *RowsSnapshot) RowKeys() []RowKey {
	keys := make([]RowKey, len(s.rows))
	for i, r := range s.rows {
		keys[i] = r.Key
	}
	return keys
}

// EmptyAssociationSnapshot has no rows.
var EmptyAssociationSnapshot AssociationSnapshot = NewRowsSnapshot(nil)

// AssociationOperationType is the kind of a pending row change.
type AssociationOperationType int

const (
	AssocPut AssociationOperationType = iota
	AssocRemove
	AssocClear
)

func (t AssociationOperationType) String() string {
	switch t {
	case AssocRemove:
		return "REMOVE"
	case AssocClear:
		return "CLEAR"
	default:
		return "PUT"
	}
}

// AssociationOperation is one pending row change.
type AssociationOperation struct {
	Key   RowKey
	Value *Tuple
	Type  AssociationOperationType
}

// Association is a change-tracked set of rows.
type Association struct {
	snapshot AssociationSnapshot
	ops      []AssociationOperation
	index    map[string]int
	cleared  bool
}

// NewAssociation returns an empty association.
func NewAssociation() *Association {
	return NewAssociationFromSnapshot(EmptyAssociationSnapshot)
}

// NewAssociationFromSnapshot wraps an existing snapshot.
func NewAssociationFromSnapshot(snapshot AssociationSnapshot) *Association {
	if snapshot == nil {
		snapshot = EmptyAssociationSnapshot
	}
	return &Association{snapshot: snapshot, index: make(map[string]int)}
}

// Snapshot returns the state the association was loaded with.
func (a *Association) Snapshot() AssociationSnapshot { return a.snapshot }

// Get returns the effective row for key, or nil.
func (a *Association) Get(key RowKey) *Tuple {
	if i, ok := a.index[key.Hash()]; ok {
		op := a.ops[i]
		if op.Type == AssocPut {
			return op.Value
		}
		return nil
	}
	if a.cleared {
		return nil
	}
	return a.snapshot.Get(key)
}

// Put records a row. A nil row is recorded as a removal.
func (a *Association) Put(key RowKey, row *Tuple) {
	if row == nil {
		a.Remove(key)
		return
	}
	a.record(AssociationOperation{Key: key, Value: row, Type: AssocPut})
}

// Remove records a row removal.
func (a *Association) Remove(key RowKey) {
	a.record(AssociationOperation{Key: key, Type: AssocRemove})
}

// Clear removes every row, pending or loaded.
func (a *Association) Clear() {
	a.cleared = true
	a.ops = []AssociationOperation{{Type: AssocClear}}
	a.index = make(map[string]int)
}

func (a *Association) record(op AssociationOperation) {
	h := op.Key.Hash()
	if i, ok := a.index[h]; ok {
		a.ops[i] = op
		return
	}
	a.index[h] = len(a.ops)
	a.ops = append(a.ops, op)
}

// Keys returns the effective row keys: loaded rows first, then new rows.
func (a *Association) Keys() []RowKey {
	var keys []RowKey
	seen := make(map[string]bool)
	if !a.cleared {
		for _, k := range a.snapshot.RowKeys() {
			h := k.Hash()
			seen[h] = true
			if i, ok := a.index[h]; ok && a.ops[i].Type == AssocRemove {
				continue
			}
			keys = append(keys, k)
		}
	}
	for _, op := range a.ops {
		if op.Type != AssocPut || seen[op.Key.Hash()] {
			continue
		}
		keys = append(keys, op.Key)
	}
	return keys
}

// Rows returns the effective rows in Keys order.
func (a *Association) Rows() []Row {
	keys := a.Keys()
	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, Row{Key: k, Tuple: a.Get(k)})
	}
	return rows
}

// Size returns the number of effective rows.
func (a *Association) Size() int { return len(a.Keys()) }

// IsEmpty reports whether there are no effective rows.
func (a *Association) IsEmpty() bool { return a.Size() == 0 }

// Operations returns the pending operations.
func (a *Association) Operations() []AssociationOperation {
	return slices.Clone(a.ops)
}

// Commit installs the persisted state and clears pending operations.
func (a *Association) Commit(snapshot AssociationSnapshot) {
	if snapshot == nil {
		snapshot = EmptyAssociationSnapshot
	}
	a.snapshot = snapshot
	a.ops = nil
	a.index = make(map[string]int)
	a.cleared = false
}
