package dialect

import (
	"github.com/jacentio/lattice/model"
)

// OperationType identifies a queued operation.
type OperationType int

const (
	OpInsertOrUpdateTuple OperationType = iota
	OpRemoveTuple
	OpInsertOrUpdateAssociation
	OpRemoveAssociation
)

func (t OperationType) String() string {
	switch t {
	case OpRemoveTuple:
		return "REMOVE_TUPLE"
	case OpInsertOrUpdateAssociation:
		return "INSERT_OR_UPDATE_ASSOCIATION"
	case OpRemoveAssociation:
		return "REMOVE_ASSOCIATION"
	default:
		return "INSERT_OR_UPDATE_TUPLE"
	}
}

// Operation is a deferred write.
type Operation interface {
	Type() OperationType
}

// InsertOrUpdateTupleOperation defers InsertOrUpdateTuple.
type InsertOrUpdateTupleOperation struct {
	Key     model.EntityKey
	Tuple   *model.Tuple
	Context TupleContext
}

func (InsertOrUpdateTupleOperation) Type() OperationType { return OpInsertOrUpdateTuple }

// RemoveTupleOperation defers RemoveTuple.
type RemoveTupleOperation struct {
	Key     model.EntityKey
	Context TupleContext
}

func (RemoveTupleOperation) Type() OperationType { return OpRemoveTuple }

// InsertOrUpdateAssociationOperation defers InsertOrUpdateAssociation.
type InsertOrUpdateAssociationOperation struct {
	Key         model.AssociationKey
	Association *model.Association
	Context     AssociationContext
}

func (InsertOrUpdateAssociationOperation) Type() OperationType { return OpInsertOrUpdateAssociation }

// RemoveAssociationOperation defers RemoveAssociation.
type RemoveAssociationOperation struct {
	Key     model.AssociationKey
	Context AssociationContext
}

func (RemoveAssociationOperation) Type() OperationType { return OpRemoveAssociation }

// OperationsQueue is a FIFO of deferred writes for one unit of work. It is
// open until closed, after which Add and Poll fail with ErrQueueClosed.
// It is not safe for concurrent use.
type OperationsQueue struct {
	ops     []Operation
	pending map[string]int
	closed  bool
}

// NewOperationsQueue returns an open, empty queue.
func NewOperationsQueue() *OperationsQueue {
	return &OperationsQueue{pending: make(map[string]int)}
}

// Add appends an operation.
func (q *OperationsQueue) Add(op Operation) error {
	if q.closed {
		return ErrQueueClosed
	}
	if u, ok := op.(InsertOrUpdateTupleOperation); ok {
		q.pending[u.Key.Hash()]++
	}
	q.ops = append(q.ops, op)
	return nil
}

// Poll removes and returns the oldest operation, or nil when empty.
func (q *OperationsQueue) Poll() (Operation, error) {
	if q.closed {
		return nil, ErrQueueClosed
	}
	if len(q.ops) == 0 {
		return nil, nil
	}
	op := q.ops[0]
	q.ops[0] = nil
	q.ops = q.ops[1:]
	if u, ok := op.(InsertOrUpdateTupleOperation); ok {
		h := u.Key.Hash()
		if q.pending[h]--; q.pending[h] <= 0 {
			delete(q.pending, h)
		}
	}
	return op, nil
}

// Contains reports whether an insert or update of key is queued. Queued
// removals do not count.
func (q *OperationsQueue) Contains(key model.EntityKey) bool {
	return q.pending[key.Hash()] > 0
}

// Size returns the number of queued operations.
func (q *OperationsQueue) Size() int { return len(q.ops) }

// Close closes the queue.
func (q *OperationsQueue) Close() { q.closed = true }

// IsClosed reports whether the queue is closed.
func (q *OperationsQueue) IsClosed() bool { return q.closed }
