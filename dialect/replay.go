package dialect

import (
	"github.com/jacentio/lattice/document"
	"github.com/jacentio/lattice/model"
)

// VersionedSnapshot is a tuple snapshot that knows the revision of the
// record it was read from. Insert tuples have revision 0.
type VersionedSnapshot interface {
	model.TupleSnapshot
	Revision() int64
}

// ExpectedRevision returns the revision the tuple was read at.
func ExpectedRevision(tuple *model.Tuple) int64 {
	if v, ok := tuple.Snapshot().(VersionedSnapshot); ok {
		return v.Revision()
	}
	return 0
}

// IsReplay reports whether a record found at currentRevision is exactly
// the result of applying ops once on top of expectedRevision. A write
// retried after an ambiguous failure then succeeds instead of conflicting.
func IsReplay(ops []model.TupleOperation, expectedRevision, currentRevision int64, lookup func(column string) any) bool {
	return currentRevision == expectedRevision+1 && document.OperationsReflected(ops, lookup)
}

// ConflictError returns the error for a write whose revision check failed
// and that is not a replay.
func ConflictError(tuple *model.Tuple) error {
	if tuple.SnapshotType() == model.SnapshotInsert {
		return ErrTupleAlreadyExists
	}
	return ErrOptimisticLock
}
