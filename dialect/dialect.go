// Package dialect defines the contract between the mapping layer and a
// storage backend, along with the machinery shared by every backend:
// operation contexts, the association storage resolver, the operations
// queue used for batching, and the error taxonomy.
//
// A dialect implements GridDialect. Optional capabilities are expressed as
// facet interfaces (BatchableGridDialect, QueryableGridDialect, ...) and
// discovered with Facet, which sees through decorators.
package dialect

import (
	"context"

	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/options"
)

// GridDialect is implemented by every storage backend.
//
// Reads of missing records return a nil result and a nil error. Writes of
// tuples are version checked: a tuple whose record changed since it was
// read fails with ErrOptimisticLock, unless the stored state is exactly the
// result of replaying the same pending operations.
type GridDialect interface {
	// GetTuple loads a record, or returns nil when it does not exist.
	GetTuple(ctx context.Context, key model.EntityKey, tc TupleContext) (*model.Tuple, error)

	// CreateTuple returns a fresh tuple for a record to be inserted.
	CreateTuple(key model.EntityKey, tc TupleContext) *model.Tuple

	// InsertOrUpdateTuple applies the tuple's pending operations and
	// commits the tuple on success.
	InsertOrUpdateTuple(ctx context.Context, key model.EntityKey, tuple *model.Tuple, tc TupleContext) error

	// RemoveTuple deletes a record. A missing record is not an error.
	RemoveTuple(ctx context.Context, key model.EntityKey, tc TupleContext) error

	// GetAssociation loads an association, or returns nil when absent.
	GetAssociation(ctx context.Context, key model.AssociationKey, ac AssociationContext) (*model.Association, error)

	// CreateAssociation returns a fresh, empty association.
	CreateAssociation(key model.AssociationKey, ac AssociationContext) *model.Association

	// InsertOrUpdateAssociation persists the association's effective rows.
	InsertOrUpdateAssociation(ctx context.Context, key model.AssociationKey, assoc *model.Association, ac AssociationContext) error

	// RemoveAssociation deletes an association.
	RemoveAssociation(ctx context.Context, key model.AssociationKey, ac AssociationContext) error

	// IsStoredInEntityStructure reports whether the association lives in
	// the owning entity's record.
	IsStoredInEntityStructure(meta model.AssociationKeyMetadata, tc AssociationTypeContext) bool

	// NextValue atomically advances an id generator and returns the value
	// before the increment. The first call returns the initial value.
	NextValue(ctx context.Context, req NextValueRequest) (int64, error)

	// SupportsSequences reports whether NextValue is backed by native
	// sequences rather than generator records.
	SupportsSequences() bool

	// ForEachTuple hands the consumer a supplier of lazy iterators over
	// every record of each given entity table.
	ForEachTuple(ctx context.Context, consumer ModelConsumer, tc TupleTypeContext, metadata ...model.EntityKeyMetadata) error

	// OverrideType returns the representation the dialect stores a value
	// type with, when it differs from the default.
	OverrideType(t model.ValueType) (GridType, bool)

	// DuplicateInsertPreventionStrategy tells the mapping layer whether it
	// must look up a key before inserting it.
	DuplicateInsertPreventionStrategy(meta model.EntityKeyMetadata) DuplicateInsertPreventionStrategy
}

// NextValueRequest describes one NextValue call.
type NextValueRequest struct {
	Key          model.IdSourceKey
	Increment    int64
	InitialValue int64
}

// DuplicateInsertPreventionStrategy is how duplicate inserts are detected.
type DuplicateInsertPreventionStrategy int

const (
	// LookUp requires the caller to check for an existing record.
	LookUp DuplicateInsertPreventionStrategy = iota
	// Native means the dialect rejects duplicate inserts itself.
	Native
)

func (s DuplicateInsertPreventionStrategy) String() string {
	if s == Native {
		return "NATIVE"
	}
	return "LOOK_UP"
}

// BatchableGridDialect executes a whole operations queue at once.
type BatchableGridDialect interface {
	GridDialect
	// ExecuteBatch applies and drains the queue, then closes it.
	ExecuteBatch(ctx context.Context, queue *OperationsQueue) error
}

// QueryableGridDialect executes queries in the backend's own language.
type QueryableGridDialect interface {
	GridDialect
	ExecuteBackendQuery(ctx context.Context, query BackendQuery, params QueryParameters, tc TupleContext) (TupleIterator, error)
	// ParseNativeQuery validates a native query string and returns its
	// parsed form, used as BackendQuery.Query.
	ParseNativeQuery(native string) (any, error)
}

// StoredProcedureAwareGridDialect calls named server-side procedures.
type StoredProcedureAwareGridDialect interface {
	GridDialect
	CallStoredProcedure(ctx context.Context, name string, params QueryParameters, tc TupleContext) (TupleIterator, error)
}

// AssociationStorageAwareGridDialect declares which association storage
// modes a dialect honours.
type AssociationStorageAwareGridDialect interface {
	GridDialect
	SupportsAssociationStorage(st options.AssociationStorageType) bool
}

// Unwrapper is implemented by decorators.
type Unwrapper interface {
	Unwrap() GridDialect
}

// Facet returns the first dialect in the decorator chain implementing T.
func Facet[T any](d GridDialect) (T, bool) {
	for d != nil {
		if f, ok := d.(T); ok {
			return f, true
		}
		u, ok := d.(Unwrapper)
		if !ok {
			break
		}
		d = u.Unwrap()
	}
	var zero T
	return zero, false
}

// ExecuteBackendQuery runs a native query, failing with ErrNotSupported
// when the dialect cannot execute native queries.
func ExecuteBackendQuery(ctx context.Context, d GridDialect, query BackendQuery, params QueryParameters, tc TupleContext) (TupleIterator, error) {
	q, ok := Facet[QueryableGridDialect](d)
	if !ok {
		return nil, NewError("execute backend query", nil, ErrNotSupported)
	}
	return q.ExecuteBackendQuery(ctx, query, params, tc)
}

// CallStoredProcedure calls a stored procedure, failing with
// ErrNotSupported when the dialect has none.
func CallStoredProcedure(ctx context.Context, d GridDialect, name string, params QueryParameters, tc TupleContext) (TupleIterator, error) {
	p, ok := Facet[StoredProcedureAwareGridDialect](d)
	if !ok {
		return nil, NewError("call stored procedure "+name, nil, ErrNotSupported)
	}
	return p.CallStoredProcedure(ctx, name, params, tc)
}
