package dialect

import (
	"github.com/google/uuid"

	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/options"
)

// TransactionContext correlates the operations of one unit of work.
type TransactionContext struct {
	ID string
}

// NewTransactionContext returns a context with a fresh random id.
func NewTransactionContext() TransactionContext {
	return TransactionContext{ID: uuid.NewString()}
}

// TupleTypeContext carries the per-entity-type information dialects need.
type TupleTypeContext struct {
	// SelectableColumns are the columns of the entity type, used to detect
	// all-null embeddables and to project reads.
	SelectableColumns []string
	Options           options.Values
}

// TupleContext carries the per-operation information for tuple operations.
// It is built by the caller and never modified by dialects.
type TupleContext struct {
	Type        TupleTypeContext
	Queue       *OperationsQueue
	Transaction TransactionContext
}

// Batching reports whether writes should be queued.
func (c TupleContext) Batching() bool {
	return c.Queue != nil && !c.Queue.IsClosed()
}

// WithoutQueue returns a copy that writes immediately.
func (c TupleContext) WithoutQueue() TupleContext {
	c.Queue = nil
	return c
}

// AssociationTypeContext carries the per-association information dialects
// need, including the resolved storage strategy.
type AssociationTypeContext struct {
	Options            options.Values
	OwnerEntityOptions options.Values
	RoleOnMainSide     string
	Strategy           AssociationStorageStrategy
}

// NewAssociationTypeContext builds a type context and resolves the storage
// strategy of the association.
func NewAssociationTypeContext(meta model.AssociationKeyMetadata, opts, ownerOpts options.Values, roleOnMainSide string) AssociationTypeContext {
	return AssociationTypeContext{
		Options:            opts,
		OwnerEntityOptions: ownerOpts,
		RoleOnMainSide:     roleOnMainSide,
		Strategy:           ResolveAssociationStorage(meta, opts),
	}
}

// StorageStrategy returns the resolved strategy, resolving it from the
// options when the context was built without one.
func (c AssociationTypeContext) StorageStrategy(meta model.AssociationKeyMetadata) AssociationStorageStrategy {
	if c.Strategy != StrategyUnset {
		return c.Strategy
	}
	return ResolveAssociationStorage(meta, c.Options.Over(options.Defaults))
}

// AssociationContext carries the per-operation information for
// association operations.
type AssociationContext struct {
	Type AssociationTypeContext
	// EntityTuple is the owner's tuple when the caller has it loaded.
	EntityTuple *model.Tuple
	Queue       *OperationsQueue
	Transaction TransactionContext
}

// Batching reports whether writes should be queued.
func (c AssociationContext) Batching() bool {
	return c.Queue != nil && !c.Queue.IsClosed()
}

// WithoutQueue returns a copy that writes immediately.
func (c AssociationContext) WithoutQueue() AssociationContext {
	c.Queue = nil
	return c
}
