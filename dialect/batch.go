package dialect

import (
	"context"

	"github.com/jacentio/lattice/model"
)

// BatchDelegator defers writes into the operations queue carried by the
// operation context while that queue is open. Flush executes the queue
// through the dialect's batch facet, or one operation at a time when the
// dialect has none.
//
// Reads of a key with queued writes flush the queue first so they observe
// the unit of work's own changes.
type BatchDelegator struct {
	GridDialect
}

// NewBatchDelegator wraps d.
func NewBatchDelegator(d GridDialect) *BatchDelegator {
	return &BatchDelegator{GridDialect: d}
}

// Unwrap returns the wrapped dialect.
func (b *BatchDelegator) Unwrap() GridDialect { return b.GridDialect }

// GetTuple flushes pending writes of key before reading it.
func (b *BatchDelegator) GetTuple(ctx context.Context, key model.EntityKey, tc TupleContext) (*model.Tuple, error) {
	if tc.Batching() && tc.Queue.Contains(key) {
		if err := b.Flush(ctx, tc.Queue); err != nil {
			return nil, err
		}
	}
	return b.GridDialect.GetTuple(ctx, key, tc.WithoutQueue())
}

func (b *BatchDelegator) InsertOrUpdateTuple(ctx context.Context, key model.EntityKey, tuple *model.Tuple, tc TupleContext) error {
	if tc.Batching() {
		return tc.Queue.Add(InsertOrUpdateTupleOperation{Key: key, Tuple: tuple, Context: tc})
	}
	return b.GridDialect.InsertOrUpdateTuple(ctx, key, tuple, tc)
}

func (b *BatchDelegator) RemoveTuple(ctx context.Context, key model.EntityKey, tc TupleContext) error {
	if tc.Batching() {
		return tc.Queue.Add(RemoveTupleOperation{Key: key, Context: tc})
	}
	return b.GridDialect.RemoveTuple(ctx, key, tc)
}

// GetAssociation flushes pending writes before reading.
func (b *BatchDelegator) GetAssociation(ctx context.Context, key model.AssociationKey, ac AssociationContext) (*model.Association, error) {
	if ac.Batching() && ac.Queue.Size() > 0 {
		if err := b.Flush(ctx, ac.Queue); err != nil {
			return nil, err
		}
	}
	return b.GridDialect.GetAssociation(ctx, key, ac.WithoutQueue())
}

func (b *BatchDelegator) InsertOrUpdateAssociation(ctx context.Context, key model.AssociationKey, assoc *model.Association, ac AssociationContext) error {
	if ac.Batching() {
		return ac.Queue.Add(InsertOrUpdateAssociationOperation{Key: key, Association: assoc, Context: ac})
	}
	return b.GridDialect.InsertOrUpdateAssociation(ctx, key, assoc, ac)
}

func (b *BatchDelegator) RemoveAssociation(ctx context.Context, key model.AssociationKey, ac AssociationContext) error {
	if ac.Batching() {
		return ac.Queue.Add(RemoveAssociationOperation{Key: key, Context: ac})
	}
	return b.GridDialect.RemoveAssociation(ctx, key, ac)
}

// Flush executes and closes the queue. A nil or closed queue is a no-op.
func (b *BatchDelegator) Flush(ctx context.Context, queue *OperationsQueue) error {
	if queue == nil || queue.IsClosed() {
		return nil
	}
	if batchable, ok := Facet[BatchableGridDialect](b.GridDialect); ok {
		return batchable.ExecuteBatch(ctx, queue)
	}
	return DrainQueue(ctx, b.GridDialect, queue)
}

// DrainQueue applies queued operations one at a time through d and closes
// the queue. It stops at the first failure.
func DrainQueue(ctx context.Context, d GridDialect, queue *OperationsQueue) error {
	defer queue.Close()
	for {
		op, err := queue.Poll()
		if err != nil || op == nil {
			return err
		}
		switch o := op.(type) {
		case InsertOrUpdateTupleOperation:
			err = d.InsertOrUpdateTuple(ctx, o.Key, o.Tuple, o.Context.WithoutQueue())
		case RemoveTupleOperation:
			err = d.RemoveTuple(ctx, o.Key, o.Context.WithoutQueue())
		case InsertOrUpdateAssociationOperation:
			err = d.InsertOrUpdateAssociation(ctx, o.Key, o.Association, o.Context.WithoutQueue())
		case RemoveAssociationOperation:
			err = d.RemoveAssociation(ctx, o.Key, o.Context.WithoutQueue())
		}
		if err != nil {
			return err
		}
	}
}
