package dynamo

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/jacentio/lattice/dialect"
	"github.com/jacentio/lattice/document"
	"github.com/jacentio/lattice/model"
)

const opExecuteBatch = "execute batch"

// batchItem is one write of a transaction.
type batchItem struct {
	write  types.TransactWriteItem
	target string
	tuple  *tupleWrite
	// commits run after the transaction succeeded.
	commits []func()
	// ignoreMissing drops the item when its owner does not exist.
	ignoreMissing bool
}

func (it *batchItem) commit() {
	if it.tuple != nil {
		it.tuple.commit()
	}
	for _, c := range it.commits {
		c()
	}
}

// batch accumulates queue operations into TransactWriteItems calls, one
// write per item and at most Config.MaxTransactItems writes per call.
type batch struct {
	d       *Dialect
	items   []*batchItem
	targets map[string]int
}

// ExecuteBatch applies every queued operation using transactions and
// closes the queue. Embedded associations of entities inserted in the same
// transaction are merged into the insert.
func (d *Dialect) ExecuteBatch(ctx context.Context, queue *dialect.OperationsQueue) error {
	defer queue.Close()

	b := &batch{d: d, targets: make(map[string]int)}
	for {
		op, err := queue.Poll()
		if err != nil {
			return err
		}
		if op == nil {
			break
		}
		if err := b.add(ctx, op); err != nil {
			return err
		}
	}
	return b.flush(ctx)
}

func (d *Dialect) entityTarget(key model.EntityKey) string {
	return d.EntityTable(key.Table()) + "/" + key.ID()
}

func (b *batch) add(ctx context.Context, op dialect.Operation) error {
	d := b.d
	switch o := op.(type) {
	case dialect.InsertOrUpdateTupleOperation:
		w, err := d.prepareTupleWrite(o.Key, o.Tuple, o.Context)
		if err != nil {
			return dialect.NewError(opInsertOrUpdateTuple, o.Key, err)
		}
		if w == nil {
			return nil
		}
		it := &batchItem{target: d.entityTarget(o.Key), tuple: w}
		if w.put != nil {
			it.write.Put = w.put
		} else {
			it.write.Update = w.update
		}
		return b.append(ctx, it)

	case dialect.RemoveTupleOperation:
		return b.append(ctx, &batchItem{
			target: d.entityTarget(o.Key),
			write: types.TransactWriteItem{Delete: &types.Delete{
				TableName: aws.String(d.EntityTable(o.Key.Table())),
				Key:       d.itemKey(o.Key),
			}},
		})

	case dialect.InsertOrUpdateAssociationOperation:
		rows := document.AssociationRows(o.Key, o.Association, o.Context.Type.Options.MapStorage)
		commit := func() { o.Association.Commit(document.AssociationFromRows(o.Association.Rows())) }
		return b.addAssociation(ctx, o.Key, o.Context, rows, commit)

	case dialect.RemoveAssociationOperation:
		return b.addAssociation(ctx, o.Key, o.Context, nil, nil)

	default:
		return fmt.Errorf("dynamo: unknown operation %T", op)
	}
}

func (b *batch) addAssociation(ctx context.Context, key model.AssociationKey, ac dialect.AssociationContext, rows any, commit func()) error {
	d := b.d
	meta := key.Metadata()
	strategy := ac.Type.StorageStrategy(meta)

	var commits []func()
	if commit != nil {
		commits = append(commits, commit)
	}

	if strategy == dialect.StrategyInEntity {
		owner := key.OwnerEntityKey()
		role := meta.CollectionRole

		if strings.Contains(role, ".") {
			// Nested roles need a read-modify-write of the owner.
			if err := b.flush(ctx); err != nil {
				return err
			}
			if err := d.writeAssociation(ctx, key, ac, rows); err != nil {
				return dialect.NewError(opInsertOrUpdateAssociation, key, err)
			}
			for _, c := range commits {
				c()
			}
			return nil
		}

		if pending := b.pendingInsert(owner); pending != nil {
			if rows == nil {
				document.ResetValue(pending.tuple.doc, role)
			} else {
				document.SetValue(pending.tuple.doc, role, rows)
			}
			if pending.tuple.roles == nil {
				pending.tuple.roles = make(map[string]any)
			}
			pending.tuple.roles[role] = rows
			if err := d.buildPut(pending.tuple); err != nil {
				return dialect.NewError(opInsertOrUpdateAssociation, key, err)
			}
			pending.write.Put = pending.tuple.put
			pending.commits = append(pending.commits, commits...)
			return nil
		}

		update, err := d.embeddedUpdate(owner, role, rows)
		if err != nil {
			return dialect.NewError(opInsertOrUpdateAssociation, key, err)
		}
		return b.append(ctx, &batchItem{
			target:        d.entityTarget(owner),
			write:         types.TransactWriteItem{Update: update},
			commits:       commits,
			ignoreMissing: rows == nil,
		})
	}

	table := d.AssociationTable(strategy, key.Table())
	it := &batchItem{
		target:  table + "/" + associationID(key) + "/" + ownerRef(key),
		commits: commits,
	}
	if rows == nil {
		it.write.Delete = &types.Delete{TableName: aws.String(table), Key: d.associationKey(key)}
	} else {
		item, err := d.associationItem(key, rows)
		if err != nil {
			return dialect.NewError(opInsertOrUpdateAssociation, key, err)
		}
		it.write.Put = &types.Put{TableName: aws.String(table), Item: item}
	}
	return b.append(ctx, it)
}

// pendingInsert returns the unflushed insert of an entity, if any.
func (b *batch) pendingInsert(key model.EntityKey) *batchItem {
	i, ok := b.targets[b.d.entityTarget(key)]
	if !ok {
		return nil
	}
	if it := b.items[i]; it.tuple != nil && it.tuple.put != nil {
		return it
	}
	return nil
}

func (b *batch) append(ctx context.Context, it *batchItem) error {
	if _, dup := b.targets[it.target]; dup || len(b.items) >= b.d.config.MaxTransactItems {
		if err := b.flush(ctx); err != nil {
			return err
		}
	}
	b.targets[it.target] = len(b.items)
	b.items = append(b.items, it)
	return nil
}

// flush sends the accumulated writes. When a condition fails on a write
// that turns out to be harmless, that write is dropped and the rest is
// sent again.
func (b *batch) flush(ctx context.Context) error {
	for len(b.items) > 0 {
		writes := make([]types.TransactWriteItem, len(b.items))
		for i, it := range b.items {
			writes[i] = it.write
		}

		_, err := b.d.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: writes,
		})
		if err == nil {
			for _, it := range b.items {
				it.commit()
			}
			b.reset(nil)
			return nil
		}

		i := cancellationIndex(err, reasonConditionalCheckFailed)
		if i < 0 {
			if cancellationIndex(err, reasonTransactionConflict) >= 0 {
				return dialect.NewError(opExecuteBatch, nil, fmt.Errorf("%w: %w", dialect.ErrOptimisticLock, err))
			}
			return dialect.NewError(opExecuteBatch, nil, classify(err))
		}
		if err := b.conditionFailed(ctx, b.items[i]); err != nil {
			return err
		}

		zerolog.Ctx(ctx).Debug().Str("target", b.items[i].target).Msg("dropping write already applied, retrying transaction")
		remaining := append(b.items[:i:i], b.items[i+1:]...)
		b.reset(remaining)
	}
	return nil
}

// conditionFailed resolves a failed condition of one write. A nil result
// means the write can be dropped.
func (b *batch) conditionFailed(ctx context.Context, it *batchItem) error {
	if it.tuple != nil {
		if err := b.d.resolveConflict(ctx, it.tuple); err != nil {
			return err
		}
		for _, c := range it.commits {
			c()
		}
		return nil
	}
	if it.ignoreMissing {
		for _, c := range it.commits {
			c()
		}
		return nil
	}
	return dialect.NewError(opExecuteBatch, nil, fmt.Errorf("%w: %s: %w", dialect.ErrOptimisticLock, it.target, errOwnerMissing))
}

func (b *batch) reset(items []*batchItem) {
	b.items = items
	b.targets = make(map[string]int, len(items))
	for i, it := range items {
		b.targets[it.target] = i
	}
}
