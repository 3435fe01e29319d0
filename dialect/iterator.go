package dialect

import (
	"context"

	"github.com/jacentio/lattice/model"
)

// TupleIterator is a lazy, closable cursor over tuples.
//
//	for it.Next(ctx) {
//		use(it.Tuple())
//	}
//	if err := it.Err(); err != nil { ... }
//	it.Close()
type TupleIterator interface {
	Next(ctx context.Context) bool
	Tuple() *model.Tuple
	Err() error
	Close() error
}

// TuplesSupplier opens a fresh iterator on every call to Get.
type TuplesSupplier interface {
	Get(ctx context.Context) (TupleIterator, error)
}

// SupplierFunc adapts a function to TuplesSupplier.
type SupplierFunc func(ctx context.Context) (TupleIterator, error)

func (f SupplierFunc) Get(ctx context.Context) (TupleIterator, error) { return f(ctx) }

// ModelConsumer receives one supplier per scanned entity table.
type ModelConsumer interface {
	Consume(ctx context.Context, meta model.EntityKeyMetadata, supplier TuplesSupplier) error
}

// ConsumerFunc adapts a function to ModelConsumer.
type ConsumerFunc func(ctx context.Context, meta model.EntityKeyMetadata, supplier TuplesSupplier) error

func (f ConsumerFunc) Consume(ctx context.Context, meta model.EntityKeyMetadata, supplier TuplesSupplier) error {
	return f(ctx, meta, supplier)
}

// PageFunc fetches the next page of tuples. It returns done once no page
// follows the returned one.
type PageFunc func(ctx context.Context) (tuples []*model.Tuple, done bool, err error)

type pagedIterator struct {
	fetch   PageFunc
	onClose func() error
	page    []*model.Tuple
	current *model.Tuple
	done    bool
	closed  bool
	err     error
}

// NewPagedIterator builds an iterator that fetches pages on demand.
// onClose may be nil.
func NewPagedIterator(fetch PageFunc, onClose func() error) TupleIterator {
	return &pagedIterator{fetch: fetch, onClose: onClose}
}

// NewSliceIterator iterates over an in-memory slice.
func NewSliceIterator(tuples []*model.Tuple) TupleIterator {
	return &pagedIterator{page: tuples, done: true}
}

func (it *pagedIterator) Next(ctx context.Context) bool {
	if it.closed || it.err != nil {
		return false
	}
	for len(it.page) == 0 {
		if it.done {
			it.current = nil
			return false
		}
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}
		page, done, err := it.fetch(ctx)
		if err != nil {
			it.err = err
			return false
		}
		it.page, it.done = page, done
	}
	it.current = it.page[0]
	it.page = it.page[1:]
	return true
}

func (it *pagedIterator) Tuple() *model.Tuple { return it.current }

func (it *pagedIterator) Err() error { return it.err }

func (it *pagedIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.page = nil
	if it.onClose != nil {
		return it.onClose()
	}
	return nil
}

// Collect drains an iterator and closes it.
func Collect(ctx context.Context, it TupleIterator) (tuples []*model.Tuple, err error) {
	defer func() {
		if cerr := it.Close(); err == nil {
			err = cerr
		}
	}()
	for it.Next(ctx) {
		tuples = append(tuples, it.Tuple())
	}
	return tuples, it.Err()
}
