package metrics

import (
	"context"
	"time"

	"github.com/jacentio/lattice/dialect"
	"github.com/jacentio/lattice/model"
)

type instrumented struct {
	next dialect.GridDialect
	name string
	m    *Metrics
}

// Instrument wraps d so that every blocking operation is counted and timed
// under the dialect label name. A nil m returns d unchanged.
func Instrument(d dialect.GridDialect, name string, m *Metrics) dialect.GridDialect {
	if m == nil {
		return d
	}
	return &instrumented{next: d, name: name, m: m}
}

func (i *instrumented) Unwrap() dialect.GridDialect { return i.next }

func (i *instrumented) observe(op string, start time.Time, err error) {
	i.m.operations.WithLabelValues(i.name, op, Outcome(err)).Inc()
	i.m.duration.WithLabelValues(i.name, op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) GetTuple(ctx context.Context, key model.EntityKey, tc dialect.TupleContext) (*model.Tuple, error) {
	start := time.Now()
	t, err := i.next.GetTuple(ctx, key, tc)
	i.observe("get_tuple", start, err)
	return t, err
}

func (i *instrumented) CreateTuple(key model.EntityKey, tc dialect.TupleContext) *model.Tuple {
	return i.next.CreateTuple(key, tc)
}

func (i *instrumented) InsertOrUpdateTuple(ctx context.Context, key model.EntityKey, tuple *model.Tuple, tc dialect.TupleContext) error {
	start := time.Now()
	err := i.next.InsertOrUpdateTuple(ctx, key, tuple, tc)
	i.observe("insert_or_update_tuple", start, err)
	return err
}

func (i *instrumented) RemoveTuple(ctx context.Context, key model.EntityKey, tc dialect.TupleContext) error {
	start := time.Now()
	err := i.next.RemoveTuple(ctx, key, tc)
	i.observe("remove_tuple", start, err)
	return err
}

func (i *instrumented) GetAssociation(ctx context.Context, key model.AssociationKey, ac dialect.AssociationContext) (*model.Association, error) {
	start := time.Now()
	a, err := i.next.GetAssociation(ctx, key, ac)
	i.observe("get_association", start, err)
	return a, err
}

func (i *instrumented) CreateAssociation(key model.AssociationKey, ac dialect.AssociationContext) *model.Association {
	return i.next.CreateAssociation(key, ac)
}

func (i *instrumented) InsertOrUpdateAssociation(ctx context.Context, key model.AssociationKey, assoc *model.Association, ac dialect.AssociationContext) error {
	start := time.Now()
	err := i.next.InsertOrUpdateAssociation(ctx, key, assoc, ac)
	i.observe("insert_or_update_association", start, err)
	return err
}

func (i *instrumented) RemoveAssociation(ctx context.Context, key model.AssociationKey, ac dialect.AssociationContext) error {
	start := time.Now()
	err := i.next.RemoveAssociation(ctx, key, ac)
	i.observe("remove_association", start, err)
	return err
}

func (i *instrumented) IsStoredInEntityStructure(meta model.AssociationKeyMetadata, tc dialect.AssociationTypeContext) bool {
	return i.next.IsStoredInEntityStructure(meta, tc)
}

func (i *instrumented) NextValue(ctx context.Context, req dialect.NextValueRequest) (int64, error) {
	start := time.Now()
	v, err := i.next.NextValue(ctx, req)
	i.observe("next_value", start, err)
	return v, err
}

func (i *instrumented) SupportsSequences() bool { return i.next.SupportsSequences() }

func (i *instrumented) ForEachTuple(ctx context.Context, consumer dialect.ModelConsumer, tc dialect.TupleTypeContext, metadata ...model.EntityKeyMetadata) error {
	start := time.Now()
	err := i.next.ForEachTuple(ctx, consumer, tc, metadata...)
	i.observe("for_each_tuple", start, err)
	return err
}

func (i *instrumented) OverrideType(t model.ValueType) (dialect.GridType, bool) {
	return i.next.OverrideType(t)
}

func (i *instrumented) DuplicateInsertPreventionStrategy(meta model.EntityKeyMetadata) dialect.DuplicateInsertPreventionStrategy {
	return i.next.DuplicateInsertPreventionStrategy(meta)
}
