package dialect

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jacentio/lattice/model"
)

// loggingDialect logs every call to the wrapped dialect: invocations at
// debug level, failures at error level.
type loggingDialect struct {
	next   GridDialect
	logger zerolog.Logger
}

// WithLogging wraps d so that every operation is logged to logger.
func WithLogging(d GridDialect, logger zerolog.Logger) GridDialect {
	return &loggingDialect{next: d, logger: logger.With().Str("component", "grid_dialect").Logger()}
}

func (l *loggingDialect) Unwrap() GridDialect { return l.next }

func (l *loggingDialect) done(op string, key string, start time.Time, err error) {
	if err != nil {
		l.logger.Error().Err(err).Str("op", op).Str("key", key).Dur("took", time.Since(start)).Msg("dialect operation failed")
		return
	}
	l.logger.Debug().Str("op", op).Str("key", key).Dur("took", time.Since(start)).Msg("dialect operation")
}

func (l *loggingDialect) GetTuple(ctx context.Context, key model.EntityKey, tc TupleContext) (*model.Tuple, error) {
	start := time.Now()
	t, err := l.next.GetTuple(ctx, key, tc)
	l.done("get_tuple", key.String(), start, err)
	return t, err
}

func (l *loggingDialect) CreateTuple(key model.EntityKey, tc TupleContext) *model.Tuple {
	l.logger.Debug().Str("op", "create_tuple").Str("key", key.String()).Msg("dialect operation")
	return l.next.CreateTuple(key, tc)
}

func (l *loggingDialect) InsertOrUpdateTuple(ctx context.Context, key model.EntityKey, tuple *model.Tuple, tc TupleContext) error {
	start := time.Now()
	err := l.next.InsertOrUpdateTuple(ctx, key, tuple, tc)
	l.done("insert_or_update_tuple", key.String(), start, err)
	return err
}

func (l *loggingDialect) RemoveTuple(ctx context.Context, key model.EntityKey, tc TupleContext) error {
	start := time.Now()
	err := l.next.RemoveTuple(ctx, key, tc)
	l.done("remove_tuple", key.String(), start, err)
	return err
}

func (l *loggingDialect) GetAssociation(ctx context.Context, key model.AssociationKey, ac AssociationContext) (*model.Association, error) {
	start := time.Now()
	a, err := l.next.GetAssociation(ctx, key, ac)
	l.done("get_association", key.String(), start, err)
	return a, err
}

func (l *loggingDialect) CreateAssociation(key model.AssociationKey, ac AssociationContext) *model.Association {
	l.logger.Debug().Str("op", "create_association").Str("key", key.String()).Msg("dialect operation")
	return l.next.CreateAssociation(key, ac)
}

func (l *loggingDialect) InsertOrUpdateAssociation(ctx context.Context, key model.AssociationKey, assoc *model.Association, ac AssociationContext) error {
	start := time.Now()
	err := l.next.InsertOrUpdateAssociation(ctx, key, assoc, ac)
	l.done("insert_or_update_association", key.String(), start, err)
	return err
}

func (l *loggingDialect) RemoveAssociation(ctx context.Context, key model.AssociationKey, ac AssociationContext) error {
	start := time.Now()
	err := l.next.RemoveAssociation(ctx, key, ac)
	l.done("remove_association", key.String(), start, err)
	return err
}

func (l *loggingDialect) IsStoredInEntityStructure(meta model.AssociationKeyMetadata, tc AssociationTypeContext) bool {
	return l.next.IsStoredInEntityStructure(meta, tc)
}

func (l *loggingDialect) NextValue(ctx context.Context, req NextValueRequest) (int64, error) {
	start := time.Now()
	v, err := l.next.NextValue(ctx, req)
	l.done("next_value", req.Key.String(), start, err)
	return v, err
}

func (l *loggingDialect) SupportsSequences() bool { return l.next.SupportsSequences() }

func (l *loggingDialect) ForEachTuple(ctx context.Context, consumer ModelConsumer, tc TupleTypeContext, metadata ...model.EntityKeyMetadata) error {
	start := time.Now()
	err := l.next.ForEachTuple(ctx, consumer, tc, metadata...)
	l.done("for_each_tuple", "", start, err)
	return err
}

func (l *loggingDialect) OverrideType(t model.ValueType) (GridType, bool) {
	return l.next.OverrideType(t)
}

func (l *loggingDialect) DuplicateInsertPreventionStrategy(meta model.EntityKeyMetadata) DuplicateInsertPreventionStrategy {
	return l.next.DuplicateInsertPreventionStrategy(meta)
}
