// Package dynamo is a document dialect backed by DynamoDB.
//
// Each entity is one item in the table TablePrefix+table, keyed by the
// encoded id values under Config.IDAttribute. Dotted columns are stored as
// nested maps. Every item carries a revision under Config.VersionAttribute;
// updates are conditioned on it.
//
// Associations are stored either inside the owner item under their
// collection role, or as items of an association table partitioned by a
// sharded owner reference.
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
	"github.com/jacentio/lattice/options"
)

const (
	opGetTuple                  = "get tuple"
	opInsertOrUpdateTuple       = "insert or update tuple"
	opRemoveTuple               = "remove tuple"
	opGetAssociation            = "get association"
	opInsertOrUpdateAssociation = "insert or update association"
	opRemoveAssociation         = "remove association"
)

// API is the subset of the DynamoDB client used by the dialect.
// *dynamodb.Client implements it.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Dialect provides grid operations on DynamoDB.
type Dialect struct {
	api      API
	config   Config
	registry *Registry
}

var (
	_ dialect.GridDialect                        = (*Dialect)(nil)
	_ dialect.BatchableGridDialect               = (*Dialect)(nil)
	_ dialect.QueryableGridDialect               = (*Dialect)(nil)
	_ dialect.AssociationStorageAwareGridDialect = (*Dialect)(nil)
)

// New creates a new Dialect instance.
func New(api API, config Config) *Dialect {
	config.validate()
	return &Dialect{
		api:    api,
		config: config,
	}
}

// NewWithRegistry creates a new Dialect instance with an association registry.
func NewWithRegistry(api API, config Config, registry *Registry) *Dialect {
	d := New(api, config)
	d.registry = registry
	return d
}

// Registry returns the association registry, or nil if not set.
func (d *Dialect) Registry() *Registry {
	return d.registry
}

// Config returns the validated configuration.
func (d *Dialect) Config() Config {
	return d.config
}

// EntityTable returns the DynamoDB table holding an entity table.
func (d *Dialect) EntityTable(table string) string {
	return d.config.TablePrefix + table
}

// LogicalTable strips the table prefix from a DynamoDB table name.
func (d *Dialect) LogicalTable(physical string) (string, bool) {
	if !strings.HasPrefix(physical, d.config.TablePrefix) || len(physical) == len(d.config.TablePrefix) {
		return "", false
	}
	return physical[len(d.config.TablePrefix):], true
}

func (d *Dialect) itemKey(key model.EntityKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		d.config.IDAttribute: stringValue(key.ID()),
	}
}

// fromEntityItem splits an entity item into its document and revision.
func (d *Dialect) fromEntityItem(item map[string]types.AttributeValue) (map[string]any, int64) {
	version := numberAttr(item, d.config.VersionAttribute)
	doc := make(map[string]any, len(item))
	for k, v := range item {
		if k == d.config.IDAttribute || k == d.config.VersionAttribute {
			continue
		}
		doc[k] = fromAttributeValue(v)
	}
	return doc, version
}

// getItem reads an entity item with a consistent read. It returns nil when
// the item does not exist.
func (d *Dialect) getItem(ctx context.Context, key model.EntityKey) (map[string]types.AttributeValue, error) {
	result, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.EntityTable(key.Table())),
		Key:            d.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(result.Item) == 0 {
		return nil, nil
	}
	return result.Item, nil
}

// documentSnapshot is a tuple snapshot over a nested document.
type documentSnapshot struct {
	doc      map[string]any
	revision int64
}

func (s documentSnapshot) Get(column string) any    { return document.GetValueOrNull(s.doc, column) }
func (s documentSnapshot) ColumnNames() []string    { return document.ColumnNames(s.doc) }
func (s documentSnapshot) IsEmpty() bool            { return len(s.doc) == 0 }
func (s documentSnapshot) Revision() int64          { return s.revision }
func (s documentSnapshot) Document() map[string]any { return s.doc }

func (d *Dialect) GetTuple(ctx context.Context, key model.EntityKey, tc dialect.TupleContext) (*model.Tuple, error) {
	item, err := d.getItem(ctx, key)
	if err != nil {
		return nil, dialect.NewError(opGetTuple, key, err)
	}
	if item == nil {
		return nil, nil
	}
	doc, version := d.fromEntityItem(item)
	return model.NewTupleFromSnapshot(documentSnapshot{doc: doc, revision: version}, model.SnapshotUpdate), nil
}

func (d *Dialect) CreateTuple(key model.EntityKey, tc dialect.TupleContext) *model.Tuple {
	return model.NewTuple()
}

// tupleWrite is a prepared entity write: either a conditional put for an
// insert or a conditional update of the touched top-level attributes.
type tupleWrite struct {
	key      model.EntityKey
	tuple    *model.Tuple
	ops      []model.TupleOperation
	expected int64
	doc      map[string]any
	put      *types.Put
	update   *types.Update
	// roles holds the in-entity associations merged into an insert, nil
	// for a removed role.
	roles map[string]any
}

func (w *tupleWrite) commit() {
	next := w.expected + 1
	if w.put != nil {
		next = 1
	}
	w.tuple.Commit(documentSnapshot{doc: w.doc, revision: next})
}

// baseDocument returns a private copy of the document the tuple was read from.
func baseDocument(tuple *model.Tuple) map[string]any {
	if s, ok := tuple.Snapshot().(documentSnapshot); ok {
		return document.DeepCopy(s.doc)
	}
	snap := tuple.Snapshot()
	columns := make(map[string]any)
	for _, c := range snap.ColumnNames() {
		columns[c] = snap.Get(c)
	}
	return document.UnflattenColumns(columns)
}

// prepareTupleWrite applies the tuple's operations to a copy of its
// document. It returns nil when an update has nothing to write.
func (d *Dialect) prepareTupleWrite(key model.EntityKey, tuple *model.Tuple, tc dialect.TupleContext) (*tupleWrite, error) {
	base := baseDocument(tuple)
	w := &tupleWrite{
		key:      key,
		tuple:    tuple,
		ops:      tuple.Operations(),
		expected: dialect.ExpectedRevision(tuple),
		doc:      document.DeepCopy(base),
	}
	touched := document.ApplyToDocument(w.doc, w.ops, document.NewEmbeddableStateFinder(tuple, tc.Type.SelectableColumns))

	if tuple.SnapshotType() == model.SnapshotInsert {
		names, values := key.ColumnNames(), key.ColumnValues()
		for i, c := range names {
			if document.GetValueOrNull(w.doc, c) == nil {
				document.SetValue(w.doc, c, values[i])
			}
		}
		return w, d.buildPut(w)
	}
	if len(touched) == 0 {
		return nil, nil
	}
	return w, d.buildUpdate(w, base, touched)
}

func (d *Dialect) buildPut(w *tupleWrite) error {
	item, err := toItem(w.doc)
	if err != nil {
		return err
	}
	item[d.config.IDAttribute] = stringValue(w.key.ID())
	item[d.config.VersionAttribute] = numberValue(1)
	w.put = &types.Put{
		TableName:                aws.String(d.EntityTable(w.key.Table())),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": d.config.IDAttribute},
	}
	return nil
}

// updateBuilder accumulates the clauses of a conditional UpdateItem.
type updateBuilder struct {
	names      map[string]string
	aliases    map[string]string
	values     map[string]types.AttributeValue
	nvalues    int
	set        []string
	remove     []string
	conditions []string
}

// path returns the expression for a dotted document path, one name
// placeholder per distinct segment.
func (b *updateBuilder) path(p string) string {
	segments := strings.Split(p, ".")
	for i, seg := range segments {
		alias, ok := b.aliases[seg]
		if !ok {
			alias = fmt.Sprintf("#attr%d", len(b.aliases))
			b.aliases[seg] = alias
			b.names[alias] = seg
		}
		segments[i] = alias
	}
	return strings.Join(segments, ".")
}

func (b *updateBuilder) value(v any) (string, error) {
	av, err := toAttributeValue(v)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf(":val%d", b.nvalues)
	b.nvalues++
	b.values[key] = av
	return key, nil
}

// buildUpdate writes every touched path in place, so attributes the tuple
// does not own, such as nested association roles, survive the update. A
// path whose parent sub-document is missing is widened to that ancestor,
// and writes replacing a whole sub-document are conditioned on its stored
// value.
func (d *Dialect) buildUpdate(w *tupleWrite, base map[string]any, touched []string) error {
	b := &updateBuilder{
		names:   map[string]string{"#version": d.config.VersionAttribute},
		aliases: make(map[string]string),
		values: map[string]types.AttributeValue{
			":expected": numberValue(w.expected),
			":next":     numberValue(w.expected + 1),
		},
		conditions: []string{"#version = :expected"},
	}

	var paths []string
	written := make(map[string]bool)
	widened := make(map[string]bool)
	for _, t := range touched {
		p, wide := writablePath(base, w.doc, t)
		if !written[p] {
			written[p] = true
			paths = append(paths, p)
		}
		if wide {
			widened[p] = true
		}
	}

	for _, p := range paths {
		if hasAncestor(written, p) {
			continue
		}
		inBase, inDoc := document.HasField(base, p), document.HasField(w.doc, p)
		if !inBase && !inDoc {
			continue
		}
		expr := b.path(p)

		old := document.GetValueOrNull(base, p)
		if _, isMap := old.(map[string]any); widened[p] || isMap {
			if !inBase {
				b.conditions = append(b.conditions, fmt.Sprintf("attribute_not_exists(%s)", expr))
			} else {
				key, err := b.value(old)
				if err != nil {
					return fmt.Errorf("attribute %q: %w", p, err)
				}
				b.conditions = append(b.conditions, fmt.Sprintf("%s = %s", expr, key))
			}
		}

		if !inDoc {
			b.remove = append(b.remove, expr)
			continue
		}
		key, err := b.value(document.GetValueOrNull(w.doc, p))
		if err != nil {
			return fmt.Errorf("attribute %q: %w", p, err)
		}
		b.set = append(b.set, fmt.Sprintf("%s = %s", expr, key))
	}
	b.set = append(b.set, "#version = :next")

	updateExpr := "SET " + strings.Join(b.set, ", ")
	if len(b.remove) > 0 {
		updateExpr += " REMOVE " + strings.Join(b.remove, ", ")
	}

	w.update = &types.Update{
		TableName:                 aws.String(d.EntityTable(w.key.Table())),
		Key:                       d.itemKey(w.key),
		UpdateExpression:          aws.String(updateExpr),
		ConditionExpression:       aws.String(strings.Join(b.conditions, " AND ")),
		ExpressionAttributeNames:  b.names,
		ExpressionAttributeValues: b.values,
	}
	return nil
}

// writablePath widens path to its outermost ancestor that is not a
// sub-document in both the stored and the updated document. DynamoDB
// cannot set a field below a missing map.
func writablePath(base, doc map[string]any, path string) (string, bool) {
	segments := strings.Split(path, ".")
	for i := 1; i < len(segments); i++ {
		prefix := strings.Join(segments[:i], ".")
		_, inBase := document.GetValueOrNull(base, prefix).(map[string]any)
		_, inDoc := document.GetValueOrNull(doc, prefix).(map[string]any)
		if !inBase || !inDoc {
			return prefix, true
		}
	}
	return path, false
}

// hasAncestor reports whether a proper prefix of path is in paths.
// Overlapping paths are rejected within one update expression.
func hasAncestor(paths map[string]bool, path string) bool {
	for i := strings.LastIndex(path, "."); i > 0; i = strings.LastIndex(path[:i], ".") {
		if paths[path[:i]] {
			return true
		}
	}
	return false
}

func (d *Dialect) InsertOrUpdateTuple(ctx context.Context, key model.EntityKey, tuple *model.Tuple, tc dialect.TupleContext) error {
	w, err := d.prepareTupleWrite(key, tuple, tc)
	if err != nil {
		return dialect.NewError(opInsertOrUpdateTuple, key, err)
	}
	if w == nil {
		return nil
	}

	if w.put != nil {
		_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                w.put.TableName,
			Item:                     w.put.Item,
			ConditionExpression:      w.put.ConditionExpression,
			ExpressionAttributeNames: w.put.ExpressionAttributeNames,
		})
	} else {
		_, err = d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 w.update.TableName,
			Key:                       w.update.Key,
			UpdateExpression:          w.update.UpdateExpression,
			ConditionExpression:       w.update.ConditionExpression,
			ExpressionAttributeNames:  w.update.ExpressionAttributeNames,
			ExpressionAttributeValues: w.update.ExpressionAttributeValues,
		})
	}

	if isConditionFailed(err) {
		return d.resolveConflict(ctx, w)
	}
	if err != nil {
		return dialect.NewError(opInsertOrUpdateTuple, key, classify(err))
	}
	w.commit()
	return nil
}

// resolveConflict decides what a failed version condition means: a replay
// of the same operations is accepted, anything else is a conflict.
func (d *Dialect) resolveConflict(ctx context.Context, w *tupleWrite) error {
	item, err := d.getItem(ctx, w.key)
	if err != nil {
		return dialect.NewError(opInsertOrUpdateTuple, w.key, err)
	}

	var current int64
	if item != nil {
		doc, version := d.fromEntityItem(item)
		current = version
		lookup := func(column string) any { return document.GetValueOrNull(doc, column) }
		if dialect.IsReplay(w.ops, w.expected, version, lookup) && rolesReflected(doc, w.roles) {
			w.tuple.Commit(documentSnapshot{doc: doc, revision: version})
			return nil
		}
	}

	zerolog.Ctx(ctx).Debug().
		Str("table", w.key.Table()).
		Str("key", w.key.String()).
		Int64("expected", w.expected).
		Int64("current", current).
		Msg("version conflict")
	return dialect.NewError(opInsertOrUpdateTuple, w.key, dialect.ConflictError(w.tuple))
}

// rolesReflected reports whether every merged association role is stored
// as it was written.
func rolesReflected(doc map[string]any, roles map[string]any) bool {
	for role, rows := range roles {
		stored := document.GetValueOrNull(doc, role)
		if rows == nil {
			if stored != nil {
				return false
			}
			continue
		}
		av, err := toAttributeValue(rows)
		if err != nil || !document.ValuesEqual(stored, fromAttributeValue(av)) {
			return false
		}
	}
	return true
}

func (d *Dialect) RemoveTuple(ctx context.Context, key model.EntityKey, tc dialect.TupleContext) error {
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.EntityTable(key.Table())),
		Key:       d.itemKey(key),
	})
	return dialect.NewError(opRemoveTuple, key, classify(err))
}

// IsStoredInEntityStructure reports whether the association is kept in the
// owner item.
func (d *Dialect) IsStoredInEntityStructure(meta model.AssociationKeyMetadata, tc dialect.AssociationTypeContext) bool {
	return tc.StorageStrategy(meta) == dialect.StrategyInEntity
}

// SupportsAssociationStorage accepts every storage mode.
func (d *Dialect) SupportsAssociationStorage(st options.AssociationStorageType) bool {
	return true
}

// SupportsSequences is false: NextValue uses counter items.
func (d *Dialect) SupportsSequences() bool { return false }

// OverrideType stores temporal values as ISO-8601 strings, UUIDs as strings
// and single characters and bytes in their string or numeric form.
func (d *Dialect) OverrideType(t model.ValueType) (dialect.GridType, bool) {
	switch t {
	case model.ValueTime:
		return dialect.ISO8601Time, true
	case model.ValueDate:
		return dialect.ISO8601Date, true
	case model.ValueUUID:
		return dialect.UUIDAsString, true
	case model.ValueChar:
		return dialect.CharAsString, true
	case model.ValueByte:
		return dialect.ByteAsInt, true
	default:
		return nil, false
	}
}

// DuplicateInsertPreventionStrategy is Native: inserts are conditioned on
// the item not existing.
func (d *Dialect) DuplicateInsertPreventionStrategy(meta model.EntityKeyMetadata) dialect.DuplicateInsertPreventionStrategy {
	return dialect.Native
}
