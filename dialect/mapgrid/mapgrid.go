// Package mapgrid is an in-memory grid dialect. Records are flat column
// maps guarded by a single lock. It serves as the reference behaviour for
// the dialect contract and as a test double for the mapping layer.
package mapgrid

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jacentio/lattice/dialect"
	"github.com/jacentio/lattice/document"
	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/options"
)

const scanPageSize = 64

// Procedure is a stored procedure: it receives the call parameters and
// returns result rows as flat column maps.
type Procedure func(ctx context.Context, params dialect.QueryParameters) ([]map[string]any, error)

type entityRecord struct {
	key      model.EntityKey
	columns  map[string]any
	revision int64
}

type associationRecord struct {
	key  model.AssociationKey
	rows []model.Row
}

// Dialect stores everything in process memory.
type Dialect struct {
	mu           sync.RWMutex
	entities     map[string]map[string]*entityRecord
	associations map[string]*associationRecord
	counters     map[string]int64
	procedures   map[string]Procedure
}

var (
	_ dialect.GridDialect                        = (*Dialect)(nil)
	_ dialect.StoredProcedureAwareGridDialect    = (*Dialect)(nil)
	_ dialect.AssociationStorageAwareGridDialect = (*Dialect)(nil)
)

// New returns an empty store.
func New() *Dialect {
	return &Dialect{
		entities:     make(map[string]map[string]*entityRecord),
		associations: make(map[string]*associationRecord),
		counters:     make(map[string]int64),
		procedures:   make(map[string]Procedure),
	}
}

// snapshot is a copied column map tagged with the record revision.
type snapshot struct {
	model.MapSnapshot
	revision int64
}

func (s snapshot) Revision() int64 { return s.revision }

func newSnapshot(columns map[string]any, revision int64) snapshot {
	return snapshot{MapSnapshot: maps.Clone(columns), revision: revision}
}

func (d *Dialect) GetTuple(ctx context.Context, key model.EntityKey, tc dialect.TupleContext) (*model.Tuple, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec := d.entities[key.Table()][key.Hash()]
	if rec == nil {
		return nil, nil
	}
	return model.NewTupleFromSnapshot(newSnapshot(rec.columns, rec.revision), model.SnapshotUpdate), nil
}

func (d *Dialect) CreateTuple(key model.EntityKey, tc dialect.TupleContext) *model.Tuple {
	return model.NewTuple()
}

func (d *Dialect) InsertOrUpdateTuple(ctx context.Context, key model.EntityKey, tuple *model.Tuple, tc dialect.TupleContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	table := d.entities[key.Table()]
	if table == nil {
		table = make(map[string]*entityRecord)
		d.entities[key.Table()] = table
	}
	rec := table[key.Hash()]
	ops := tuple.Operations()
	expected := dialect.ExpectedRevision(tuple)

	var current int64
	columns := make(map[string]any)
	if rec != nil {
		current = rec.revision
		columns = maps.Clone(rec.columns)
	}

	conflict := (tuple.SnapshotType() == model.SnapshotInsert && rec != nil) ||
		(tuple.SnapshotType() == model.SnapshotUpdate && (rec == nil || current != expected))
	if conflict {
		if rec != nil && dialect.IsReplay(ops, expected, current, func(c string) any { return rec.columns[c] }) {
			tuple.Commit(newSnapshot(rec.columns, rec.revision))
			return nil
		}
		zerolog.Ctx(ctx).Debug().Str("key", key.String()).Int64("expected", expected).Int64("current", current).Msg("revision conflict")
		return dialect.NewError("insert or update tuple", key, dialect.ConflictError(tuple))
	}

	document.ApplyToColumns(columns, ops, document.NewEmbeddableStateFinder(tuple, tc.Type.SelectableColumns))
	names, values := key.ColumnNames(), key.ColumnValues()
	for i, c := range names {
		if _, ok := columns[c]; !ok {
			columns[c] = values[i]
		}
	}

	rec = &entityRecord{key: key, columns: columns, revision: current + 1}
	table[key.Hash()] = rec
	tuple.Commit(newSnapshot(columns, rec.revision))
	return nil
}

func (d *Dialect) RemoveTuple(ctx context.Context, key model.EntityKey, tc dialect.TupleContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entities[key.Table()], key.Hash())
	return nil
}

func (d *Dialect) GetAssociation(ctx context.Context, key model.AssociationKey, ac dialect.AssociationContext) (*model.Association, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec := d.associations[key.Hash()]
	if rec == nil {
		return nil, nil
	}
	return model.NewAssociationFromSnapshot(document.AssociationFromRows(rec.rows)), nil
}

func (d *Dialect) CreateAssociation(key model.AssociationKey, ac dialect.AssociationContext) *model.Association {
	return model.NewAssociation()
}

func (d *Dialect) InsertOrUpdateAssociation(ctx context.Context, key model.AssociationKey, assoc *model.Association, ac dialect.AssociationContext) error {
	rows := assoc.Rows()

	d.mu.Lock()
	if len(rows) == 0 {
		delete(d.associations, key.Hash())
	} else {
		stored := document.AssociationFromRows(rows)
		copied := make([]model.Row, 0, stored.Size())
		for _, k := range stored.RowKeys() {
			copied = append(copied, model.Row{Key: k, Tuple: stored.Get(k)})
		}
		d.associations[key.Hash()] = &associationRecord{key: key, rows: copied}
	}
	d.mu.Unlock()

	assoc.Commit(document.AssociationFromRows(rows))
	return nil
}

func (d *Dialect) RemoveAssociation(ctx context.Context, key model.AssociationKey, ac dialect.AssociationContext) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.associations, key.Hash())
	return nil
}

// IsStoredInEntityStructure is always false: associations are kept apart
// from their owners.
func (d *Dialect) IsStoredInEntityStructure(meta model.AssociationKeyMetadata, tc dialect.AssociationTypeContext) bool {
	return false
}

// SupportsAssociationStorage only accepts association documents.
func (d *Dialect) SupportsAssociationStorage(st options.AssociationStorageType) bool {
	return st == options.AssociationDocument
}

func (d *Dialect) NextValue(ctx context.Context, req dialect.NextValueRequest) (int64, error) {
	inc := req.Increment
	if inc == 0 {
		inc = 1
	}
	h := req.Key.Hash()

	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.counters[h]
	if !ok {
		v = req.InitialValue
	}
	d.counters[h] = v + inc
	return v, nil
}

func (d *Dialect) SupportsSequences() bool { return true }

func (d *Dialect) ForEachTuple(ctx context.Context, consumer dialect.ModelConsumer, tc dialect.TupleTypeContext, metadata ...model.EntityKeyMetadata) error {
	for _, meta := range metadata {
		table := meta.Table()
		supplier := dialect.SupplierFunc(func(ctx context.Context) (dialect.TupleIterator, error) {
			return d.scan(table), nil
		})
		if err := consumer.Consume(ctx, meta, supplier); err != nil {
			return err
		}
	}
	return nil
}

// scan iterates over the keys present when the scan starts; records removed
// in the meantime are skipped.
func (d *Dialect) scan(table string) dialect.TupleIterator {
	d.mu.RLock()
	hashes := slices.Collect(maps.Keys(d.entities[table]))
	d.mu.RUnlock()
	sort.Strings(hashes)

	return dialect.NewPagedIterator(func(ctx context.Context) ([]*model.Tuple, bool, error) {
		n := min(scanPageSize, len(hashes))
		batch := hashes[:n]
		hashes = hashes[n:]

		d.mu.RLock()
		defer d.mu.RUnlock()
		tuples := make([]*model.Tuple, 0, n)
		for _, h := range batch {
			if rec := d.entities[table][h]; rec != nil {
				tuples = append(tuples, model.NewTupleFromSnapshot(newSnapshot(rec.columns, rec.revision), model.SnapshotUpdate))
			}
		}
		return tuples, len(hashes) == 0, nil
	}, nil)
}

func (d *Dialect) OverrideType(t model.ValueType) (dialect.GridType, bool) {
	return nil, false
}

func (d *Dialect) DuplicateInsertPreventionStrategy(meta model.EntityKeyMetadata) dialect.DuplicateInsertPreventionStrategy {
	return dialect.Native
}

// RegisterProcedure makes a stored procedure callable by name.
func (d *Dialect) RegisterProcedure(name string, p Procedure) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.procedures[name] = p
}

func (d *Dialect) CallStoredProcedure(ctx context.Context, name string, params dialect.QueryParameters, tc dialect.TupleContext) (dialect.TupleIterator, error) {
	d.mu.RLock()
	p, ok := d.procedures[name]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mapgrid: stored procedure %q is not registered", name)
	}

	rows, err := p(ctx, params)
	if err != nil {
		return nil, err
	}
	tuples := make([]*model.Tuple, len(rows))
	for i, r := range rows {
		tuples[i] = model.NewTupleFromSnapshot(model.MapSnapshot(maps.Clone(r)), model.SnapshotUpdate)
	}
	return dialect.NewSliceIterator(tuples), nil
}

// Count returns the number of records in an entity table.
func (d *Dialect) Count(table string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entities[table])
}
