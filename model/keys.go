package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// EntityKeyMetadata describes the shape of the keys of one entity table.
type EntityKeyMetadata struct {
	table       string
	columnNames []string
}

// NewEntityKeyMetadata creates metadata for the given table and id columns.
func NewEntityKeyMetadata(table string, columnNames ...string) EntityKeyMetadata {
	return EntityKeyMetadata{table: table, columnNames: slices.Clone(columnNames)}
}

// Table returns the logical table name.
func (m EntityKeyMetadata) Table() string { return m.table }

// ColumnNames returns the id column names in key order.
func (m EntityKeyMetadata) ColumnNames() []string { return slices.Clone(m.columnNames) }

// IsKeyColumn reports whether name is one of the id columns.
func (m EntityKeyMetadata) IsKeyColumn(name string) bool {
	return slices.Contains(m.columnNames, name)
}

// Equal reports whether both metadata describe the same table and columns.
func (m EntityKeyMetadata) Equal(o EntityKeyMetadata) bool {
	return m.table == o.table && slices.Equal(m.columnNames, o.columnNames)
}

func (m EntityKeyMetadata) String() string {
	return fmt.Sprintf("EntityKeyMetadata(%s%v)", m.table, m.columnNames)
}

// EntityKey identifies one entity: metadata plus the id column values.
type EntityKey struct {
	metadata EntityKeyMetadata
	values   []any
}

// NewEntityKey creates a key. Values are positionally aligned with the
// metadata's column names.
func NewEntityKey(metadata EntityKeyMetadata, values ...any) EntityKey {
	return EntityKey{metadata: metadata, values: slices.Clone(values)}
}

// Metadata returns the key metadata.
func (k EntityKey) Metadata() EntityKeyMetadata { return k.metadata }

// Table returns the logical table name.
func (k EntityKey) Table() string { return k.metadata.table }

// ColumnNames returns the id column names.
func (k EntityKey) ColumnNames() []string { return k.metadata.ColumnNames() }

// ColumnValues returns the id values.
func (k EntityKey) ColumnValues() []any { return slices.Clone(k.values) }

// ValueOf returns the value of the named id column, or nil.
func (k EntityKey) ValueOf(column string) any {
	return valueOf(k.metadata.columnNames, k.values, column)
}

// Equal reports structural equality.
func (k EntityKey) Equal(o EntityKey) bool {
	return k.metadata.Equal(o.metadata) && valuesEqual(k.values, o.values)
}

// Hash returns a canonical representation; equal keys have equal hashes.
func (k EntityKey) Hash() string {
	return canonical(k.metadata.table, k.metadata.columnNames, k.values)
}

// ID returns the id values encoded as a single string, suitable as a
// document identifier within one table.
func (k EntityKey) ID() string {
	return EncodeValues(k.values)
}

func (k EntityKey) String() string {
	return fmt.Sprintf("EntityKey(%s)%s", k.metadata.table, pairs(k.metadata.columnNames, k.values))
}

// AssociationKind distinguishes associations between entities from
// collections of embeddables or basic values.
type AssociationKind int

const (
	KindAssociation AssociationKind = iota
	KindEmbeddedCollection
)

func (k AssociationKind) String() string {
	if k == KindEmbeddedCollection {
		return "EMBEDDED_COLLECTION"
	}
	return "ASSOCIATION"
}

// AssociationType is the cardinality of an association.
type AssociationType int

const (
	TypeCollection AssociationType = iota
	TypeOneToOne
)

func (t AssociationType) String() string {
	if t == TypeOneToOne {
		return "ONE_TO_ONE"
	}
	return "COLLECTION"
}

// AssociatedEntityKeyMetadata links the columns of an association row to
// the key of the entity on the other side.
type AssociatedEntityKeyMetadata struct {
	// AssociationKeyColumns are the row columns holding the target's id.
	AssociationKeyColumns []string
	// EntityKeyMetadata is the key metadata of the target entity.
	EntityKeyMetadata EntityKeyMetadata
}

// AssociationKeyMetadata describes the shape of an association and its rows.
type AssociationKeyMetadata struct {
	Table                  string
	ColumnNames            []string
	RowKeyColumnNames      []string
	RowKeyIndexColumnNames []string
	// RowColumnNames lists every column of a row. Defaults to
	// RowKeyColumnNames when empty.
	RowColumnNames              []string
	AssociatedEntityKeyMetadata AssociatedEntityKeyMetadata
	Kind                        AssociationKind
	Type                        AssociationType
	CollectionRole              string
	Inverse                     bool
}

// IsKeyColumn reports whether name is one of the association key columns.
func (m AssociationKeyMetadata) IsKeyColumn(name string) bool {
	return slices.Contains(m.ColumnNames, name)
}

// IsRowKeyIndexColumn reports whether name is a list index or map key column.
func (m AssociationKeyMetadata) IsRowKeyIndexColumn(name string) bool {
	return slices.Contains(m.RowKeyIndexColumnNames, name)
}

// ColumnsWithoutKeyColumns filters out the association key columns.
func (m AssociationKeyMetadata) ColumnsWithoutKeyColumns(columns []string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if !m.IsKeyColumn(c) {
			out = append(out, c)
		}
	}
	return out
}

// RowColumns returns every column of a row.
func (m AssociationKeyMetadata) RowColumns() []string {
	if len(m.RowColumnNames) > 0 {
		return slices.Clone(m.RowColumnNames)
	}
	return slices.Clone(m.RowKeyColumnNames)
}

// SingleRowValueColumn returns the row column that is neither a key column
// nor an index column, when there is exactly one such column.
func (m AssociationKeyMetadata) SingleRowValueColumn() (string, bool) {
	var found string
	n := 0
	for _, c := range m.RowColumns() {
		if m.IsKeyColumn(c) || m.IsRowKeyIndexColumn(c) {
			continue
		}
		found = c
		n++
	}
	return found, n == 1
}

// IsOneToOne reports whether the association holds at most one row.
func (m AssociationKeyMetadata) IsOneToOne() bool { return m.Type == TypeOneToOne }

// Equal compares table and key columns.
func (m AssociationKeyMetadata) Equal(o AssociationKeyMetadata) bool {
	return m.Table == o.Table && slices.Equal(m.ColumnNames, o.ColumnNames)
}

// AssociationKey identifies one association of one owning entity.
type AssociationKey struct {
	metadata AssociationKeyMetadata
	values   []any
	owner    EntityKey
}

// NewAssociationKey creates a key. Values are aligned with metadata.ColumnNames.
func NewAssociationKey(metadata AssociationKeyMetadata, values []any, owner EntityKey) AssociationKey {
	return AssociationKey{metadata: metadata, values: slices.Clone(values), owner: owner}
}

// Metadata returns the association metadata.
func (k AssociationKey) Metadata() AssociationKeyMetadata { return k.metadata }

// Table returns the association table.
func (k AssociationKey) Table() string { return k.metadata.Table }

// ColumnNames returns the key column names.
func (k AssociationKey) ColumnNames() []string { return slices.Clone(k.metadata.ColumnNames) }

// ColumnValues returns the key column values.
func (k AssociationKey) ColumnValues() []any { return slices.Clone(k.values) }

// ValueOf returns the value of the named key column, or nil.
func (k AssociationKey) ValueOf(column string) any {
	return valueOf(k.metadata.ColumnNames, k.values, column)
}

// OwnerEntityKey returns the key of the entity owning the association.
func (k AssociationKey) OwnerEntityKey() EntityKey { return k.owner }

// ID returns the key values encoded as a single string.
func (k AssociationKey) ID() string { return EncodeValues(k.values) }

// Equal reports structural equality of metadata and values.
func (k AssociationKey) Equal(o AssociationKey) bool {
	return k.metadata.Equal(o.metadata) && valuesEqual(k.values, o.values)
}

// Hash returns a canonical representation; equal keys have equal hashes.
func (k AssociationKey) Hash() string {
	return canonical(k.metadata.Table, k.metadata.ColumnNames, k.values)
}

func (k AssociationKey) String() string {
	return fmt.Sprintf("AssociationKey(%s)%s", k.metadata.Table, pairs(k.metadata.ColumnNames, k.values))
}

// RowKey addresses one row of an association.
type RowKey struct {
	columnNames []string
	values      []any
}

// NewRowKey creates a row key from aligned columns and values.
func NewRowKey(columnNames []string, values []any) RowKey {
	return RowKey{columnNames: slices.Clone(columnNames), values: slices.Clone(values)}
}

// ColumnNames returns the row key columns.
func (k RowKey) ColumnNames() []string { return slices.Clone(k.columnNames) }

// ColumnValues returns the row key values.
func (k RowKey) ColumnValues() []any { return slices.Clone(k.values) }

// ValueOf returns the value of the named column, or nil.
func (k RowKey) ValueOf(column string) any {
	return valueOf(k.columnNames, k.values, column)
}

// Equal reports structural equality.
func (k RowKey) Equal(o RowKey) bool {
	return slices.Equal(k.columnNames, o.columnNames) && valuesEqual(k.values, o.values)
}

// Hash returns a canonical representation; equal keys have equal hashes.
func (k RowKey) Hash() string {
	return canonical("", k.columnNames, k.values)
}

func (k RowKey) String() string {
	return "RowKey" + pairs(k.columnNames, k.values)
}

// IdSourceKey identifies an id generator, such as a sequence or one row of
// a generator table.
type IdSourceKey struct {
	Table       string
	KeyColumn   string
	ValueColumn string
	// Segment is the sequence name or the generator row value.
	Segment string
}

// Hash returns a canonical representation of the generator.
func (k IdSourceKey) Hash() string {
	return canonical(k.Table, []string{k.KeyColumn}, []any{k.Segment})
}

func (k IdSourceKey) String() string {
	return fmt.Sprintf("IdSourceKey(%s)[%s=%s]", k.Table, k.KeyColumn, k.Segment)
}

// EncodeValues encodes id values as a compact, deterministic string.
// A single string value is returned unchanged.
func EncodeValues(values []any) string {
	if len(values) == 1 {
		if s, ok := values[0].(string); ok {
			return s
		}
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = encodeScalar(v)
	}
	b, _ := json.Marshal(parts)
	return string(b)
}

func encodeScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return base64.RawURLEncoding.EncodeToString(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func canonical(table string, columns []string, values []any) string {
	var b strings.Builder
	b.WriteString(strconv.Quote(table))
	for i, c := range columns {
		b.WriteByte('|')
		b.WriteString(strconv.Quote(c))
		b.WriteByte('=')
		var v any
		if i < len(values) {
			v = values[i]
		}
		b.WriteString(scalarForm(v))
	}
	return b.String()
}

// scalarForm tags a value with its kind so that values of different kinds
// never collide, while integers of any width compare equal.
func scalarForm(v any) string {
	var kind string
	switch v.(type) {
	case nil:
		kind = "nil"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		kind = "int"
	case float32, float64:
		kind = "float"
	default:
		kind = fmt.Sprintf("%T", v)
	}
	return kind + ":" + strconv.Quote(encodeScalar(v))
}

func pairs(columns []string, values []any) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		var v any
		if i < len(values) {
			v = values[i]
		}
		parts[i] = fmt.Sprintf("%s=%v", c, v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func valueOf(columns []string, values []any, column string) any {
	for i, c := range columns {
		if c == column && i < len(values) {
			return values[i]
		}
	}
	return nil
}

func valuesEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if scalarForm(a[i]) != scalarForm(b[i]) && !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
