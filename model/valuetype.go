package model

// ValueType is a generic value type a dialect may store in a different
// representation.
type ValueType int

const (
	ValueString ValueType = iota
	ValueInt64
	ValueFloat64
	ValueBool
	ValueBytes
	ValueTime
	ValueDate
	ValueUUID
	ValueByte
	ValueChar
)

var valueTypeNames = [...]string{
	ValueString:  "string",
	ValueInt64:   "int64",
	ValueFloat64: "float64",
	ValueBool:    "bool",
	ValueBytes:   "bytes",
	ValueTime:    "time",
	ValueDate:    "date",
	ValueUUID:    "uuid",
	ValueByte:    "byte",
	ValueChar:    "char",
}

func (t ValueType) String() string {
	if int(t) >= 0 && int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return "unknown"
}
