package dialect

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/lattice/model"
)

// GridType converts values of one ValueType to and from the representation
// a dialect stores.
type GridType interface {
	Name() string
	ValueType() model.ValueType
	ToGrid(v any) (any, error)
	FromGrid(v any) (any, error)
}

type gridType struct {
	name     string
	vt       model.ValueType
	toGrid   func(any) (any, error)
	fromGrid func(any) (any, error)
}

func (g gridType) Name() string               { return g.name }
func (g gridType) ValueType() model.ValueType { return g.vt }
func (g gridType) ToGrid(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return g.toGrid(v)
}
func (g gridType) FromGrid(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return g.fromGrid(v)
}

func unexpected(name string, v any) error {
	return fmt.Errorf("%s: unexpected value %T", name, v)
}

// ISO8601Time stores time.Time as an RFC 3339 string with nanoseconds.
var ISO8601Time GridType = gridType{
	name: "iso8601_time",
	vt:   model.ValueTime,
	toGrid: func(v any) (any, error) {
		t, ok := v.(time.Time)
		if !ok {
			return nil, unexpected("iso8601_time", v)
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	},
	fromGrid: func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, unexpected("iso8601_time", v)
		}
		return time.Parse(time.RFC3339Nano, s)
	},
}

// ISO8601Date stores a date as YYYY-MM-DD.
var ISO8601Date GridType = gridType{
	name: "iso8601_date",
	vt:   model.ValueDate,
	toGrid: func(v any) (any, error) {
		t, ok := v.(time.Time)
		if !ok {
			return nil, unexpected("iso8601_date", v)
		}
		return t.Format(time.DateOnly), nil
	},
	fromGrid: func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, unexpected("iso8601_date", v)
		}
		return time.Parse(time.DateOnly, s)
	},
}

// Int64AsString stores int64 as a decimal string, for stores whose
// numbers lose precision beyond 2^53.
var Int64AsString GridType = gridType{
	name: "int64_string",
	vt:   model.ValueInt64,
	toGrid: func(v any) (any, error) {
		n, ok := v.(int64)
		if !ok {
			return nil, unexpected("int64_string", v)
		}
		return strconv.FormatInt(n, 10), nil
	},
	fromGrid: func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, unexpected("int64_string", v)
		}
		return strconv.ParseInt(s, 10, 64)
	},
}

// Base64Bytes stores []byte as standard base64.
var Base64Bytes GridType = gridType{
	name: "base64_bytes",
	vt:   model.ValueBytes,
	toGrid: func(v any) (any, error) {
		b, ok := v.([]byte)
		if !ok {
			return nil, unexpected("base64_bytes", v)
		}
		return base64.StdEncoding.EncodeToString(b), nil
	},
	fromGrid: func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, unexpected("base64_bytes", v)
		}
		return base64.StdEncoding.DecodeString(s)
	},
}

// UUIDAsString stores uuid.UUID in its canonical string form.
var UUIDAsString GridType = gridType{
	name: "uuid_string",
	vt:   model.ValueUUID,
	toGrid: func(v any) (any, error) {
		u, ok := v.(uuid.UUID)
		if !ok {
			return nil, unexpected("uuid_string", v)
		}
		return u.String(), nil
	},
	fromGrid: func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, unexpected("uuid_string", v)
		}
		return uuid.Parse(s)
	},
}

// CharAsString stores a rune as a one-character string.
var CharAsString GridType = gridType{
	name: "char_string",
	vt:   model.ValueChar,
	toGrid: func(v any) (any, error) {
		r, ok := v.(rune)
		if !ok {
			return nil, unexpected("char_string", v)
		}
		return string(r), nil
	},
	fromGrid: func(v any) (any, error) {
		s, ok := v.(string)
		if !ok || len([]rune(s)) != 1 {
			return nil, unexpected("char_string", v)
		}
		return []rune(s)[0], nil
	},
}

// ByteAsInt stores a byte as a number.
var ByteAsInt GridType = gridType{
	name: "byte_int",
	vt:   model.ValueByte,
	toGrid: func(v any) (any, error) {
		b, ok := v.(byte)
		if !ok {
			return nil, unexpected("byte_int", v)
		}
		return int64(b), nil
	},
	fromGrid: func(v any) (any, error) {
		switch n := v.(type) {
		case int64:
			return byte(n), nil
		case float64:
			return byte(n), nil
		}
		return nil, unexpected("byte_int", v)
	},
}
