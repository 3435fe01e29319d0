package document

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
)

// ValuesEqual compares two column values, treating numbers of different
// Go kinds as equal when they denote the same value. Stores often hand
// back int64 or float64 for what was written as int. Integers compare
// exactly; a float on either side compares as float64.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			return na.equal(nb)
		}
		return false
	}
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !ValuesEqual(v, w) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !ValuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// number is a column value normalized to one of three exact forms.
type number struct {
	kind int
	i    int64
	u    uint64
	f    float64
}

const (
	numInt = iota
	numUint
	numFloat
)

func (n number) equal(m number) bool {
	if n.kind == numFloat || m.kind == numFloat {
		return n.float() == m.float()
	}
	if n.kind == m.kind {
		return n.i == m.i && n.u == m.u
	}
	if n.kind == numUint {
		n, m = m, n
	}
	return n.i >= 0 && uint64(n.i) == m.u
}

func (n number) float() float64 {
	switch n.kind {
	case numInt:
		return float64(n.i)
	case numUint:
		return float64(n.u)
	}
	return n.f
}

func toNumber(v any) (number, bool) {
	switch x := v.(type) {
	case int:
		return number{kind: numInt, i: int64(x)}, true
	case int8:
		return number{kind: numInt, i: int64(x)}, true
	case int16:
		return number{kind: numInt, i: int64(x)}, true
	case int32:
		return number{kind: numInt, i: int64(x)}, true
	case int64:
		return number{kind: numInt, i: x}, true
	case uint:
		return number{kind: numUint, u: uint64(x)}, true
	case uint8:
		return number{kind: numUint, u: uint64(x)}, true
	case uint16:
		return number{kind: numUint, u: uint64(x)}, true
	case uint32:
		return number{kind: numUint, u: uint64(x)}, true
	case uint64:
		return number{kind: numUint, u: x}, true
	case float32:
		return number{kind: numFloat, f: float64(x)}, !math.IsNaN(float64(x))
	case float64:
		return number{kind: numFloat, f: x}, !math.IsNaN(x)
	case json.Number:
		if i, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			return number{kind: numInt, i: i}, true
		}
		if u, err := strconv.ParseUint(string(x), 10, 64); err == nil {
			return number{kind: numUint, u: u}, true
		}
		f, err := strconv.ParseFloat(string(x), 64)
		return number{kind: numFloat, f: f}, err == nil && !math.IsNaN(f)
	}
	return number{}, false
}
