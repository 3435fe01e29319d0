package kv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/jacentio/lattice/model"
)

// envelope is the stored form of an entity: flat columns plus the logical
// revision used for optimistic locking.
type envelope struct {
	Rev     int64          `json:"rev"`
	Columns map[string]any `json:"columns"`
}

func encodeEnvelope(e envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("kv: encode entity: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (envelope, error) {
	var e envelope
	if err := decodeJSON(data, &e); err != nil {
		return e, fmt.Errorf("kv: decode entity: %w", err)
	}
	if e.Columns == nil {
		e.Columns = make(map[string]any)
	}
	for k, v := range e.Columns {
		e.Columns[k] = normalize(v)
	}
	return e, nil
}

func encodeRows(rows any) ([]byte, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("kv: encode association: %w", err)
	}
	return data, nil
}

func decodeRows(data []byte) (any, error) {
	var rows any
	if err := decodeJSON(data, &rows); err != nil {
		return nil, fmt.Errorf("kv: decode association: %w", err)
	}
	return normalize(rows), nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// normalize turns json.Number into int64 when integral, float64 otherwise.
func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	default:
		return v
	}
}

// snapshot is a decoded entity.
type snapshot struct {
	model.MapSnapshot
	revision int64
}

func (s snapshot) Revision() int64 { return s.revision }

func newSnapshot(columns map[string]any, revision int64) snapshot {
	return snapshot{MapSnapshot: maps.Clone(columns), revision: revision}
}
