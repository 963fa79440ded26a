package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// FieldRecord is an ordered field-name -> string mapping produced by one extraction source.
// Setting an existing key replaces its value but keeps its original position.
type FieldRecord struct {
	keys   []string
	values map[string]string
}

// NewFieldRecord builds a record from alternating key/value pairs.
func NewFieldRecord(kv ...string) FieldRecord {
	var r FieldRecord
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i], kv[i+1])
	}
	return r
}

func (r *FieldRecord) Set(key, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r FieldRecord) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the field names in insertion order.
func (r FieldRecord) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Values returns the values in key order.
func (r FieldRecord) Values() []string {
	out := make([]string, len(r.keys))
	for i, k := range r.keys {
		out[i] = r.values[k]
	}
	return out
}

func (r FieldRecord) Len() int { return len(r.keys) }

func (r FieldRecord) IsEmpty() bool { return len(r.keys) == 0 }

// MarshalJSON writes the record as a JSON object preserving key order.
func (r FieldRecord) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func (r *FieldRecord) UnmarshalJSON(data []byte) error {
	rec, err := ParseFieldRecord(data)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// String renders the record as compact JSON.
func (r FieldRecord) String() string {
	b, _ := r.MarshalJSON()
	return string(b)
}

var ErrNotObject = errors.New("json value is not an object")

// ParseFieldRecord decodes a single JSON object, keeping key order.
// Scalars are stored as their text (numbers keep their literal form), nulls are dropped,
// nested arrays/objects are stored as compact JSON.
func ParseFieldRecord(data []byte) (FieldRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return FieldRecord{}, fmt.Errorf("decode record: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return FieldRecord{}, ErrNotObject
	}

	var rec FieldRecord
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return FieldRecord{}, fmt.Errorf("decode key: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return FieldRecord{}, fmt.Errorf("decode key: unexpected token %v", kt)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return FieldRecord{}, fmt.Errorf("decode value for %q: %w", key, err)
		}
		val, keep, err := scalarText(raw)
		if err != nil {
			return FieldRecord{}, fmt.Errorf("decode value for %q: %w", key, err)
		}
		if keep {
			rec.Set(key, val)
		}
	}
	if _, err := dec.Token(); err != nil {
		return FieldRecord{}, fmt.Errorf("decode record: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return FieldRecord{}, errors.New("decode record: trailing data after object")
	}
	return rec, nil
}

func scalarText(raw json.RawMessage) (string, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", false, nil
	}
	switch trimmed[0] {
	case 'n':
		return "", false, nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	case '{', '[':
		var b bytes.Buffer
		if err := json.Compact(&b, trimmed); err != nil {
			return "", false, err
		}
		return b.String(), true, nil
	default:
		return strings.TrimSpace(string(trimmed)), true, nil
	}
}
