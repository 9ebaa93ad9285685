package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotObject is returned when a payload is valid JSON but not an object
	ErrNotObject = errors.New("record is not a JSON object")
	// ErrInvalidJSON is returned when a payload cannot be parsed at all
	ErrInvalidJSON = errors.New("invalid JSON record")
)

// Field is a single name/value pair. Value holds the raw JSON encoding so that
// non-string values survive a decode/encode round trip byte for byte.
type Field struct {
	Name  string
	Value json.RawMessage
}

// Record is an ordered field map decoded from a JSON object
type Record []Field

// String builds a field holding a JSON string value. HTML characters are
// written as is.
func String(name, value string) Field {
	return Field{Name: name, Value: quote(value)}
}

func quote(s string) json.RawMessage {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
}

// Raw builds a field from an already encoded JSON value
func Raw(name string, value json.RawMessage) Field {
	return Field{Name: name, Value: value}
}

// Text returns the decoded value when the field holds a JSON string
func (f Field) Text() (string, bool) {
	if len(f.Value) == 0 || f.Value[0] != '"' {
		return "", false
	}

	var s string
	if err := json.Unmarshal(f.Value, &s); err != nil {
		return "", false
	}
	return s, true
}

// Parse decodes a JSON object keeping the order of its keys. A repeated key
// keeps its first position and takes the last value.
func Parse(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, ErrNotObject
	}

	rec := Record{}
	index := make(map[string]int)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected token %v", ErrInvalidJSON, tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidJSON, name, err)
		}
		raw = bytes.TrimSpace(raw)

		if i, seen := index[name]; seen {
			rec[i].Value = raw
			continue
		}
		index[name] = len(rec)
		rec = append(rec, Raw(name, raw))
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalidJSON)
	}

	return rec, nil
}

// Get returns the field with the given name
func (r Record) Get(name string) (Field, bool) {
	for _, f := range r {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns field names in record order
func (r Record) Names() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

// Clone returns a copy that shares no slices with r
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for i, f := range r {
		out[i] = Field{Name: f.Name, Value: append(json.RawMessage(nil), f.Value...)}
	}
	return out
}

// MarshalJSON encodes the record as a JSON object in field order
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(quote(f.Name))
		buf.WriteByte(':')
		if len(f.Value) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(f.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler using Parse
func (r *Record) UnmarshalJSON(data []byte) error {
	rec, err := Parse(data)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// Encode returns the compact JSON text of the record
func (r Record) Encode() (string, error) {
	data, err := r.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(data), nil
}
