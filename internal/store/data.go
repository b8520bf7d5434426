// Package store implements the expiring key-value table shared by the
// string and JSON command handlers.
package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Data is the tagged union of value kinds a Value may hold: a string, an
// arbitrary JSON document, or a signed 64-bit integer.
type Data struct {
	kind Kind
	str  string
	json json.RawMessage
	i    int64
}

// Kind identifies which variant of Data is populated.
type Kind int

const (
	KindString Kind = iota
	KindJSON
	KindInt
)

func NewStringData(s string) Data { return Data{kind: KindString, str: s} }
func NewIntData(i int64) Data     { return Data{kind: KindInt, i: i} }

// NewJSONData wraps an already-marshaled JSON document.
func NewJSONData(raw json.RawMessage) Data { return Data{kind: KindJSON, json: raw} }

func (d Data) Kind() Kind             { return d.kind }
func (d Data) String() (string, bool) { return d.str, d.kind == KindString }
func (d Data) Int() (int64, bool)     { return d.i, d.kind == KindInt }
func (d Data) JSON() (json.RawMessage, bool) {
	return d.json, d.kind == KindJSON
}

// MarshalJSON renders Data as the internally tagged `{"string": ...}` |
// `{"json": ...}` | `{"int": ...}` wire shape.
func (d Data) MarshalJSON() ([]byte, error) {
	switch d.kind {
	case KindString:
		return json.Marshal(struct {
			String string `json:"string"`
		}{d.str})
	case KindJSON:
		raw := d.json
		if raw == nil {
			raw = json.RawMessage("null")
		}
		return json.Marshal(struct {
			JSON json.RawMessage `json:"json"`
		}{raw})
	case KindInt:
		return json.Marshal(struct {
			Int int64 `json:"int"`
		}{d.i})
	default:
		return nil, fmt.Errorf("store: unknown data kind %d", d.kind)
	}
}

// UnmarshalJSON accepts exactly one of the three tagged shapes.
func (d *Data) UnmarshalJSON(b []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(b, &tagged); err != nil {
		return fmt.Errorf("store: decode data envelope: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("store: data must have exactly one tag, got %d", len(tagged))
	}

	if raw, ok := tagged["string"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("store: decode string data: %w", err)
		}
		*d = NewStringData(s)
		return nil
	}
	if raw, ok := tagged["int"]; ok {
		var i int64
		if err := json.Unmarshal(raw, &i); err != nil {
			return fmt.Errorf("store: decode int data: %w", err)
		}
		*d = NewIntData(i)
		return nil
	}
	if raw, ok := tagged["json"]; ok {
		*d = NewJSONData(append(json.RawMessage(nil), raw...))
		return nil
	}
	return fmt.Errorf("store: unrecognized data tag")
}

// Value pairs a Data variant with an optional absolute expiry instant in
// UTC. A Value with no expiry lives until overwritten.
type Value struct {
	Data   Data
	Expiry *time.Time
}

type wireValue struct {
	Data   Data       `json:"data"`
	Expiry *time.Time `json:"expiry"`
}

// MarshalJSON renders the Value as `{"data": <Data>, "expiry": <RFC3339|null>}`.
func (v Value) MarshalJSON() ([]byte, error) {
	expiry := v.Expiry
	if expiry != nil {
		utc := expiry.UTC()
		expiry = &utc
	}
	return json.Marshal(wireValue{Data: v.Data, Expiry: expiry})
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var w wireValue
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	v.Data = w.Data
	v.Expiry = w.Expiry
	return nil
}

// Expired reports whether v's expiry, if any, is strictly before now.
func (v Value) Expired(now time.Time) bool {
	return v.Expiry != nil && now.After(*v.Expiry)
}
