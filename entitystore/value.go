// Package entitystore implements entity CRUD, bulk upsert, and type-indexed
// listing over the property graph.
package entitystore

import (
	"encoding/json"
	"time"
)

// Kind tags which arm of the Value sum type is populated.
type Kind int

const (
	KindScalar Kind = iota
	KindTimestamp
	KindBlob
	KindNested
)

// Value is a tagged union covering every property shape an Entity or
// Relationship can carry: a scalar (string|int64|float64|bool), a UTC
// timestamp, an opaque blob, or a nested JSON document. It marshals to a
// plain JSON value at the graphstore boundary and is kept as this native
// Go type inside every other component, per Design Note §9's tagged sum
// type for dynamic property objects.
type Value struct {
	Kind      Kind
	Scalar    interface{} // string | int64 | float64 | bool
	Timestamp time.Time
	Blob      []byte
	Nested    json.RawMessage
}

// String builds a scalar string Value.
func String(v string) Value { return Value{Kind: KindScalar, Scalar: v} }

// Int builds a scalar int64 Value.
func Int(v int64) Value { return Value{Kind: KindScalar, Scalar: v} }

// Float builds a scalar float64 Value.
func Float(v float64) Value { return Value{Kind: KindScalar, Scalar: v} }

// Bool builds a scalar bool Value.
func Bool(v bool) Value { return Value{Kind: KindScalar, Scalar: v} }

// Time builds a Timestamp Value, normalized to UTC.
func Time(v time.Time) Value { return Value{Kind: KindTimestamp, Timestamp: v.UTC()} }

// NestedJSON builds a Nested Value from an already-marshalled document.
func NestedJSON(raw json.RawMessage) Value { return Value{Kind: KindNested, Nested: raw} }

// Marshal converts a Value to the representation stored at the graphstore
// boundary: scalars and timestamps pass through as native driver-friendly
// types, blobs/nested values serialize to a JSON string.
func (v Value) Marshal() (interface{}, error) {
	switch v.Kind {
	case KindScalar:
		return v.Scalar, nil
	case KindTimestamp:
		return v.Timestamp.UTC().Format(time.RFC3339Nano), nil
	case KindBlob:
		return string(v.Blob), nil
	case KindNested:
		return string(v.Nested), nil
	default:
		return nil, nil
	}
}

// Interface returns the Value's underlying Go value, for callers that just
// want to read it back out.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindScalar:
		return v.Scalar
	case KindTimestamp:
		return v.Timestamp
	case KindBlob:
		return v.Blob
	case KindNested:
		return v.Nested
	default:
		return nil
	}
}
