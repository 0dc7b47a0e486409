package domain

import (
	"encoding/json"
	"maps"
	"strconv"
	"time"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindString
	KindNumber
	KindTime
)

// Value is a single entry of a property bag. The zero Value is absent.
type Value struct {
	kind Kind
	str  string
	num  float64
	ts   time.Time
}

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Time returns a timestamp Value.
func Time(t time.Time) Value { return Value{kind: KindTime, ts: t} }

// OptionalString returns a string Value when ok is true and an absent one otherwise.
func OptionalString(s string, ok bool) Value {
	if !ok {
		return Value{}
	}
	return String(s)
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// Absent reports whether v carries no value.
func (v Value) Absent() bool { return v.kind == KindAbsent }

// Str returns the string payload.
func (v Value) Str() string { return v.str }

// Num returns the numeric payload.
func (v Value) Num() float64 { return v.num }

// TS returns the timestamp payload.
func (v Value) TS() time.Time { return v.ts }

// MarshalJSON encodes strings and numbers as themselves, timestamps as
// epoch milliseconds and absent values as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return []byte(strconv.FormatFloat(v.num, 'f', -1, 64)), nil
	case KindTime:
		return []byte(strconv.FormatInt(v.ts.UnixMilli(), 10)), nil
	default:
		return []byte("null"), nil
	}
}

// Properties is a property bag attached to an Action.
type Properties map[string]Value

// Compact returns a copy of p without absent values. p is not modified.
func (p Properties) Compact() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		if !v.Absent() {
			out[k] = v
		}
	}
	return out
}

// Clone returns an independent copy of p.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}
