package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind is the variant of a wire Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

var kindNames = [...]string{"Null", "Integer", "Real", "Text", "Blob"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is one column or bind value crossing the boundary. The zero Value is Null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

func Null() Value                { return Value{} }
func Integer(i int64) Value      { return Value{kind: KindInteger, i: i} }
func Real(f float64) Value       { return Value{kind: KindReal, f: f} }
func Text(s string) Value        { return Value{kind: KindText, s: s} }
func Blob(b []byte) Value        { return Value{kind: KindBlob, b: b} }
func (v Value) Kind() Kind       { return v.kind }
func (v Value) IsNull() bool     { return v.kind == KindNull }
func (v Value) Int64() int64     { return v.i }
func (v Value) Float64() float64 { return v.f }
func (v Value) Str() string      { return v.s }
func (v Value) Bytes() []byte    { return v.b }

// Any returns the value as the matching Go type: nil, int64, float64, string or []byte.
func (v Value) Any() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindReal:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		return v.b
	}
	return nil
}

// Equal reports whether both values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i == o.i
	case KindReal:
		return v.f == o.f
	case KindText:
		return v.s == o.s
	case KindBlob:
		return bytes.Equal(v.b, o.b)
	}
	return true
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "Null"
	}
	return fmt.Sprintf("%s(%v)", v.kind, v.Any())
}

// MarshalJSON encodes the value as an externally tagged variant:
// "Null", {"Integer":1}, {"Real":1.5}, {"Text":"a"}, {"Blob":"<base64>"}.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindNull {
		return []byte(`"Null"`), nil
	}
	if v.kind > KindBlob {
		return nil, fmt.Errorf("invalid value kind %d", v.kind)
	}
	return json.Marshal(map[string]any{v.kind.String(): v.Any()})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		if name != "Null" {
			return fmt.Errorf("unknown unit value variant %q", name)
		}
		*v = Null()
		return nil
	}

	var variant map[string]json.RawMessage
	if err := json.Unmarshal(data, &variant); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}
	if len(variant) != 1 {
		return fmt.Errorf("value must have exactly one variant, got %d", len(variant))
	}
	for name, raw := range variant {
		switch name {
		case "Integer":
			var i int64
			if err := json.Unmarshal(raw, &i); err != nil {
				return fmt.Errorf("failed to unmarshal Integer value: %w", err)
			}
			*v = Integer(i)
		case "Real":
			var f float64
			if err := json.Unmarshal(raw, &f); err != nil {
				return fmt.Errorf("failed to unmarshal Real value: %w", err)
			}
			*v = Real(f)
		case "Text":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("failed to unmarshal Text value: %w", err)
			}
			*v = Text(s)
		case "Blob":
			var b []byte
			if err := json.Unmarshal(raw, &b); err != nil {
				return fmt.Errorf("failed to unmarshal Blob value: %w", err)
			}
			if b == nil {
				b = []byte{}
			}
			*v = Blob(b)
		default:
			return fmt.Errorf("unknown value variant %q", name)
		}
	}
	return nil
}
