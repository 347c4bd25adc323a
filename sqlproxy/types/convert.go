package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
	"unicode/utf8"
)

// ToValue serializes a Go value into the wire Value expected for storage s.
// A nil value, a nil pointer, or a driver.Valuer reporting nil becomes Null
// regardless of s.
func ToValue(s Storage, v any) (Value, error) {
	if v == nil {
		return Null(), nil
	}
	switch x := v.(type) {
	case Value:
		return x, nil
	case driver.Valuer:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return Null(), nil
		}
		dv, err := x.Value()
		if err != nil {
			return Value{}, fmt.Errorf("valuer failed: %w", err)
		}
		return ToValue(s, dv)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return Null(), nil
		}
		return ToValue(s, rv.Elem().Interface())
	}

	switch s {
	case StorageInteger, StorageTimestamp:
		if t, ok := v.(time.Time); ok {
			if t.Before(minNanoTime) || t.After(maxNanoTime) {
				return Value{}, fmt.Errorf("%s as nanoseconds is too large to fit in an int64", t)
			}
			return Integer(t.UnixNano()), nil
		}
		return toInteger(rv)
	case StorageBool:
		if rv.Kind() == reflect.Bool {
			if rv.Bool() {
				return Integer(1), nil
			}
			return Integer(0), nil
		}
		return toInteger(rv)
	case StorageReal:
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64:
			return Real(rv.Float()), nil
		}
		i, err := toInteger(rv)
		if err != nil {
			return Value{}, err
		}
		return Real(float64(i.i)), nil
	case StorageText:
		switch rv.Kind() {
		case reflect.String:
			return Text(rv.String()), nil
		case reflect.Slice:
			if rv.Type().Elem().Kind() == reflect.Uint8 {
				if !utf8.Valid(rv.Bytes()) {
					return Value{}, fmt.Errorf("text value is not valid utf-8")
				}
				return Text(string(rv.Bytes())), nil
			}
		}
	case StorageJSON:
		switch x := v.(type) {
		case json.RawMessage:
			return Text(string(x)), nil
		case string:
			return Text(x), nil
		case []byte:
			return Text(string(x)), nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return Value{}, fmt.Errorf("failed to marshal json value: %w", err)
		}
		return Text(string(b)), nil
	case StorageBlob:
		switch rv.Kind() {
		case reflect.String:
			return Blob([]byte(rv.String())), nil
		case reflect.Slice:
			if rv.Type().Elem().Kind() == reflect.Uint8 {
				return Blob(rv.Bytes()), nil
			}
		}
	case StorageNull:
		return Null(), nil
	}
	return Value{}, fmt.Errorf("cannot convert %T to %s", v, s)
}

var (
	minNanoTime = time.Unix(0, math.MinInt64)
	maxNanoTime = time.Unix(0, math.MaxInt64)
)

func toInteger(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Integer(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Value{}, fmt.Errorf("unsigned value %d overflows int64", u)
		}
		return Integer(int64(u)), nil
	case reflect.Bool:
		if rv.Bool() {
			return Integer(1), nil
		}
		return Integer(0), nil
	}
	return Value{}, fmt.Errorf("cannot convert %s to integer", rv.Type())
}
