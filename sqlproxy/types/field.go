package types

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Storage is the physical encoding class a TypeTag resolves to. It decides how
// a field's bytes are laid out in a Cursor.
type Storage uint8

const (
	StorageNull Storage = iota
	StorageInteger
	StorageReal
	StorageText
	StorageBlob
	StorageBool
	StorageTimestamp
	StorageJSON
)

var storageNames = [...]string{"null", "integer", "real", "text", "blob", "bool", "timestamp", "json"}

func (s Storage) String() string {
	if int(s) < len(storageNames) {
		return storageNames[s]
	}
	return fmt.Sprintf("Storage(%d)", s)
}

// EncodeField lays v out as field bytes for storage s. Integers, timestamps and
// reals are 8 bytes big-endian, bools a single byte, text and blobs verbatim.
// A Null value encodes to nil.
func EncodeField(s Storage, v Value) ([]byte, error) {
	if v.IsNull() {
		return nil, nil
	}
	switch s {
	case StorageInteger, StorageTimestamp:
		if v.kind != KindInteger {
			return nil, fmt.Errorf("cannot encode %s as %s", v.kind, s)
		}
		return binary.BigEndian.AppendUint64(nil, uint64(v.i)), nil
	case StorageReal:
		f := v.f
		switch v.kind {
		case KindReal:
		case KindInteger:
			f = float64(v.i)
		default:
			return nil, fmt.Errorf("cannot encode %s as %s", v.kind, s)
		}
		return binary.BigEndian.AppendUint64(nil, math.Float64bits(f)), nil
	case StorageBool:
		if v.kind != KindInteger {
			return nil, fmt.Errorf("cannot encode %s as %s", v.kind, s)
		}
		if v.i != 0 {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case StorageText, StorageJSON:
		if v.kind != KindText {
			return nil, fmt.Errorf("cannot encode %s as %s", v.kind, s)
		}
		return []byte(v.s), nil
	case StorageBlob:
		switch v.kind {
		case KindBlob:
			if v.b == nil {
				return []byte{}, nil
			}
			return v.b, nil
		case KindText:
			return []byte(v.s), nil
		}
		return nil, fmt.Errorf("cannot encode %s as %s", v.kind, s)
	}
	return nil, fmt.Errorf("cannot encode %s as %s", v.kind, s)
}

// DecodeField is the inverse of EncodeField.
func DecodeField(s Storage, raw []byte) (Value, error) {
	if raw == nil {
		return Null(), nil
	}
	switch s {
	case StorageInteger, StorageTimestamp:
		if len(raw) != 8 {
			return Value{}, fmt.Errorf("%s field must be 8 bytes, got %d", s, len(raw))
		}
		return Integer(int64(binary.BigEndian.Uint64(raw))), nil
	case StorageReal:
		if len(raw) != 8 {
			return Value{}, fmt.Errorf("%s field must be 8 bytes, got %d", s, len(raw))
		}
		return Real(math.Float64frombits(binary.BigEndian.Uint64(raw))), nil
	case StorageBool:
		if len(raw) != 1 {
			return Value{}, fmt.Errorf("%s field must be 1 byte, got %d", s, len(raw))
		}
		if raw[0] != 0 {
			return Integer(1), nil
		}
		return Integer(0), nil
	case StorageText, StorageJSON:
		if !utf8.Valid(raw) {
			return Value{}, fmt.Errorf("%s field is not valid utf-8", s)
		}
		return Text(string(raw)), nil
	case StorageBlob:
		return Blob(raw), nil
	}
	return Value{}, fmt.Errorf("cannot decode %d bytes as %s", len(raw), s)
}
