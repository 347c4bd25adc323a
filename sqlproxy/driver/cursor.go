package driver

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tomyedwab/guestdb/sqlproxy/dialect"
	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

// Cursor is a materialized result set, iterated once in the order the host
// returned the rows.
type Cursor struct {
	d       dialect.Dialect
	columns []types.Column
	rows    []types.HostRow
	pos     int
}

func newCursor(d dialect.Dialect, c types.Cursor) *Cursor {
	return &Cursor{d: d, columns: c.Columns, rows: c.Rows, pos: -1}
}

func (c *Cursor) Columns() []types.Column { return c.columns }

// Len is the number of rows, consumed or not.
func (c *Cursor) Len() int { return len(c.rows) }

// Next advances to the next row and reports whether there is one.
func (c *Cursor) Next() bool {
	if c.pos+1 >= len(c.rows) {
		c.pos = len(c.rows)
		return false
	}
	c.pos++
	return true
}

// Row is the row Next advanced to.
func (c *Cursor) Row() Row {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return Row{c: c}
	}
	return Row{c: c, fields: c.rows[c.pos].Fields}
}

// Row is a view of one cursor row.
type Row struct {
	c      *Cursor
	fields [][]byte
}

func (r Row) FieldCount() int { return len(r.fields) }

// Get returns the field at index, or false when index is out of range.
func (r Row) Get(index int) (Field, bool) {
	if index < 0 || index >= len(r.fields) {
		return Field{}, false
	}
	var col types.Column
	if index < len(r.c.columns) {
		col = r.c.columns[index]
	}
	return Field{col: col, raw: r.fields[index], storage: r.c.d.Storage(col.Tag)}, true
}

// GetByName returns the first field whose column has the given name.
func (r Row) GetByName(name string) (Field, bool) {
	for i, col := range r.c.columns {
		if col.Name == name {
			return r.Get(i)
		}
	}
	return Field{}, false
}

// Scan copies the row's fields into dest by position. Supported targets are
// pointers to int64, int, int32, float64, string, []byte, bool, time.Time,
// types.Value and any, plus sql.Scanner implementations.
func (r Row) Scan(dest ...any) error {
	if len(dest) != len(r.fields) {
		return fmt.Errorf("scan: expected %d destinations, got %d", len(r.fields), len(dest))
	}
	for i, d := range dest {
		f, _ := r.Get(i)
		if err := f.scan(d); err != nil {
			return fmt.Errorf("scan column %d (%s): %w", i, f.Name(), err)
		}
	}
	return nil
}

// Field is one value of a row together with its column descriptor. A nil raw
// slice is SQL NULL.
type Field struct {
	col     types.Column
	raw     []byte
	storage types.Storage
}

func (f Field) Name() string { return f.col.Name }

// Tag is the column's type tag; a type OID on Postgres.
func (f Field) Tag() types.TypeTag { return f.col.Tag }

func (f Field) Raw() []byte  { return f.raw }
func (f Field) IsNull() bool { return f.raw == nil }

// Value decodes the field into a wire value.
func (f Field) Value() (types.Value, error) {
	return types.DecodeField(f.storage, f.raw)
}

func (f Field) nonNull() (types.Value, error) {
	v, err := f.Value()
	if err != nil {
		return v, err
	}
	if v.IsNull() {
		return v, fmt.Errorf("column %q is null", f.col.Name)
	}
	return v, nil
}

func (f Field) Int64() (int64, error) {
	v, err := f.nonNull()
	if err != nil {
		return 0, err
	}
	if v.Kind() != types.KindInteger {
		return 0, fmt.Errorf("column %q holds %s, not integer", f.col.Name, v.Kind())
	}
	return v.Int64(), nil
}

func (f Field) Float64() (float64, error) {
	v, err := f.nonNull()
	if err != nil {
		return 0, err
	}
	switch v.Kind() {
	case types.KindReal:
		return v.Float64(), nil
	case types.KindInteger:
		return float64(v.Int64()), nil
	}
	return 0, fmt.Errorf("column %q holds %s, not real", f.col.Name, v.Kind())
}

func (f Field) Text() (string, error) {
	v, err := f.nonNull()
	if err != nil {
		return "", err
	}
	switch v.Kind() {
	case types.KindText:
		return v.Str(), nil
	case types.KindBlob:
		return string(v.Bytes()), nil
	}
	return "", fmt.Errorf("column %q holds %s, not text", f.col.Name, v.Kind())
}

func (f Field) Bytes() ([]byte, error) {
	if f.raw == nil {
		return nil, fmt.Errorf("column %q is null", f.col.Name)
	}
	return f.raw, nil
}

func (f Field) Bool() (bool, error) {
	i, err := f.Int64()
	if err != nil {
		return false, err
	}
	return i != 0, nil
}

// timeLayouts are the text forms a timestamp takes when an engine keeps it as
// text in a column without a timestamp declaration.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Time decodes a timestamp: nanoseconds since the epoch, or text in one of
// timeLayouts.
func (f Field) Time() (time.Time, error) {
	v, err := f.nonNull()
	if err != nil {
		return time.Time{}, err
	}
	switch v.Kind() {
	case types.KindInteger:
		return time.Unix(0, v.Int64()).UTC(), nil
	case types.KindText:
		s := strings.TrimSuffix(v.Str(), "Z")
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("column %q: %q is not a timestamp", f.col.Name, v.Str())
	}
	return time.Time{}, fmt.Errorf("column %q holds %s, not a timestamp", f.col.Name, v.Kind())
}

// JSON unmarshals a json or jsonb column into v.
func (f Field) JSON(v any) error {
	if f.raw == nil {
		return fmt.Errorf("column %q is null", f.col.Name)
	}
	if err := json.Unmarshal(f.raw, v); err != nil {
		return fmt.Errorf("column %q: %w", f.col.Name, err)
	}
	return nil
}

// driverValue is the field as one of the database/sql driver.Value types.
func (f Field) driverValue() (any, error) {
	v, err := f.Value()
	if err != nil {
		return nil, err
	}
	switch {
	case v.IsNull():
		return nil, nil
	case f.storage == types.StorageBool:
		return v.Int64() != 0, nil
	case f.storage == types.StorageTimestamp:
		return time.Unix(0, v.Int64()).UTC(), nil
	}
	return v.Any(), nil
}

func (f Field) scan(dest any) error {
	switch d := dest.(type) {
	case *types.Value:
		v, err := f.Value()
		*d = v
		return err
	case *any:
		v, err := f.driverValue()
		*d = v
		return err
	case sql.Scanner:
		v, err := f.driverValue()
		if err != nil {
			return err
		}
		return d.Scan(v)
	case *int64:
		i, err := f.Int64()
		*d = i
		return err
	case *int:
		i, err := f.Int64()
		*d = int(i)
		return err
	case *int32:
		i, err := f.Int64()
		if err != nil {
			return err
		}
		if i < math.MinInt32 || i > math.MaxInt32 {
			return fmt.Errorf("column %q: value %d overflows int32", f.col.Name, i)
		}
		*d = int32(i)
		return nil
	case *float64:
		x, err := f.Float64()
		*d = x
		return err
	case *string:
		s, err := f.Text()
		*d = s
		return err
	case *[]byte:
		if f.raw == nil {
			*d = nil
			return nil
		}
		*d = append([]byte(nil), f.raw...)
		return nil
	case *bool:
		b, err := f.Bool()
		*d = b
		return err
	case *time.Time:
		t, err := f.Time()
		*d = t
		return err
	}
	return fmt.Errorf("unsupported scan destination %T", dest)
}
