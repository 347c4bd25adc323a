package host

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/guestdb/sqlproxy/dialect"
	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

var pgTypes = pgtype.NewMap()

// materialize reads every row and encodes it as a Cursor. Column tags come from
// the declared column type; SQLite columns without a declared type take the
// type of their first non-null value.
func materialize(d dialect.Dialect, rows *sqlx.Rows) (*types.Cursor, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	var values [][]any
	for rows.Next() {
		row, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		values = append(values, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	cur := &types.Cursor{
		Columns: make([]types.Column, len(colTypes)),
		Rows:    make([]types.HostRow, len(values)),
	}
	for i := range cur.Rows {
		cur.Rows[i].Fields = make([][]byte, len(colTypes))
	}
	for c, ct := range colTypes {
		tag := declaredTag(d, ct.DatabaseTypeName())
		if d == dialect.SQLite && tag == dialect.SQLiteNull {
			tag = dynamicTag(values, c)
		}
		tag, err = encodeColumn(d, tag, values, c, cur.Rows)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", ct.Name(), err)
		}
		cur.Columns[c] = types.Column{Name: ct.Name(), Tag: tag}
	}
	return cur, nil
}

func declaredTag(d dialect.Dialect, decl string) types.TypeTag {
	if d == dialect.SQLite {
		return dialect.SQLiteAffinity(decl)
	}
	if t, ok := pgTypes.TypeForName(strings.ToLower(decl)); ok {
		return types.TypeTag(t.OID)
	}
	return pgtype.TextOID
}

func dynamicTag(values [][]any, c int) types.TypeTag {
	for _, row := range values {
		switch row[c].(type) {
		case nil:
			continue
		case int64, bool:
			return dialect.SQLiteInteger
		case time.Time:
			return dialect.SQLiteTimestamp
		case float64:
			return dialect.SQLiteReal
		case []byte:
			return dialect.SQLiteBlob
		default:
			return dialect.SQLiteText
		}
	}
	return dialect.SQLiteNull
}

// encodeColumn encodes column c of every row under tag. SQLite does not enforce
// declared types, so when a value does not fit the column falls back to text,
// then to blob.
func encodeColumn(d dialect.Dialect, tag types.TypeTag, values [][]any, c int, out []types.HostRow) (types.TypeTag, error) {
	candidates := []types.TypeTag{tag}
	if d == dialect.SQLite {
		candidates = append(candidates, dialect.SQLiteText, dialect.SQLiteBlob)
	}

	var lastErr error
	for _, t := range candidates {
		if lastErr = encodeAll(d.Storage(t), values, c, out); lastErr == nil {
			return t, nil
		}
	}
	return 0, lastErr
}

func encodeAll(s types.Storage, values [][]any, c int, out []types.HostRow) error {
	for r, row := range values {
		v, err := fieldValue(s, row[c])
		if err != nil {
			return err
		}
		raw, err := types.EncodeField(s, v)
		if err != nil {
			return err
		}
		out[r].Fields[c] = raw
	}
	return nil
}

func fieldValue(s types.Storage, v any) (types.Value, error) {
	if v == nil {
		return types.Null(), nil
	}
	if s == types.StorageNull {
		return types.Value{}, fmt.Errorf("non-null %T in a null column", v)
	}
	if s == types.StorageText || s == types.StorageBlob {
		if txt, ok := textOf(v); ok {
			if s == types.StorageBlob {
				return types.Blob([]byte(txt)), nil
			}
			return types.Text(txt), nil
		}
	}
	return types.ToValue(s, v)
}

// textOf renders a scalar as text the way the engine would cast it.
func textOf(v any) (string, bool) {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case bool:
		if x {
			return "1", true
		}
		return "0", true
	case time.Time:
		return x.Format(time.RFC3339Nano), true
	case string:
		return x, true
	case []byte:
		if utf8.Valid(x) {
			return string(x), true
		}
	}
	return "", false
}
