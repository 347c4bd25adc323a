// Package dialect holds the rendering and capability rules that distinguish the
// embedded SQLite engine from the Postgres client/server engine.
package dialect

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

// SQLType is an abstract column type, independent of any engine.
type SQLType int

const (
	SmallInt SQLType = iota
	Integer
	BigInt
	Float
	Double
	Bool
	Text
	Binary
	Timestamp
	Timestamptz
	JSON
	JSONB

	numSQLTypes
)

var sqlTypeNames = [numSQLTypes]string{
	"smallint", "integer", "bigint", "float", "double", "bool",
	"text", "binary", "timestamp", "timestamptz", "json", "jsonb",
}

func (t SQLType) String() string {
	if t >= 0 && t < numSQLTypes {
		return sqlTypeNames[t]
	}
	return fmt.Sprintf("SQLType(%d)", int(t))
}

// Capabilities lists the clauses an engine accepts. A query is checked against
// them once, when it is built.
type Capabilities struct {
	Returning      bool // INSERT/UPDATE/DELETE ... RETURNING
	OnConflict     bool // INSERT ... ON CONFLICT
	MultiRowInsert bool // one INSERT with several VALUES rows
	DefaultKeyword bool // DEFAULT inside a VALUES list
}

// Dialect is implemented once per supported engine.
type Dialect interface {
	// Name is the engine name, also used as the URL scheme.
	Name() string
	// Capabilities reports the clauses this engine accepts.
	Capabilities() Capabilities
	// TypeTag maps an abstract type to the tag the host uses for it.
	TypeTag(t SQLType) types.TypeTag
	// Storage resolves a tag to the byte encoding of its fields. Unknown tags
	// resolve to StorageText.
	Storage(tag types.TypeTag) types.Storage
	// QuoteIdentifier quotes name, doubling embedded quote characters.
	QuoteIdentifier(name string) string
	// Placeholder renders the n-th (1-based) bind placeholder.
	Placeholder(n int) string
}

// ForURL picks the dialect for a connection URL.
func ForURL(url string) (Dialect, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return Postgres, nil
	case strings.HasPrefix(url, "sqlite:"), strings.HasPrefix(url, "file:"),
		strings.HasSuffix(url, ".db"), strings.HasSuffix(url, ".sqlite"), strings.HasSuffix(url, ".sqlite3"):
		return SQLite, nil
	}
	return nil, fmt.Errorf("unsupported database url %q", url)
}

func quote(name string, q string) string {
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// BindValue serializes v as a bind of abstract type t for dialect d. JSON types
// are marshaled first, so a JSONB column stored as a blob still receives JSON text.
func BindValue(d Dialect, t SQLType, v any) (types.Bind, error) {
	tag := d.TypeTag(t)
	if t == JSON || t == JSONB {
		jv, err := jsonBytes(v)
		if err != nil {
			return types.Bind{}, err
		}
		v = jv
	}
	val, err := types.ToValue(d.Storage(tag), v)
	if err != nil {
		return types.Bind{}, fmt.Errorf("bind %s: %w", t, err)
	}
	return types.Bind{Tag: tag, Value: val}, nil
}

func jsonBytes(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, []byte, json.RawMessage, types.Value:
		return v, nil
	case driver.Valuer:
		return v, nil
	default:
		rv := reflect.ValueOf(x)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil, nil
		}
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal json bind: %w", err)
		}
		return b, nil
	}
}
