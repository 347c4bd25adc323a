package dialect

import (
	"strings"

	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

// SQLite type tags: the engine's five storage classes, plus SQLiteTimestamp.
// A timestamp travels as integer nanoseconds; the host binds it as a time so the
// engine keeps it as text with full precision.
const (
	SQLiteNull types.TypeTag = iota
	SQLiteInteger
	SQLiteReal
	SQLiteText
	SQLiteBlob
	SQLiteTimestamp
)

// sqliteTags is positional over SQLType; its array type fails to compile if a
// type is added without a mapping.
var sqliteTags [numSQLTypes]types.TypeTag = [...]types.TypeTag{
	SQLiteInteger,   // SmallInt
	SQLiteInteger,   // Integer
	SQLiteInteger,   // BigInt
	SQLiteReal,      // Float
	SQLiteReal,      // Double
	SQLiteInteger,   // Bool
	SQLiteText,      // Text
	SQLiteBlob,      // Binary
	SQLiteTimestamp, // Timestamp
	SQLiteTimestamp, // Timestamptz
	SQLiteText,      // JSON
	SQLiteBlob,      // JSONB
}

type sqlite struct{}

// SQLite is the embedded-file engine.
var SQLite Dialect = sqlite{}

func (sqlite) Name() string { return "sqlite" }

// SQLite has no DEFAULT keyword inside VALUES, so batch inserts are split into
// one statement per row.
func (sqlite) Capabilities() Capabilities {
	return Capabilities{Returning: true, OnConflict: true}
}

// TypeTag maps t to its tag. Values outside the declared SQLTypes get the
// text tag.
func (sqlite) TypeTag(t SQLType) types.TypeTag {
	if t < 0 || t >= numSQLTypes {
		return SQLiteText
	}
	return sqliteTags[t]
}

func (sqlite) Storage(tag types.TypeTag) types.Storage {
	switch tag {
	case SQLiteNull:
		return types.StorageNull
	case SQLiteInteger:
		return types.StorageInteger
	case SQLiteReal:
		return types.StorageReal
	case SQLiteBlob:
		return types.StorageBlob
	case SQLiteTimestamp:
		return types.StorageTimestamp
	}
	return types.StorageText
}

func (sqlite) QuoteIdentifier(name string) string { return quote(name, "`") }

func (sqlite) Placeholder(int) string { return "?" }

// SQLiteAffinity maps a declared column type to a tag using SQLite's column
// affinity rules. An empty declaration has no affinity and yields SQLiteNull.
func SQLiteAffinity(decl string) types.TypeTag {
	d := strings.ToUpper(decl)
	switch {
	case d == "":
		return SQLiteNull
	case d == "DATE", strings.Contains(d, "TIMESTAMP"), strings.Contains(d, "DATETIME"):
		return SQLiteTimestamp
	case strings.Contains(d, "INT"), d == "BOOLEAN", d == "BOOL":
		return SQLiteInteger
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"), strings.Contains(d, "JSON"):
		return SQLiteText
	case strings.Contains(d, "BLOB"):
		return SQLiteBlob
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"):
		return SQLiteReal
	}
	return SQLiteNull
}
