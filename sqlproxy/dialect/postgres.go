package dialect

import (
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

// postgresTags is positional over SQLType, see sqliteTags.
var postgresTags [numSQLTypes]types.TypeTag = [...]types.TypeTag{
	pgtype.Int2OID,        // SmallInt
	pgtype.Int4OID,        // Integer
	pgtype.Int8OID,        // BigInt
	pgtype.Float4OID,      // Float
	pgtype.Float8OID,      // Double
	pgtype.BoolOID,        // Bool
	pgtype.TextOID,        // Text
	pgtype.ByteaOID,       // Binary
	pgtype.TimestampOID,   // Timestamp
	pgtype.TimestamptzOID, // Timestamptz
	pgtype.JSONOID,        // JSON
	pgtype.JSONBOID,       // JSONB
}

type postgres struct{}

// Postgres is the client/server engine. Type tags are type OIDs.
var Postgres Dialect = postgres{}

func (postgres) Name() string { return "postgres" }

func (postgres) Capabilities() Capabilities {
	return Capabilities{Returning: true, OnConflict: true, MultiRowInsert: true, DefaultKeyword: true}
}

// TypeTag maps t to its OID. Values outside the declared SQLTypes get the text
// OID.
func (postgres) TypeTag(t SQLType) types.TypeTag {
	if t < 0 || t >= numSQLTypes {
		return pgtype.TextOID
	}
	return postgresTags[t]
}

func (postgres) Storage(tag types.TypeTag) types.Storage {
	switch tag {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID, pgtype.OIDOID:
		return types.StorageInteger
	case pgtype.Float4OID, pgtype.Float8OID:
		return types.StorageReal
	case pgtype.BoolOID:
		return types.StorageBool
	case pgtype.ByteaOID:
		return types.StorageBlob
	case pgtype.TimestampOID, pgtype.TimestamptzOID:
		return types.StorageTimestamp
	case pgtype.JSONOID, pgtype.JSONBOID:
		return types.StorageJSON
	}
	return types.StorageText
}

func (postgres) QuoteIdentifier(name string) string { return quote(name, `"`) }

func (postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
