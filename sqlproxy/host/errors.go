package host

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

var sqliteCodes = map[sqlite3.ErrNoExtended]string{
	sqlite3.ErrConstraintUnique:     types.CodeUniqueViolation,
	sqlite3.ErrConstraintPrimaryKey: types.CodeUniqueViolation,
	sqlite3.ErrConstraintRowID:      types.CodeUniqueViolation,
	sqlite3.ErrConstraintForeignKey: types.CodeForeignKeyViolation,
	sqlite3.ErrConstraintNotNull:    types.CodeNotNullViolation,
	sqlite3.ErrConstraintCheck:      types.CodeCheckViolation,
}

// mapError converts an engine error into the wire error, classifying it by
// SQLSTATE. SQLite errors are given the SQLSTATE Postgres would report.
func mapError(err error) *types.DbError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &types.DbError{
			Code:              pgErr.Code,
			Message:           pgErr.Message,
			Details:           pgErr.Detail,
			Hint:              pgErr.Hint,
			TableName:         pgErr.TableName,
			ColumnName:        pgErr.ColumnName,
			ConstraintName:    pgErr.ConstraintName,
			StatementPosition: pgErr.Position,
		}
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		res := &types.DbError{Message: sqliteErr.Error()}
		if code, ok := sqliteCodes[sqliteErr.ExtendedCode]; ok {
			res.Code = code
			if code == types.CodeCheckViolation {
				_, res.ConstraintName, _ = strings.Cut(sqliteErr.Error(), "constraint failed: ")
			} else {
				res.TableName, res.ColumnName = constraintTarget(sqliteErr.Error())
			}
			return res
		}
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			res.Code = types.CodeSerializationFailure
		case sqlite3.ErrReadonly:
			res.Code = types.CodeReadOnlyTransaction
		}
		return res
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return &types.DbError{Code: types.CodeConnectionDoesNotExist, Message: err.Error()}
	}
	return &types.DbError{Message: err.Error()}
}

// constraintTarget extracts table and column from SQLite constraint messages of
// the form "UNIQUE constraint failed: table.column". Multi-column constraints
// report only the table.
func constraintTarget(msg string) (table, column string) {
	_, target, ok := strings.Cut(msg, "constraint failed: ")
	if !ok {
		return "", ""
	}
	first, _, multi := strings.Cut(target, ", ")
	table, column, _ = strings.Cut(first, ".")
	if multi {
		column = ""
	}
	return table, column
}
