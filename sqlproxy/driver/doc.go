// Package driver is the guest side of the database proxy. Code running inside a
// WebAssembly module cannot open sockets or files, so every database operation
// is serialized and handed to the host through a Transport.
//
// A Conn owns one host handle:
//
//	conn, err := driver.Establish("sqlite://app.db", transport, driver.Options{})
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	n, err := conn.ExecuteReturningCount(
//		query.InsertInto("todo_item", "title").Values(query.Val(dialect.Text, "milk")),
//	)
//
// Statements are built with package query and rendered for the dialect the
// connection URL selects. Results come back as a fully materialized Cursor.
//
// Communication Protocol:
//
// Queries travel as JSON-encoded types.Query values. The host answers with a
// JSON envelope (types.QueryResponse, types.ExecResponse, types.ConnectResponse
// or types.GeneralResponse) holding either the result or a types.DbError, which
// is surfaced as a *DbError classified by SQLSTATE.
//
// Transactions:
//
// Conn.Transaction issues BEGIN/COMMIT/ROLLBACK as ordinary batch statements.
// Nested calls use savepoints.
//
// database/sql:
//
// OpenDB wraps a Conn as a single-connection *sqlx.DB for code written against
// database/sql. Positional arguments are sent as binds; LastInsertId is not
// available and RETURNING should be used instead.
//
// Limitations:
//
//   - The driver relies entirely on the host for execution, pooling and
//     transaction integrity.
//   - There is no cancellation: a call blocks until the host answers.
//   - A Conn is not safe for concurrent use.
package driver
