package types

// --- JSON structures for host communication ---

// TypeTag describes a bind or column type to the host. Its meaning depends on the
// dialect: a small storage enum for SQLite, a type OID for Postgres.
type TypeTag uint32

// Handle is the host-issued token identifying one pinned database connection.
type Handle int32

// Bind is one bound parameter, in placeholder order.
type Bind struct {
	Tag   TypeTag `json:"tag"`
	Value Value   `json:"value"`
}

// Query is the unit sent over the boundary for query and execute calls.
type Query struct {
	SQL   string `json:"sql"`
	Binds []Bind `json:"binds"`
}

// Column describes one result column.
type Column struct {
	Name string  `json:"name"`
	Tag  TypeTag `json:"type_tag"`
}

// HostRow carries the encoded fields of one row. A nil field is SQL NULL.
type HostRow struct {
	Fields [][]byte `json:"fields"`
}

// Cursor is a fully materialized result set.
type Cursor struct {
	Columns []Column  `json:"columns"`
	Rows    []HostRow `json:"rows"`
}

// SQLSTATE codes the host reports and the guest classifies.
const (
	CodeUniqueViolation        = "23505"
	CodeForeignKeyViolation    = "23503"
	CodeNotNullViolation       = "23502"
	CodeCheckViolation         = "23514"
	CodeSerializationFailure   = "40001"
	CodeReadOnlyTransaction    = "25006"
	CodeConnectionDoesNotExist = "08003"
	CodeConnectionFailure      = "08006"
)

// DbError is the serialized error. When UnableToSendCommand is set the host could
// not reach the database at all and the remaining fields are empty.
type DbError struct {
	UnableToSendCommand string `json:"unable_to_send_command,omitempty"`

	Code              string `json:"code,omitempty"`
	Message           string `json:"message,omitempty"`
	Details           string `json:"details,omitempty"`
	Hint              string `json:"hint,omitempty"`
	TableName         string `json:"table_name,omitempty"`
	ColumnName        string `json:"column_name,omitempty"`
	ConstraintName    string `json:"constraint_name,omitempty"`
	StatementPosition int32  `json:"statement_position,omitempty"`
}

func (e *DbError) Error() string {
	if e.UnableToSendCommand != "" {
		return "unable to send command: " + e.UnableToSendCommand
	}
	if e.Code != "" {
		return e.Message + " (SQLSTATE " + e.Code + ")"
	}
	return e.Message
}

// ConnectResponse is returned by the connect call.
type ConnectResponse struct {
	Handle Handle   `json:"handle"`
	Error  *DbError `json:"error,omitempty"`
}

// GeneralResponse is used for calls that return nothing but a possible error
// (batch_execute, close).
type GeneralResponse struct {
	Error *DbError `json:"error,omitempty"`
}

// QueryResponse is returned by the query call.
type QueryResponse struct {
	Cursor *Cursor  `json:"cursor,omitempty"`
	Error  *DbError `json:"error,omitempty"`
}

// ExecResponse is returned by the execute call.
type ExecResponse struct {
	RowsAffected int64    `json:"rows_affected"`
	Error        *DbError `json:"error,omitempty"`
}
