package driver

import (
	"errors"
	"fmt"

	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

// Kind classifies a DbError.
type Kind int

const (
	Unknown Kind = iota
	UniqueViolation
	ForeignKeyViolation
	NotNullViolation
	CheckViolation
	SerializationFailure
	ReadOnlyTransaction
	ClosedConnection
	UnableToSendCommand
)

var kindNames = [...]string{
	"unknown database error",
	"unique violation",
	"foreign key violation",
	"not null violation",
	"check violation",
	"serialization failure",
	"read only transaction",
	"closed connection",
	"unable to send command",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// DbError is a database or transport error surfaced by a Conn, with whatever
// diagnostic metadata the host supplied.
type DbError struct {
	Kind       Kind
	Code       string // SQLSTATE, when the host reported one
	Message    string
	Details    string
	Hint       string
	Table      string
	Column     string
	Constraint string
	Position   int32

	err error // transport cause for UnableToSendCommand
}

func (e *DbError) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Constraint != "" {
		msg += " (constraint " + e.Constraint + ")"
	}
	return msg
}

func (e *DbError) Unwrap() error { return e.err }

// Is matches the Kind sentinels below, so errors.Is(err, ErrUniqueViolation)
// holds for any unique violation regardless of its metadata.
func (e *DbError) Is(target error) bool {
	t, ok := target.(*DbError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Code == ""
}

var (
	ErrUnknown              = &DbError{Kind: Unknown}
	ErrUniqueViolation      = &DbError{Kind: UniqueViolation}
	ErrForeignKeyViolation  = &DbError{Kind: ForeignKeyViolation}
	ErrNotNullViolation     = &DbError{Kind: NotNullViolation}
	ErrCheckViolation       = &DbError{Kind: CheckViolation}
	ErrSerializationFailure = &DbError{Kind: SerializationFailure}
	ErrReadOnlyTransaction  = &DbError{Kind: ReadOnlyTransaction}
	ErrClosedConnection     = &DbError{Kind: ClosedConnection}
	ErrUnableToSendCommand  = &DbError{Kind: UnableToSendCommand}
)

// IsRetryable reports whether err is a serialization failure, the only error a
// caller may retry by running the transaction again.
func IsRetryable(err error) bool {
	var dbErr *DbError
	return errors.As(err, &dbErr) && dbErr.Kind == SerializationFailure
}

var kindByCode = map[string]Kind{
	types.CodeUniqueViolation:        UniqueViolation,
	types.CodeForeignKeyViolation:    ForeignKeyViolation,
	types.CodeNotNullViolation:       NotNullViolation,
	types.CodeCheckViolation:         CheckViolation,
	types.CodeSerializationFailure:   SerializationFailure,
	types.CodeReadOnlyTransaction:    ReadOnlyTransaction,
	types.CodeConnectionDoesNotExist: ClosedConnection,
	types.CodeConnectionFailure:      ClosedConnection,
}

// fromWire converts a host error envelope into a DbError.
func fromWire(w *types.DbError) *DbError {
	if w.UnableToSendCommand != "" {
		return &DbError{Kind: UnableToSendCommand, Message: w.UnableToSendCommand}
	}
	kind, ok := kindByCode[w.Code]
	if !ok {
		kind = Unknown
	}
	return &DbError{
		Kind:       kind,
		Code:       w.Code,
		Message:    w.Message,
		Details:    w.Details,
		Hint:       w.Hint,
		Table:      w.TableName,
		Column:     w.ColumnName,
		Constraint: w.ConstraintName,
		Position:   w.StatementPosition,
	}
}

func sendError(op string, err error) *DbError {
	return &DbError{Kind: UnableToSendCommand, Message: fmt.Sprintf("%s: %v", op, err), err: err}
}
