package migrate

import (
	"errors"
	"fmt"
)

// Run failures. Every error returned by Migrate matches exactly one of these
// with errors.Is.
var (
	ErrCanNotCreateMigrationTable             = errors.New("can not create migration table")
	ErrCanNotFindLatestAppliedMigrationNumber = errors.New("can not find latest applied migration number")
	ErrInvalidMigration                       = errors.New("invalid migration")
	ErrFailedToApplyMigration                 = errors.New("failed to apply migration")
	ErrFailedToRecordMigration                = errors.New("failed to record migration")
)

// Error is returned by Migrate. Op is one of the Err* sentinels above and Err is
// the underlying cause, for example a *driver.DbError.
type Error struct {
	Op     error
	App    string
	Number int32
	Name   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Name != "":
		return fmt.Sprintf("%s: %s migration %d (%s): %v", e.Op, e.App, e.Number, e.Name, e.Err)
	case e.App != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.App, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error { return []error{e.Op, e.Err} }

// Reason classifies an invalid migration found during discovery.
type Reason int

const (
	Duplicate Reason = iota
	NonUtf8Name
	NonUtf8Content
	NonIntegerId
)

func (r Reason) String() string {
	switch r {
	case Duplicate:
		return "duplicate migration number"
	case NonUtf8Name:
		return "file name is not valid UTF-8"
	case NonUtf8Content:
		return "file content is not valid UTF-8"
	case NonIntegerId:
		return "file name does not start with an integer"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// InvalidMigrationError describes one problem found while collecting migrations.
// Discovery reports all of them at once, aggregated under ErrInvalidMigration.
type InvalidMigrationError struct {
	Reason Reason
	Source string
	Number int32
	Err    error
}

func (e *InvalidMigrationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Source, e.Reason)
	if e.Reason == Duplicate {
		msg = fmt.Sprintf("%s %d", msg, e.Number)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidMigrationError) Unwrap() error { return e.Err }
