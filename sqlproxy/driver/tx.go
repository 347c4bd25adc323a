package driver

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// transactionManager issues ANSI transaction statements over BatchExecute. The
// outermost level is BEGIN/COMMIT/ROLLBACK, nested levels are savepoints.
type transactionManager struct {
	depth int
}

func savepoint(depth int) string { return fmt.Sprintf("guestdb_savepoint_%d", depth) }

func (tm *transactionManager) begin(c *Conn) error {
	sql := "BEGIN"
	if tm.depth > 0 {
		sql = "SAVEPOINT " + savepoint(tm.depth)
	}
	if err := c.BatchExecute(sql); err != nil {
		return err
	}
	tm.depth++
	return nil
}

func (tm *transactionManager) commit(c *Conn) error {
	switch tm.depth {
	case 0:
		return errors.New("commit: no transaction is open")
	case 1:
		if err := c.BatchExecute("COMMIT"); err != nil {
			// a failed COMMIT may leave the transaction open on some engines
			if rbErr := c.BatchExecute("ROLLBACK"); rbErr != nil {
				c.log.Logf("[DEBUG] rollback after failed commit on handle %d: %v", c.handle, rbErr)
			}
			tm.depth = 0
			return err
		}
	default:
		if err := c.BatchExecute("RELEASE SAVEPOINT " + savepoint(tm.depth-1)); err != nil {
			return err
		}
	}
	tm.depth--
	return nil
}

func (tm *transactionManager) rollback(c *Conn) error {
	switch tm.depth {
	case 0:
		return errors.New("rollback: no transaction is open")
	case 1:
		tm.depth = 0
		return c.BatchExecute("ROLLBACK")
	}
	sp := savepoint(tm.depth - 1)
	tm.depth--
	return c.BatchExecute("ROLLBACK TO SAVEPOINT " + sp)
}

// Begin opens a transaction, or a savepoint when one is already open.
func (c *Conn) Begin() error { return c.tm.begin(c) }

// Commit commits the innermost open transaction level.
func (c *Conn) Commit() error { return c.tm.commit(c) }

// Rollback rolls back the innermost open transaction level.
func (c *Conn) Rollback() error { return c.tm.rollback(c) }

// TransactionDepth is the number of open transaction levels.
func (c *Conn) TransactionDepth() int { return c.tm.depth }

// Transaction runs fn inside a transaction level, committing when fn returns nil
// and rolling back otherwise. Nested calls use savepoints. A panic in fn rolls
// back before propagating.
func (c *Conn) Transaction(fn func(c *Conn) error) (err error) {
	if err := c.tm.begin(c); err != nil {
		return err
	}
	depth := c.tm.depth

	defer func() {
		if p := recover(); p != nil {
			if c.tm.depth == depth {
				_ = c.tm.rollback(c)
			}
			panic(p)
		}
	}()

	if err := fn(c); err != nil {
		if c.tm.depth != depth {
			return err
		}
		if rbErr := c.tm.rollback(c); rbErr != nil {
			return multierror.Append(err, rbErr)
		}
		return err
	}
	if c.tm.depth != depth {
		return fmt.Errorf("transaction: depth changed from %d to %d inside the transaction", depth, c.tm.depth)
	}
	return c.tm.commit(c)
}
