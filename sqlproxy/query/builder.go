// Package query is a small backend-agnostic query builder. Every node renders
// itself through one traversal, WalkAST, which is run twice per statement: once
// by a TextBuilder producing SQL and once by a BindCollector producing binds.
// Sharing the walk keeps placeholders and binds in the same order.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tomyedwab/guestdb/sqlproxy/dialect"
	"github.com/tomyedwab/guestdb/sqlproxy/types"
)

// ErrUnsupported is wrapped by errors returned when a statement uses a clause
// the target dialect does not accept.
var ErrUnsupported = errors.New("clause not supported by dialect")

// Pass is the receiving side of a traversal.
type Pass interface {
	PushSQL(sql string)
	PushIdentifier(name string)
	PushBind(t dialect.SQLType, v any) error
}

// Node is any piece of a query.
type Node interface {
	WalkAST(p Pass) error
}

// requirer is implemented by statements that use optional clauses.
type requirer interface {
	requires() dialect.Capabilities
}

// TextBuilder renders SQL text for one dialect.
type TextBuilder struct {
	d            dialect.Dialect
	sql          strings.Builder
	placeholders int
}

func NewTextBuilder(d dialect.Dialect) *TextBuilder { return &TextBuilder{d: d} }

func (b *TextBuilder) PushSQL(sql string)         { b.sql.WriteString(sql) }
func (b *TextBuilder) PushIdentifier(name string) { b.sql.WriteString(b.d.QuoteIdentifier(name)) }

func (b *TextBuilder) PushBind(dialect.SQLType, any) error {
	b.placeholders++
	b.sql.WriteString(b.d.Placeholder(b.placeholders))
	return nil
}

// Placeholders is the number of placeholders rendered so far.
func (b *TextBuilder) Placeholders() int { return b.placeholders }

func (b *TextBuilder) Finish() string { return b.sql.String() }

// BindCollector serializes bound values for one dialect, ignoring SQL text.
type BindCollector struct {
	d     dialect.Dialect
	binds []types.Bind
}

func NewBindCollector(d dialect.Dialect) *BindCollector { return &BindCollector{d: d} }

func (c *BindCollector) PushSQL(string)        {}
func (c *BindCollector) PushIdentifier(string) {}

func (c *BindCollector) PushBind(t dialect.SQLType, v any) error {
	bind, err := dialect.BindValue(c.d, t, v)
	if err != nil {
		return fmt.Errorf("bind %d: %w", len(c.binds)+1, err)
	}
	c.binds = append(c.binds, bind)
	return nil
}

func (c *BindCollector) Binds() []types.Bind { return c.binds }

// Build checks n against the dialect's capabilities and renders it to a wire Query.
func Build(n Node, d dialect.Dialect) (types.Query, error) {
	if err := Check(n, d); err != nil {
		return types.Query{}, err
	}

	tb := NewTextBuilder(d)
	if err := n.WalkAST(tb); err != nil {
		return types.Query{}, err
	}
	bc := NewBindCollector(d)
	if err := n.WalkAST(bc); err != nil {
		return types.Query{}, err
	}
	if tb.Placeholders() != len(bc.Binds()) {
		return types.Query{}, fmt.Errorf("query rendered %d placeholders but collected %d binds", tb.Placeholders(), len(bc.Binds()))
	}

	binds := bc.Binds()
	if binds == nil {
		binds = []types.Bind{}
	}
	return types.Query{SQL: tb.Finish(), Binds: binds}, nil
}

// Check reports the first clause n needs that d lacks.
func Check(n Node, d dialect.Dialect) error {
	r, ok := n.(requirer)
	if !ok {
		return nil
	}
	need, have := r.requires(), d.Capabilities()
	missing := ""
	switch {
	case need.Returning && !have.Returning:
		missing = "RETURNING"
	case need.OnConflict && !have.OnConflict:
		missing = "ON CONFLICT"
	case need.MultiRowInsert && !have.MultiRowInsert:
		missing = "multi-row VALUES"
	case need.DefaultKeyword && !have.DefaultKeyword:
		missing = "DEFAULT in VALUES"
	}
	if missing != "" {
		return fmt.Errorf("%s: %s: %w", d.Name(), missing, ErrUnsupported)
	}
	return nil
}

func walkList[T Node](p Pass, nodes []T, sep string) error {
	for i, n := range nodes {
		if i > 0 {
			p.PushSQL(sep)
		}
		if err := n.WalkAST(p); err != nil {
			return err
		}
	}
	return nil
}
