package query

import (
	"github.com/tomyedwab/guestdb/sqlproxy/dialect"
)

// Expr is a node usable as a value, column or condition.
type Expr = Node

type column []string

// Col references a column, optionally qualified: Col("t", "id") renders `t`.`id`.
func Col(parts ...string) Expr { return column(parts) }

func (c column) WalkAST(p Pass) error {
	for i, part := range c {
		if i > 0 {
			p.PushSQL(".")
		}
		p.PushIdentifier(part)
	}
	return nil
}

type bound struct {
	t dialect.SQLType
	v any
}

// Val binds v as a parameter of abstract type t.
func Val(t dialect.SQLType, v any) Expr { return bound{t: t, v: v} }

func (b bound) WalkAST(p Pass) error { return p.PushBind(b.t, b.v) }

type literal string

// Lit is trusted SQL text, rendered as is.
func Lit(sql string) Expr { return literal(sql) }

func (l literal) WalkAST(p Pass) error {
	p.PushSQL(string(l))
	return nil
}

// Star renders *.
func Star() Expr { return literal("*") }

type binary struct {
	l, r Expr
	op   string
}

func (b binary) WalkAST(p Pass) error {
	if err := b.l.WalkAST(p); err != nil {
		return err
	}
	p.PushSQL(b.op)
	return b.r.WalkAST(p)
}

func Eq(l, r Expr) Expr   { return binary{l, r, " = "} }
func Ne(l, r Expr) Expr   { return binary{l, r, " <> "} }
func Lt(l, r Expr) Expr   { return binary{l, r, " < "} }
func Le(l, r Expr) Expr   { return binary{l, r, " <= "} }
func Gt(l, r Expr) Expr   { return binary{l, r, " > "} }
func Ge(l, r Expr) Expr   { return binary{l, r, " >= "} }
func Like(l, r Expr) Expr { return binary{l, r, " LIKE "} }

type grouped struct {
	exprs []Expr
	sep   string
}

func (g grouped) WalkAST(p Pass) error {
	p.PushSQL("(")
	if err := walkList(p, g.exprs, g.sep); err != nil {
		return err
	}
	p.PushSQL(")")
	return nil
}

func And(exprs ...Expr) Expr { return grouped{exprs, " AND "} }
func Or(exprs ...Expr) Expr  { return grouped{exprs, " OR "} }

type postfix struct {
	e  Expr
	op string
}

func (u postfix) WalkAST(p Pass) error {
	if err := u.e.WalkAST(p); err != nil {
		return err
	}
	p.PushSQL(u.op)
	return nil
}

func IsNull(e Expr) Expr    { return postfix{e, " IS NULL"} }
func IsNotNull(e Expr) Expr { return postfix{e, " IS NOT NULL"} }
func Asc(e Expr) Expr       { return postfix{e, " ASC"} }
func Desc(e Expr) Expr      { return postfix{e, " DESC"} }

type not struct{ e Expr }

func Not(e Expr) Expr { return not{e} }

func (n not) WalkAST(p Pass) error {
	p.PushSQL("NOT ")
	return n.e.WalkAST(p)
}

type inList struct {
	e    Expr
	t    dialect.SQLType
	vals []any
}

// In renders e IN (...) with one bind per value. An empty list renders a
// condition that is always false.
func In(e Expr, t dialect.SQLType, vals ...any) Expr { return inList{e, t, vals} }

func (in inList) WalkAST(p Pass) error {
	if len(in.vals) == 0 {
		p.PushSQL("1 = 0")
		return nil
	}
	if err := in.e.WalkAST(p); err != nil {
		return err
	}
	p.PushSQL(" IN (")
	for i, v := range in.vals {
		if i > 0 {
			p.PushSQL(", ")
		}
		if err := p.PushBind(in.t, v); err != nil {
			return err
		}
	}
	p.PushSQL(")")
	return nil
}

type call struct {
	name string
	args []Expr
}

// Func renders name(args...). The name is trusted SQL.
func Func(name string, args ...Expr) Expr { return call{name, args} }

func (c call) WalkAST(p Pass) error {
	p.PushSQL(c.name + "(")
	if err := walkList(p, c.args, ", "); err != nil {
		return err
	}
	p.PushSQL(")")
	return nil
}

func Max(e Expr) Expr   { return Func("max", e) }
func Count(e Expr) Expr { return Func("count", e) }

type alias struct {
	e    Expr
	name string
}

// As renders e AS name.
func As(e Expr, name string) Expr { return alias{e, name} }

func (a alias) WalkAST(p Pass) error {
	if err := a.e.WalkAST(p); err != nil {
		return err
	}
	p.PushSQL(" AS ")
	p.PushIdentifier(a.name)
	return nil
}

// Excluded references the row proposed for insertion inside ON CONFLICT DO UPDATE.
func Excluded(name string) Expr { return excluded(name) }

type excluded string

func (e excluded) WalkAST(p Pass) error {
	p.PushSQL("excluded.")
	p.PushIdentifier(string(e))
	return nil
}

type defaultValue struct{}

// Default renders the DEFAULT keyword inside a VALUES list.
func Default() Expr { return defaultValue{} }

func (defaultValue) WalkAST(p Pass) error {
	p.PushSQL("DEFAULT")
	return nil
}
