package query

import (
	"errors"
	"fmt"

	"github.com/tomyedwab/guestdb/sqlproxy/dialect"
)

type table string

func (t table) WalkAST(p Pass) error {
	p.PushIdentifier(string(t))
	return nil
}

// ReturningClause renders " RETURNING ..." after INSERT, UPDATE or DELETE.
type ReturningClause struct {
	exprs []Expr
}

func (r *ReturningClause) WalkAST(p Pass) error {
	if r == nil || len(r.exprs) == 0 {
		return nil
	}
	p.PushSQL(" RETURNING ")
	return walkList(p, r.exprs, ", ")
}

func returning(exprs []Expr) *ReturningClause {
	if len(exprs) == 0 {
		return nil
	}
	return &ReturningClause{exprs: exprs}
}

func walkWhere(p Pass, where Expr) error {
	if where == nil {
		return nil
	}
	p.PushSQL(" WHERE ")
	return where.WalkAST(p)
}

// SelectStatement is built with Select.
type SelectStatement struct {
	columns []Expr
	from    string
	where   Expr
	orderBy []Expr
	limit   *int64
	offset  *int64
}

// Select starts a SELECT of the given expressions; none means *.
func Select(columns ...Expr) *SelectStatement { return &SelectStatement{columns: columns} }

func (s *SelectStatement) From(name string) *SelectStatement { s.from = name; return s }
func (s *SelectStatement) Where(e Expr) *SelectStatement     { s.where = e; return s }
func (s *SelectStatement) OrderBy(e ...Expr) *SelectStatement {
	s.orderBy = append(s.orderBy, e...)
	return s
}
func (s *SelectStatement) Limit(n int64) *SelectStatement  { s.limit = &n; return s }
func (s *SelectStatement) Offset(n int64) *SelectStatement { s.offset = &n; return s }

func (s *SelectStatement) WalkAST(p Pass) error {
	p.PushSQL("SELECT ")
	if len(s.columns) == 0 {
		p.PushSQL("*")
	} else if err := walkList(p, s.columns, ", "); err != nil {
		return err
	}
	if s.from != "" {
		p.PushSQL(" FROM ")
		p.PushIdentifier(s.from)
	}
	if err := walkWhere(p, s.where); err != nil {
		return err
	}
	if len(s.orderBy) > 0 {
		p.PushSQL(" ORDER BY ")
		if err := walkList(p, s.orderBy, ", "); err != nil {
			return err
		}
	}
	if s.offset != nil && s.limit == nil {
		return errors.New("select: OFFSET requires LIMIT")
	}
	if s.limit != nil {
		p.PushSQL(" LIMIT ")
		if err := p.PushBind(dialect.BigInt, *s.limit); err != nil {
			return err
		}
	}
	if s.offset != nil {
		p.PushSQL(" OFFSET ")
		if err := p.PushBind(dialect.BigInt, *s.offset); err != nil {
			return err
		}
	}
	return nil
}

// Assignment is one column = value pair of UPDATE or ON CONFLICT DO UPDATE.
type Assignment struct {
	Column string
	Value  Expr
}

// Set builds an Assignment.
func Set(column string, value Expr) Assignment { return Assignment{Column: column, Value: value} }

func (a Assignment) WalkAST(p Pass) error {
	p.PushIdentifier(a.Column)
	p.PushSQL(" = ")
	return a.Value.WalkAST(p)
}

type onConflict struct {
	target  []string
	updates []Assignment
}

func (c *onConflict) WalkAST(p Pass) error {
	p.PushSQL(" ON CONFLICT")
	if len(c.target) > 0 {
		p.PushSQL(" (")
		for i, col := range c.target {
			if i > 0 {
				p.PushSQL(", ")
			}
			p.PushIdentifier(col)
		}
		p.PushSQL(")")
	}
	if len(c.updates) == 0 {
		p.PushSQL(" DO NOTHING")
		return nil
	}
	if len(c.target) == 0 {
		return errors.New("insert: ON CONFLICT DO UPDATE requires a conflict target")
	}
	p.PushSQL(" DO UPDATE SET ")
	return walkList(p, c.updates, ", ")
}

// InsertStatement is built with InsertInto.
type InsertStatement struct {
	table      string
	columns    []string
	rows       [][]Expr
	onConflict *onConflict
	returning  *ReturningClause
	err        error
}

// InsertInto starts an INSERT into the given columns.
func InsertInto(name string, columns ...string) *InsertStatement {
	return &InsertStatement{table: name, columns: columns}
}

// Values appends one row; it must have one expression per column.
func (s *InsertStatement) Values(row ...Expr) *InsertStatement {
	if len(row) != len(s.columns) && s.err == nil {
		s.err = fmt.Errorf("insert into %s: row %d has %d values for %d columns", s.table, len(s.rows)+1, len(row), len(s.columns))
	}
	s.rows = append(s.rows, row)
	return s
}

// OnConflictDoNothing adds ON CONFLICT (target) DO NOTHING.
func (s *InsertStatement) OnConflictDoNothing(target ...string) *InsertStatement {
	s.onConflict = &onConflict{target: target}
	return s
}

// OnConflictDoUpdate adds ON CONFLICT (target) DO UPDATE SET updates.
func (s *InsertStatement) OnConflictDoUpdate(target []string, updates ...Assignment) *InsertStatement {
	s.onConflict = &onConflict{target: target, updates: updates}
	return s
}

func (s *InsertStatement) Returning(exprs ...Expr) *InsertStatement {
	s.returning = returning(exprs)
	return s
}

// Rows is the number of VALUES rows.
func (s *InsertStatement) Rows() int { return len(s.rows) }

// SplitRows returns one single-row statement per VALUES row, each keeping the
// ON CONFLICT and RETURNING clauses.
func (s *InsertStatement) SplitRows() []*InsertStatement {
	res := make([]*InsertStatement, 0, len(s.rows))
	for _, row := range s.rows {
		res = append(res, &InsertStatement{
			table: s.table, columns: s.columns, rows: [][]Expr{row},
			onConflict: s.onConflict, returning: s.returning, err: s.err,
		})
	}
	return res
}

func (s *InsertStatement) requires() dialect.Capabilities {
	caps := dialect.Capabilities{
		Returning:      s.returning != nil,
		OnConflict:     s.onConflict != nil,
		MultiRowInsert: len(s.rows) > 1,
	}
	for _, row := range s.rows {
		for _, e := range row {
			if _, ok := e.(defaultValue); ok {
				caps.DefaultKeyword = true
			}
		}
	}
	return caps
}

func (s *InsertStatement) WalkAST(p Pass) error {
	if s.err != nil {
		return s.err
	}
	p.PushSQL("INSERT INTO ")
	p.PushIdentifier(s.table)
	if len(s.columns) == 0 || len(s.rows) == 0 {
		p.PushSQL(" DEFAULT VALUES")
	} else {
		p.PushSQL(" (")
		for i, col := range s.columns {
			if i > 0 {
				p.PushSQL(", ")
			}
			p.PushIdentifier(col)
		}
		p.PushSQL(") VALUES ")
		for i, row := range s.rows {
			if i > 0 {
				p.PushSQL(", ")
			}
			if err := (grouped{exprs: row, sep: ", "}).WalkAST(p); err != nil {
				return err
			}
		}
	}
	if s.onConflict != nil {
		if err := s.onConflict.WalkAST(p); err != nil {
			return err
		}
	}
	return s.returning.WalkAST(p)
}

// UpdateStatement is built with Update.
type UpdateStatement struct {
	table     string
	sets      []Assignment
	where     Expr
	returning *ReturningClause
}

func Update(name string) *UpdateStatement { return &UpdateStatement{table: name} }

func (s *UpdateStatement) Set(column string, value Expr) *UpdateStatement {
	s.sets = append(s.sets, Set(column, value))
	return s
}
func (s *UpdateStatement) Where(e Expr) *UpdateStatement { s.where = e; return s }
func (s *UpdateStatement) Returning(exprs ...Expr) *UpdateStatement {
	s.returning = returning(exprs)
	return s
}

func (s *UpdateStatement) requires() dialect.Capabilities {
	return dialect.Capabilities{Returning: s.returning != nil}
}

func (s *UpdateStatement) WalkAST(p Pass) error {
	if len(s.sets) == 0 {
		return fmt.Errorf("update %s: no columns to set", s.table)
	}
	p.PushSQL("UPDATE ")
	p.PushIdentifier(s.table)
	p.PushSQL(" SET ")
	if err := walkList(p, s.sets, ", "); err != nil {
		return err
	}
	if err := walkWhere(p, s.where); err != nil {
		return err
	}
	return s.returning.WalkAST(p)
}

// DeleteStatement is built with DeleteFrom.
type DeleteStatement struct {
	table     string
	where     Expr
	returning *ReturningClause
}

func DeleteFrom(name string) *DeleteStatement            { return &DeleteStatement{table: name} }
func (s *DeleteStatement) Where(e Expr) *DeleteStatement { s.where = e; return s }
func (s *DeleteStatement) Returning(exprs ...Expr) *DeleteStatement {
	s.returning = returning(exprs)
	return s
}

func (s *DeleteStatement) requires() dialect.Capabilities {
	return dialect.Capabilities{Returning: s.returning != nil}
}

func (s *DeleteStatement) WalkAST(p Pass) error {
	p.PushSQL("DELETE FROM ")
	p.PushIdentifier(s.table)
	if err := walkWhere(p, s.where); err != nil {
		return err
	}
	return s.returning.WalkAST(p)
}

// RawQuery is hand-written SQL with binds interleaved, built with Raw.
type RawQuery struct {
	parts []Node
}

// Raw starts a query from trusted SQL text. Binds are appended with Bind so the
// placeholder syntax always matches the dialect.
func Raw(sql string) *RawQuery { return &RawQuery{parts: []Node{literal(sql)}} }

func (q *RawQuery) SQL(sql string) *RawQuery {
	q.parts = append(q.parts, literal(sql))
	return q
}

func (q *RawQuery) Bind(t dialect.SQLType, v any) *RawQuery {
	q.parts = append(q.parts, bound{t: t, v: v})
	return q
}

func (q *RawQuery) WalkAST(p Pass) error {
	for _, n := range q.parts {
		if err := n.WalkAST(p); err != nil {
			return err
		}
	}
	return nil
}
