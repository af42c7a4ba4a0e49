package relation

import (
	"fmt"
	"strings"

	"github.com/qrlew/qrlew-go/internal/dialect"
	"github.com/qrlew/qrlew-go/internal/expr"
)

const (
	leftAlias  = "_left_"
	rightAlias = "_right_"
)

// ToQuery renders r as one SQL query for d. Every non-table node below the
// root becomes a common table expression named after the node, so a shared
// sub-plan is computed once.
func ToQuery(r Relation, d dialect.Dialect) string {
	var ctes []string
	seen := make(map[string]bool)
	for _, n := range PostOrder(r) {
		if n == r || seen[n.Name()] {
			continue
		}
		if _, ok := n.(*Table); ok {
			continue
		}
		seen[n.Name()] = true
		ctes = append(ctes, fmt.Sprintf("%s AS (%s)", d.Ident(n.Name()), renderNode(n, d, false)))
	}
	body := renderNode(r, d, true)
	if len(ctes) == 0 {
		return body
	}
	return "WITH " + strings.Join(ctes, ", ") + " " + body
}

// source is the FROM item for an input.
func source(r Relation, d dialect.Dialect) string {
	if t, ok := r.(*Table); ok {
		return d.QuotePath(t.Path)
	}
	return d.Ident(r.Name())
}

func columnList(s Schema, d dialect.Dialect) string {
	cols := make([]string, len(s))
	for i, f := range s {
		cols[i] = d.Ident(f.Name)
	}
	return strings.Join(cols, ", ")
}

func renderNode(r Relation, d dialect.Dialect, root bool) string {
	switch x := r.(type) {
	case *Table:
		return fmt.Sprintf("SELECT %s FROM %s", columnList(x.Schema(), d), source(x, d))
	case *Map:
		return renderMap(x, d)
	case *Reduce:
		return renderReduce(x, d)
	case *Join:
		return renderJoin(x, d)
	case *Set:
		op := x.Op.String()
		if x.All {
			op += " ALL"
		}
		return fmt.Sprintf("SELECT %s FROM %s %s SELECT %s FROM %s",
			columnList(x.Left.Schema(), d), source(x.Left, d), op,
			columnList(x.Right.Schema(), d), source(x.Right, d))
	case *Values:
		return renderValues(x, d)
	case *Sort:
		q := fmt.Sprintf("SELECT %s FROM %s", columnList(x.Schema(), d), source(x.Input, d))
		// MsSql rejects ORDER BY in a CTE, and order is lost there anyway.
		if root || d != dialect.MsSql {
			q += " ORDER BY " + orderBy(x.Keys, d)
		}
		return q
	case *Limit:
		from := x.Input
		q := fmt.Sprintf("SELECT %s FROM ", columnList(x.Schema(), d))
		hasOrder := false
		if s, ok := from.(*Sort); ok {
			q += source(s.Input, d) + " ORDER BY " + orderBy(s.Keys, d)
			hasOrder = true
		} else {
			q += source(from, d)
		}
		return q + d.Limit(x.Limit, x.Offset, hasOrder)
	}
	return ""
}

func renderMap(m *Map, d dialect.Dialect) string {
	items := make([]string, len(m.Projections))
	for i, p := range m.Projections {
		items[i] = expr.Render(p.Expr, d) + " AS " + d.Ident(p.Name)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(items, ", "), source(m.Input, d))
	if m.Filter != nil {
		q += " WHERE " + expr.Render(m.Filter, d)
	}
	return q
}

func renderReduce(r *Reduce, d dialect.Dialect) string {
	items := make([]string, len(r.Aggregates))
	for i, a := range r.Aggregates {
		items[i] = expr.RenderAggregate(a.Aggregate, d) + " AS " + d.Ident(a.Name)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(items, ", "), source(r.Input, d))
	if len(r.GroupBy) > 0 {
		keys := make([]string, len(r.GroupBy))
		for i, g := range r.GroupBy {
			keys[i] = d.Ident(g)
		}
		q += " GROUP BY " + strings.Join(keys, ", ")
	}
	return q
}

func renderJoin(j *Join, d dialect.Dialect) string {
	var items []string
	for i, f := range j.Left.Schema() {
		items = append(items, qualified(leftAlias, f.Name, d)+" AS "+d.Ident(j.LeftNames[i]))
	}
	for i, f := range j.Right.Schema() {
		items = append(items, qualified(rightAlias, f.Name, d)+" AS "+d.Ident(j.RightNames[i]))
	}
	q := fmt.Sprintf("SELECT %s FROM %s AS %s %s JOIN %s AS %s", strings.Join(items, ", "),
		source(j.Left, d), leftAlias, j.Kind, source(j.Right, d), rightAlias)
	if j.Kind == JoinCross {
		return q
	}
	if len(j.On) == 0 {
		return q + " ON 1 = 1"
	}
	conds := make([]string, len(j.On))
	for i, k := range j.On {
		conds[i] = qualified(leftAlias, k.Left, d) + " = " + qualified(rightAlias, k.Right, d)
	}
	return q + " ON " + strings.Join(conds, " AND ")
}

func qualified(alias, column string, d dialect.Dialect) string {
	return d.Ident(alias) + "." + d.Ident(column)
}

func renderValues(v *Values, d dialect.Dialect) string {
	if len(v.Rows) == 0 {
		items := make([]string, len(v.Fields))
		for i, f := range v.Fields {
			items[i] = "NULL AS " + d.Ident(f)
		}
		return "SELECT " + strings.Join(items, ", ") + " WHERE 1 = 0"
	}
	selects := make([]string, len(v.Rows))
	for r, row := range v.Rows {
		items := make([]string, len(row))
		for i, val := range row {
			items[i] = expr.RenderValue(val, d) + " AS " + d.Ident(v.Fields[i])
		}
		selects[r] = "SELECT " + strings.Join(items, ", ")
	}
	return strings.Join(selects, " UNION ALL ")
}

func orderBy(keys []SortKey, d dialect.Dialect) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = d.Ident(k.Column)
		if k.Desc {
			parts[i] += " DESC"
		}
	}
	return strings.Join(parts, ", ")
}
