package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Statement represents a parsed SQL query: a SELECT, a set operation or a
// WITH block.
type Statement interface {
	statementNode()
	String() string
}

// Expression represents an expression in the AST.
type Expression interface {
	expressionNode()
	String() string
}

// TableExpr represents an item of the FROM clause.
type TableExpr interface {
	tableNode()
	String() string
}

// SelectStatement represents a SELECT query.
type SelectStatement struct {
	Distinct bool
	Columns  []SelectColumn
	From     TableExpr
	Where    Expression
	GroupBy  []Expression
	Having   Expression
	OrderBy  []OrderByClause
	Limit    *int64
	Offset   *int64
}

func (s *SelectStatement) statementNode() {}

// String returns the SQL representation of the SELECT statement.
func (s *SelectStatement) String() string {
	var sb strings.Builder

	sb.WriteString("SELECT ")
	if s.Distinct {
		sb.WriteString("DISTINCT ")
	}

	// Columns
	cols := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		cols[i] = col.String()
	}
	sb.WriteString(strings.Join(cols, ", "))

	// FROM
	if s.From != nil {
		sb.WriteString(" FROM ")
		sb.WriteString(s.From.String())
	}

	// WHERE
	if s.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(s.Where.String())
	}

	// GROUP BY
	if len(s.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(joinExprs(s.GroupBy))
	}

	// HAVING
	if s.Having != nil {
		sb.WriteString(" HAVING ")
		sb.WriteString(s.Having.String())
	}

	writeTail(&sb, s.OrderBy, s.Limit, s.Offset)
	return sb.String()
}

// writeTail renders ORDER BY, LIMIT and OFFSET.
func writeTail(sb *strings.Builder, orderBy []OrderByClause, limit, offset *int64) {
	if len(orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		orders := make([]string, len(orderBy))
		for i, o := range orderBy {
			orders[i] = o.String()
		}
		sb.WriteString(strings.Join(orders, ", "))
	}
	if limit != nil {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", *limit))
	}
	if offset != nil {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", *offset))
	}
}

// SetOperator is UNION, INTERSECT or EXCEPT.
type SetOperator string

const (
	SetUnion     SetOperator = "UNION"
	SetIntersect SetOperator = "INTERSECT"
	SetExcept    SetOperator = "EXCEPT"
)

// SetStatement combines two queries with a set operator.
type SetStatement struct {
	Op      SetOperator
	All     bool
	Left    Statement
	Right   Statement
	OrderBy []OrderByClause
	Limit   *int64
	Offset  *int64
}

func (s *SetStatement) statementNode() {}

func (s *SetStatement) String() string {
	var sb strings.Builder
	sb.WriteString("(")
	sb.WriteString(s.Left.String())
	sb.WriteString(") ")
	sb.WriteString(string(s.Op))
	if s.All {
		sb.WriteString(" ALL")
	}
	sb.WriteString(" (")
	sb.WriteString(s.Right.String())
	sb.WriteString(")")
	writeTail(&sb, s.OrderBy, s.Limit, s.Offset)
	return sb.String()
}

// CTE is a named query of a WITH clause.
type CTE struct {
	Name    string
	Columns []string
	Query   Statement
}

func (c CTE) String() string {
	name := QuoteIdent(c.Name)
	if len(c.Columns) > 0 {
		cols := make([]string, len(c.Columns))
		for i, col := range c.Columns {
			cols[i] = QuoteIdent(col)
		}
		name += " (" + strings.Join(cols, ", ") + ")"
	}
	return fmt.Sprintf("%s AS (%s)", name, c.Query.String())
}

// WithStatement is a query preceded by common table expressions.
type WithStatement struct {
	CTEs []CTE
	Body Statement
}

func (w *WithStatement) statementNode() {}

func (w *WithStatement) String() string {
	ctes := make([]string, len(w.CTEs))
	for i, c := range w.CTEs {
		ctes[i] = c.String()
	}
	return "WITH " + strings.Join(ctes, ", ") + " " + w.Body.String()
}

// SelectColumn represents a column in the SELECT clause.
type SelectColumn struct {
	Expr  Expression
	Alias string
}

// String returns the SQL representation of the select column.
func (c SelectColumn) String() string {
	if c.Alias != "" {
		return fmt.Sprintf("%s AS %s", c.Expr.String(), QuoteIdent(c.Alias))
	}
	return c.Expr.String()
}

// TableRef represents a (possibly qualified) table reference in the FROM
// clause.
type TableRef struct {
	Path  []string
	Alias string
}

func (t *TableRef) tableNode() {}

// Name is the dotted table path.
func (t *TableRef) Name() string {
	return strings.Join(t.Path, ".")
}

// String returns the SQL representation of the table reference.
func (t *TableRef) String() string {
	parts := make([]string, len(t.Path))
	for i, p := range t.Path {
		parts[i] = QuoteIdent(p)
	}
	name := strings.Join(parts, ".")
	if t.Alias != "" {
		return fmt.Sprintf("%s AS %s", name, QuoteIdent(t.Alias))
	}
	return name
}

// SubqueryRef is a parenthesized query in the FROM clause.
type SubqueryRef struct {
	Query Statement
	Alias string
}

func (s *SubqueryRef) tableNode() {}

func (s *SubqueryRef) String() string {
	if s.Alias != "" {
		return fmt.Sprintf("(%s) AS %s", s.Query.String(), QuoteIdent(s.Alias))
	}
	return fmt.Sprintf("(%s)", s.Query.String())
}

// JoinKind is the join flavor.
type JoinKind string

const (
	JoinInner JoinKind = "INNER"
	JoinLeft  JoinKind = "LEFT"
	JoinRight JoinKind = "RIGHT"
	JoinFull  JoinKind = "FULL"
	JoinCross JoinKind = "CROSS"
)

// JoinExpr joins two FROM items. Either On or Using may be set, but not both.
type JoinExpr struct {
	Left  TableExpr
	Right TableExpr
	Kind  JoinKind
	On    Expression
	Using []string
}

func (j *JoinExpr) tableNode() {}

func (j *JoinExpr) String() string {
	var sb strings.Builder
	sb.WriteString(j.Left.String())
	if j.Kind == JoinInner {
		sb.WriteString(" JOIN ")
	} else {
		sb.WriteString(" " + string(j.Kind) + " JOIN ")
	}
	sb.WriteString(j.Right.String())
	if j.On != nil {
		sb.WriteString(" ON ")
		sb.WriteString(j.On.String())
	}
	if len(j.Using) > 0 {
		cols := make([]string, len(j.Using))
		for i, c := range j.Using {
			cols[i] = QuoteIdent(c)
		}
		sb.WriteString(" USING (" + strings.Join(cols, ", ") + ")")
	}
	return sb.String()
}

// OrderByClause represents an ORDER BY clause item.
type OrderByClause struct {
	Expr Expression
	Desc bool
}

// String returns the SQL representation of the ORDER BY clause.
func (o OrderByClause) String() string {
	if o.Desc {
		return fmt.Sprintf("%s DESC", o.Expr.String())
	}
	return fmt.Sprintf("%s ASC", o.Expr.String())
}

// BinaryExpr represents a binary operation (e.g., a = b, a > b).
type BinaryExpr struct {
	Left     Expression
	Operator string
	Right    Expression
}

func (b *BinaryExpr) expressionNode() {}

// String returns the SQL representation of the binary expression.
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), b.Operator, b.Right.String())
}

// UnaryExpr represents a unary operation (e.g., NOT x, -x).
type UnaryExpr struct {
	Operator string
	Operand  Expression
}

func (u *UnaryExpr) expressionNode() {}

// String returns the SQL representation of the unary expression.
func (u *UnaryExpr) String() string {
	return fmt.Sprintf("%s %s", u.Operator, u.Operand.String())
}

// ColumnRef represents a column reference. Table holds the qualifier, which
// may itself be dotted.
type ColumnRef struct {
	Table  string
	Column string
}

func (c *ColumnRef) expressionNode() {}

// String returns the SQL representation of the column reference.
func (c *ColumnRef) String() string {
	if c.Table != "" {
		parts := strings.Split(c.Table, ".")
		for i, p := range parts {
			parts[i] = QuoteIdent(p)
		}
		return fmt.Sprintf("%s.%s", strings.Join(parts, "."), QuoteIdent(c.Column))
	}
	return QuoteIdent(c.Column)
}

// Literal represents a literal value: string, int64, float64, bool or nil.
type Literal struct {
	Value interface{}
}

func (l *Literal) expressionNode() {}

// String returns the SQL representation of the literal.
func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case string:
		// Escape single quotes
		escaped := strings.ReplaceAll(v, "'", "''")
		return fmt.Sprintf("'%s'", escaped)
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEn") {
			s += ".0"
		}
		return s
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// AggregateExpr represents an aggregate function call.
type AggregateExpr struct {
	Function string // COUNT, SUM, AVG, MIN, MAX, VARIANCE, STDDEV
	Arg      Expression
	Distinct bool
}

func (a *AggregateExpr) expressionNode() {}

// String returns the SQL representation of the aggregate expression.
func (a *AggregateExpr) String() string {
	var sb strings.Builder
	sb.WriteString(a.Function)
	sb.WriteString("(")
	if a.Distinct {
		sb.WriteString("DISTINCT ")
	}
	if a.Arg != nil {
		sb.WriteString(a.Arg.String())
	}
	sb.WriteString(")")
	return sb.String()
}

// aggregateNames lists the functions parsed as AggregateExpr.
var aggregateNames = map[string]string{
	"COUNT":       "COUNT",
	"SUM":         "SUM",
	"AVG":         "AVG",
	"MIN":         "MIN",
	"MAX":         "MAX",
	"VARIANCE":    "VARIANCE",
	"VAR":         "VARIANCE",
	"VAR_SAMP":    "VARIANCE",
	"STDDEV":      "STDDEV",
	"STDDEV_SAMP": "STDDEV",
	"STDEV":       "STDDEV",
}

// IsAggregate reports whether name is an aggregate function.
func IsAggregate(name string) bool {
	_, ok := aggregateNames[strings.ToUpper(name)]
	return ok
}

// StarExpr represents the * wildcard in SELECT *.
type StarExpr struct {
	Table string // Optional table qualifier (e.g., t.*)
}

func (s *StarExpr) expressionNode() {}

// String returns the SQL representation of the star expression.
func (s *StarExpr) String() string {
	if s.Table != "" {
		return fmt.Sprintf("%s.*", QuoteIdent(s.Table))
	}
	return "*"
}

// FunctionCall represents a scalar function call expression.
type FunctionCall struct {
	Name string
	Args []Expression
}

func (f *FunctionCall) expressionNode() {}

// String returns the SQL representation of the function call.
func (f *FunctionCall) String() string {
	return fmt.Sprintf("%s(%s)", f.Name, joinExprs(f.Args))
}

// InExpr represents an IN expression (e.g., x IN (1, 2, 3)).
type InExpr struct {
	Expr   Expression
	Values []Expression
	Not    bool
}

func (i *InExpr) expressionNode() {}

// String returns the SQL representation of the IN expression.
func (i *InExpr) String() string {
	if i.Not {
		return fmt.Sprintf("%s NOT IN (%s)", i.Expr.String(), joinExprs(i.Values))
	}
	return fmt.Sprintf("%s IN (%s)", i.Expr.String(), joinExprs(i.Values))
}

// BetweenExpr represents a BETWEEN expression (e.g., x BETWEEN 1 AND 10).
type BetweenExpr struct {
	Expr Expression
	Low  Expression
	High Expression
	Not  bool
}

func (b *BetweenExpr) expressionNode() {}

// String returns the SQL representation of the BETWEEN expression.
func (b *BetweenExpr) String() string {
	if b.Not {
		return fmt.Sprintf("%s NOT BETWEEN %s AND %s", b.Expr.String(), b.Low.String(), b.High.String())
	}
	return fmt.Sprintf("%s BETWEEN %s AND %s", b.Expr.String(), b.Low.String(), b.High.String())
}

// IsNullExpr represents an IS NULL or IS NOT NULL expression.
type IsNullExpr struct {
	Expr Expression
	Not  bool
}

func (i *IsNullExpr) expressionNode() {}

// String returns the SQL representation of the IS NULL expression.
func (i *IsNullExpr) String() string {
	if i.Not {
		return fmt.Sprintf("%s IS NOT NULL", i.Expr.String())
	}
	return fmt.Sprintf("%s IS NULL", i.Expr.String())
}

// LikeExpr represents a LIKE or ILIKE expression.
type LikeExpr struct {
	Expr            Expression
	Pattern         Expression
	Not             bool
	CaseInsensitive bool
}

func (l *LikeExpr) expressionNode() {}

// String returns the SQL representation of the LIKE expression.
func (l *LikeExpr) String() string {
	op := "LIKE"
	if l.CaseInsensitive {
		op = "ILIKE"
	}
	if l.Not {
		op = "NOT " + op
	}
	return fmt.Sprintf("%s %s %s", l.Expr.String(), op, l.Pattern.String())
}

// ParenExpr represents a parenthesized expression.
type ParenExpr struct {
	Expr Expression
}

func (p *ParenExpr) expressionNode() {}

// String returns the SQL representation of the parenthesized expression.
// Binary expressions already render their own parentheses.
func (p *ParenExpr) String() string {
	if _, ok := p.Expr.(*BinaryExpr); ok {
		return p.Expr.String()
	}
	return fmt.Sprintf("(%s)", p.Expr.String())
}

// WhenClause is one WHEN ... THEN ... branch of a CASE expression.
type WhenClause struct {
	Cond   Expression
	Result Expression
}

// CaseExpr is CASE [operand] WHEN ... THEN ... [ELSE ...] END.
type CaseExpr struct {
	Operand Expression
	Whens   []WhenClause
	Else    Expression
}

func (c *CaseExpr) expressionNode() {}

func (c *CaseExpr) String() string {
	var sb strings.Builder
	sb.WriteString("CASE")
	if c.Operand != nil {
		sb.WriteString(" " + c.Operand.String())
	}
	for _, w := range c.Whens {
		sb.WriteString(" WHEN " + w.Cond.String() + " THEN " + w.Result.String())
	}
	if c.Else != nil {
		sb.WriteString(" ELSE " + c.Else.String())
	}
	sb.WriteString(" END")
	return sb.String()
}

// CastExpr is CAST(expr AS type). Type is the type name as written, upper
// cased.
type CastExpr struct {
	Expr Expression
	Type string
}

func (c *CastExpr) expressionNode() {}

func (c *CastExpr) String() string {
	return fmt.Sprintf("CAST(%s AS %s)", c.Expr.String(), c.Type)
}

func joinExprs(exprs []Expression) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// QuoteIdent renders an identifier, double quoting it when it is not a plain
// lower-case-safe name or collides with a keyword.
func QuoteIdent(name string) string {
	if isPlainIdent(name) {
		if _, kw := keywords[strings.ToUpper(name)]; !kw {
			return name
		}
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isPlainIdent(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// WalkExpr calls fn for e and its sub-expressions in pre-order. Returning
// false from fn skips the children of that node.
func WalkExpr(e Expression, fn func(Expression) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch x := e.(type) {
	case *BinaryExpr:
		WalkExpr(x.Left, fn)
		WalkExpr(x.Right, fn)
	case *UnaryExpr:
		WalkExpr(x.Operand, fn)
	case *AggregateExpr:
		WalkExpr(x.Arg, fn)
	case *FunctionCall:
		for _, a := range x.Args {
			WalkExpr(a, fn)
		}
	case *InExpr:
		WalkExpr(x.Expr, fn)
		for _, v := range x.Values {
			WalkExpr(v, fn)
		}
	case *BetweenExpr:
		WalkExpr(x.Expr, fn)
		WalkExpr(x.Low, fn)
		WalkExpr(x.High, fn)
	case *IsNullExpr:
		WalkExpr(x.Expr, fn)
	case *LikeExpr:
		WalkExpr(x.Expr, fn)
		WalkExpr(x.Pattern, fn)
	case *ParenExpr:
		WalkExpr(x.Expr, fn)
	case *CaseExpr:
		WalkExpr(x.Operand, fn)
		for _, w := range x.Whens {
			WalkExpr(w.Cond, fn)
			WalkExpr(w.Result, fn)
		}
		WalkExpr(x.Else, fn)
	case *CastExpr:
		WalkExpr(x.Expr, fn)
	}
}

// HasAggregate reports whether e contains an aggregate call.
func HasAggregate(e Expression) bool {
	found := false
	WalkExpr(e, func(n Expression) bool {
		if _, ok := n.(*AggregateExpr); ok {
			found = true
		}
		return !found
	})
	return found
}
