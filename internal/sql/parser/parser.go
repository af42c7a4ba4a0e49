package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/qrlew/qrlew-go/internal/dialect"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	Message  string
	Position int
	Token    Token
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s (got %s)", e.Position, e.Message, e.Token.Literal)
}

// Parser parses SQL statements into AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	return NewDialectParser(input, dialect.Default)
}

// NewDialectParser creates a Parser whose lexer follows the quoting rules of d.
func NewDialectParser(input string, d dialect.Dialect) *Parser {
	p := &Parser{
		lexer: NewDialectLexer(input, d),
	}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses the input and returns a Statement. Failures are PARSE_ERROR
// engine errors wrapping a *ParseError.
func Parse(input string) (Statement, error) {
	return ParseDialect(input, dialect.Default)
}

// ParseDialect parses the input with the identifier quoting of d.
func ParseDialect(input string, d dialect.Dialect) (Statement, error) {
	p := NewDialectParser(input, d)
	stmt, err := p.ParseStatement()
	if err != nil {
		return nil, qerrors.NewParseError(err)
	}
	return stmt, nil
}

// ParseExpression parses a standalone scalar expression.
func ParseExpression(input string, d dialect.Dialect) (Expression, error) {
	p := NewDialectParser(input, d)
	expr, err := p.parseExpression(precLowest)
	if err == nil && !p.curTokenIs(TokenEOF) {
		err = p.errorf("unexpected token after expression")
	}
	if err != nil {
		return nil, qerrors.NewParseError(err)
	}
	return expr, nil
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// expectCur consumes the current token if it matches, otherwise returns an
// error.
func (p *Parser) expectCur(t TokenType) error {
	if p.curTokenIs(t) {
		p.nextToken()
		return nil
	}
	return p.errorf("expected %s", t.String())
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	tok := p.curToken
	if tok.Type == TokenError {
		return &ParseError{Message: tok.Literal, Position: tok.Pos, Token: tok}
	}
	return &ParseError{
		Message:  fmt.Sprintf(format, args...),
		Position: tok.Pos,
		Token:    tok,
	}
}

// ParseStatement parses a complete SQL query, optionally followed by a
// semicolon.
func (p *Parser) ParseStatement() (Statement, error) {
	if !p.curTokenIs(TokenSelect) && !p.curTokenIs(TokenWith) && !p.curTokenIs(TokenLParen) {
		return nil, p.errorf("expected SELECT")
	}
	stmt, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
	if !p.curTokenIs(TokenEOF) {
		return nil, p.errorf("unexpected token after statement")
	}
	return stmt, nil
}

// parseQuery parses [WITH ...] body [ORDER BY ...] [LIMIT n] [OFFSET n].
func (p *Parser) parseQuery() (Statement, error) {
	var ctes []CTE
	if p.curTokenIs(TokenWith) {
		p.nextToken()
		var err error
		ctes, err = p.parseCTEs()
		if err != nil {
			return nil, err
		}
	}

	body, err := p.parseSetExpression()
	if err != nil {
		return nil, err
	}
	orderBy, limit, offset, err := p.parseTail()
	if err != nil {
		return nil, err
	}
	if len(orderBy) > 0 || limit != nil || offset != nil {
		switch b := body.(type) {
		case *SelectStatement:
			if len(b.OrderBy) > 0 || b.Limit != nil || b.Offset != nil {
				return nil, p.errorf("duplicate ORDER BY or LIMIT")
			}
			b.OrderBy, b.Limit, b.Offset = orderBy, limit, offset
		case *SetStatement:
			b.OrderBy, b.Limit, b.Offset = orderBy, limit, offset
		default:
			body = &SelectStatement{
				Columns: []SelectColumn{{Expr: &StarExpr{}}},
				From:    &SubqueryRef{Query: body, Alias: "_sub"},
				OrderBy: orderBy, Limit: limit, Offset: offset,
			}
		}
	}

	if len(ctes) > 0 {
		return &WithStatement{CTEs: ctes, Body: body}, nil
	}
	return body, nil
}

// parseCTEs parses name [(cols)] AS (query) [, ...].
func (p *Parser) parseCTEs() ([]CTE, error) {
	var ctes []CTE
	for {
		if !p.curTokenIs(TokenIdent) {
			return nil, p.errorf("expected CTE name")
		}
		cte := CTE{Name: p.curToken.Literal}
		p.nextToken()
		if p.curTokenIs(TokenLParen) {
			p.nextToken()
			cols, err := p.parseIdentList()
			if err != nil {
				return nil, err
			}
			cte.Columns = cols
		}
		if err := p.expectCur(TokenAs); err != nil {
			return nil, err
		}
		if err := p.expectCur(TokenLParen); err != nil {
			return nil, err
		}
		query, err := p.parseQuery()
		if err != nil {
			return nil, err
		}
		if err := p.expectCur(TokenRParen); err != nil {
			return nil, err
		}
		cte.Query = query
		ctes = append(ctes, cte)

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken() // Skip comma
	}
	return ctes, nil
}

// parseIdentList parses ident, ident, ... ) and consumes the closing paren.
func (p *Parser) parseIdentList() ([]string, error) {
	var names []string
	for {
		if !p.curTokenIs(TokenIdent) {
			return nil, p.errorf("expected identifier")
		}
		names = append(names, p.curToken.Literal)
		p.nextToken()
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if err := p.expectCur(TokenRParen); err != nil {
		return nil, err
	}
	return names, nil
}

// parseSetExpression parses UNION and EXCEPT chains, left associative.
func (p *Parser) parseSetExpression() (Statement, error) {
	left, err := p.parseIntersection()
	if err != nil {
		return nil, err
	}
	for p.curTokenIs(TokenUnion) || p.curTokenIs(TokenExcept) {
		op := SetUnion
		if p.curTokenIs(TokenExcept) {
			op = SetExcept
		}
		p.nextToken()
		all := p.parseSetQuantifier()
		right, err := p.parseIntersection()
		if err != nil {
			return nil, err
		}
		left = &SetStatement{Op: op, All: all, Left: left, Right: right}
	}
	return left, nil
}

// parseIntersection parses INTERSECT chains, which bind tighter than UNION.
func (p *Parser) parseIntersection() (Statement, error) {
	left, err := p.parseQueryPrimary()
	if err != nil {
		return nil, err
	}
	for p.curTokenIs(TokenIntersect) {
		p.nextToken()
		all := p.parseSetQuantifier()
		right, err := p.parseQueryPrimary()
		if err != nil {
			return nil, err
		}
		left = &SetStatement{Op: SetIntersect, All: all, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseSetQuantifier() bool {
	if p.curTokenIs(TokenAll) {
		p.nextToken()
		return true
	}
	if p.curTokenIs(TokenDistinct) {
		p.nextToken()
	}
	return false
}

// parseQueryPrimary parses a SELECT core or a parenthesized query.
func (p *Parser) parseQueryPrimary() (Statement, error) {
	switch p.curToken.Type {
	case TokenSelect:
		return p.parseSelectStatement()
	case TokenLParen:
		p.nextToken()
		query, err := p.parseQuery()
		if err != nil {
			return nil, err
		}
		if err := p.expectCur(TokenRParen); err != nil {
			return nil, err
		}
		return query, nil
	default:
		return nil, p.errorf("expected SELECT")
	}
}

// parseSelectStatement parses a SELECT statement without its ORDER BY and
// LIMIT tail, which belongs to the enclosing query.
func (p *Parser) parseSelectStatement() (*SelectStatement, error) {
	stmt := &SelectStatement{}

	// Skip SELECT
	p.nextToken()

	// Check for DISTINCT
	if p.curTokenIs(TokenDistinct) {
		stmt.Distinct = true
		p.nextToken()
	} else if p.curTokenIs(TokenAll) {
		p.nextToken()
	}

	// Parse columns
	columns, err := p.parseSelectColumns()
	if err != nil {
		return nil, err
	}
	stmt.Columns = columns

	// Parse FROM clause
	if p.curTokenIs(TokenFrom) {
		p.nextToken()
		from, err := p.parseFromClause()
		if err != nil {
			return nil, err
		}
		stmt.From = from
	}

	// Parse WHERE clause
	if p.curTokenIs(TokenWhere) {
		p.nextToken()
		where, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	// Parse GROUP BY clause
	if p.curTokenIs(TokenGroupBy) {
		p.nextToken()
		if err := p.expectCur(TokenBy); err != nil {
			return nil, err
		}
		groupBy, err := p.parseExpressionList()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = groupBy
	}

	// Parse HAVING clause
	if p.curTokenIs(TokenHaving) {
		p.nextToken()
		having, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		stmt.Having = having
	}

	return stmt, nil
}

// parseTail parses ORDER BY, LIMIT and OFFSET.
func (p *Parser) parseTail() ([]OrderByClause, *int64, *int64, error) {
	var orderBy []OrderByClause
	var limit, offset *int64

	// Parse ORDER BY clause
	if p.curTokenIs(TokenOrderBy) {
		p.nextToken()
		if err := p.expectCur(TokenBy); err != nil {
			return nil, nil, nil, err
		}
		clauses, err := p.parseOrderByList()
		if err != nil {
			return nil, nil, nil, err
		}
		orderBy = clauses
	}

	// Parse LIMIT clause
	if p.curTokenIs(TokenLimit) {
		p.nextToken()
		n, err := p.parseCount("LIMIT")
		if err != nil {
			return nil, nil, nil, err
		}
		limit = &n
	}

	// Parse OFFSET clause
	if p.curTokenIs(TokenOffset) {
		p.nextToken()
		n, err := p.parseCount("OFFSET")
		if err != nil {
			return nil, nil, nil, err
		}
		offset = &n
	}

	return orderBy, limit, offset, nil
}

func (p *Parser) parseCount(clause string) (int64, error) {
	if !p.curTokenIs(TokenNumber) {
		return 0, p.errorf("expected number after %s", clause)
	}
	n, err := strconv.ParseInt(p.curToken.Literal, 10, 64)
	if err != nil || n < 0 {
		return 0, p.errorf("invalid %s value", clause)
	}
	p.nextToken()
	return n, nil
}

// parseSelectColumns parses the column list in a SELECT statement.
func (p *Parser) parseSelectColumns() ([]SelectColumn, error) {
	var columns []SelectColumn

	for {
		col, err := p.parseSelectColumn()
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken() // Skip comma
	}

	return columns, nil
}

// parseSelectColumn parses a single column in the SELECT clause.
func (p *Parser) parseSelectColumn() (SelectColumn, error) {
	col := SelectColumn{}

	// Check for *
	if p.curTokenIs(TokenStar) {
		col.Expr = &StarExpr{}
		p.nextToken()
		return col, nil
	}

	// Parse expression
	expr, err := p.parseExpression(precLowest)
	if err != nil {
		return col, err
	}
	col.Expr = expr

	alias, err := p.parseAlias()
	if err != nil {
		return col, err
	}
	col.Alias = alias
	return col, nil
}

// parseAlias parses an optional [AS] alias.
func (p *Parser) parseAlias() (string, error) {
	if p.curTokenIs(TokenAs) {
		p.nextToken()
		if !p.curTokenIs(TokenIdent) && !p.curTokenIs(TokenString) {
			return "", p.errorf("expected identifier after AS")
		}
		alias := p.curToken.Literal
		p.nextToken()
		return alias, nil
	}
	if p.curTokenIs(TokenIdent) {
		// Alias without AS
		alias := p.curToken.Literal
		p.nextToken()
		return alias, nil
	}
	return "", nil
}

// parseFromClause parses comma separated FROM items, each a join chain.
// Commas are cross joins.
func (p *Parser) parseFromClause() (TableExpr, error) {
	left, err := p.parseJoinChain()
	if err != nil {
		return nil, err
	}
	for p.curTokenIs(TokenComma) {
		p.nextToken()
		right, err := p.parseJoinChain()
		if err != nil {
			return nil, err
		}
		left = &JoinExpr{Left: left, Right: right, Kind: JoinCross}
	}
	return left, nil
}

func (p *Parser) parseJoinChain() (TableExpr, error) {
	left, err := p.parseTablePrimary()
	if err != nil {
		return nil, err
	}
	for {
		kind, ok, err := p.parseJoinKind()
		if err != nil {
			return nil, err
		}
		if !ok {
			return left, nil
		}
		right, err := p.parseTablePrimary()
		if err != nil {
			return nil, err
		}
		join := &JoinExpr{Left: left, Right: right, Kind: kind}
		switch {
		case kind == JoinCross:
		case p.curTokenIs(TokenOn):
			p.nextToken()
			on, err := p.parseExpression(precLowest)
			if err != nil {
				return nil, err
			}
			join.On = on
		case p.curTokenIs(TokenUsing):
			p.nextToken()
			if err := p.expectCur(TokenLParen); err != nil {
				return nil, err
			}
			cols, err := p.parseIdentList()
			if err != nil {
				return nil, err
			}
			join.Using = cols
		default:
			return nil, p.errorf("expected ON or USING")
		}
		left = join
	}
}

// parseJoinKind consumes a join keyword sequence, if any.
func (p *Parser) parseJoinKind() (JoinKind, bool, error) {
	kind := JoinInner
	switch p.curToken.Type {
	case TokenJoin:
		p.nextToken()
		return JoinInner, true, nil
	case TokenInner:
	case TokenLeft:
		kind = JoinLeft
	case TokenRight:
		kind = JoinRight
	case TokenFull:
		kind = JoinFull
	case TokenCross:
		kind = JoinCross
	default:
		return "", false, nil
	}
	p.nextToken()
	if p.curTokenIs(TokenOuter) && kind != JoinInner && kind != JoinCross {
		p.nextToken()
	}
	if err := p.expectCur(TokenJoin); err != nil {
		return "", false, err
	}
	return kind, true, nil
}

// parseTablePrimary parses a table path, a derived table or a parenthesized
// join.
func (p *Parser) parseTablePrimary() (TableExpr, error) {
	if p.curTokenIs(TokenLParen) {
		if p.peekTokenIs(TokenSelect) || p.peekTokenIs(TokenWith) || p.peekTokenIs(TokenLParen) {
			p.nextToken()
			query, err := p.parseQuery()
			if err != nil {
				return nil, err
			}
			if err := p.expectCur(TokenRParen); err != nil {
				return nil, err
			}
			alias, err := p.parseAlias()
			if err != nil {
				return nil, err
			}
			return &SubqueryRef{Query: query, Alias: alias}, nil
		}
		p.nextToken()
		inner, err := p.parseFromClause()
		if err != nil {
			return nil, err
		}
		if err := p.expectCur(TokenRParen); err != nil {
			return nil, err
		}
		return inner, nil
	}

	if !p.curTokenIs(TokenIdent) {
		return nil, p.errorf("expected table name")
	}
	ref := &TableRef{Path: []string{p.curToken.Literal}}
	p.nextToken()
	for p.curTokenIs(TokenDot) {
		p.nextToken()
		if !p.curTokenIs(TokenIdent) {
			return nil, p.errorf("expected identifier after dot")
		}
		ref.Path = append(ref.Path, p.curToken.Literal)
		p.nextToken()
	}

	alias, err := p.parseAlias()
	if err != nil {
		return nil, err
	}
	ref.Alias = alias
	return ref, nil
}

// parseExpressionList parses a comma-separated list of expressions.
func (p *Parser) parseExpressionList() ([]Expression, error) {
	var exprs []Expression

	for {
		expr, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken() // Skip comma
	}

	return exprs, nil
}

// parseOrderByList parses the ORDER BY clause items.
func (p *Parser) parseOrderByList() ([]OrderByClause, error) {
	var clauses []OrderByClause

	for {
		expr, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}

		clause := OrderByClause{Expr: expr}

		// Check for ASC/DESC
		if p.curTokenIs(TokenAsc) {
			p.nextToken()
		} else if p.curTokenIs(TokenDesc) {
			clause.Desc = true
			p.nextToken()
		}

		clauses = append(clauses, clause)

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken() // Skip comma
	}

	return clauses, nil
}

// Operator precedence levels
const (
	precLowest  = 0
	precOr      = 1
	precAnd     = 2
	precNot     = 3
	precCompare = 4
	precAdd     = 5
	precMul     = 6
	precUnary   = 7
)

// getPrecedence returns the precedence of the current token.
func (p *Parser) getPrecedence() int {
	switch p.curToken.Type {
	case TokenOr:
		return precOr
	case TokenAnd:
		return precAnd
	case TokenEq, TokenNe, TokenLt, TokenGt, TokenLe, TokenGe, TokenLike, TokenILike, TokenIn, TokenBetween, TokenIs:
		return precCompare
	case TokenNot:
		// Only reachable in infix position: NOT IN, NOT LIKE, NOT BETWEEN.
		return precCompare
	case TokenPlus, TokenMinus, TokenConcat:
		return precAdd
	case TokenStar, TokenSlash, TokenPercent:
		return precMul
	default:
		return precLowest
	}
}

// parseExpression parses an expression with operator precedence.
func (p *Parser) parseExpression(precedence int) (Expression, error) {
	// Parse prefix expression
	left, err := p.parsePrefixExpression()
	if err != nil {
		return nil, err
	}

	// Parse infix expressions
	for !p.curTokenIs(TokenEOF) && precedence < p.getPrecedence() {
		left, err = p.parseInfixExpression(left)
		if err != nil {
			return nil, err
		}
	}

	return left, nil
}

// parsePrefixExpression parses a prefix expression.
func (p *Parser) parsePrefixExpression() (Expression, error) {
	switch p.curToken.Type {
	case TokenIdent, TokenLeft, TokenRight:
		return p.parseIdentifierOrFunction()
	case TokenNumber:
		return p.parseNumber()
	case TokenString:
		return p.parseString()
	case TokenNull:
		p.nextToken()
		return &Literal{Value: nil}, nil
	case TokenTrue, TokenFalse:
		v := p.curTokenIs(TokenTrue)
		p.nextToken()
		return &Literal{Value: v}, nil
	case TokenLParen:
		return p.parseGroupedExpression()
	case TokenNot:
		return p.parseNotExpression()
	case TokenMinus:
		return p.parseUnaryMinus()
	case TokenPlus:
		p.nextToken()
		return p.parseExpression(precUnary)
	case TokenCase:
		return p.parseCaseExpression()
	case TokenCast:
		return p.parseCastExpression()
	case TokenStar:
		star := &StarExpr{}
		p.nextToken()
		return star, nil
	default:
		return nil, p.errorf("unexpected token in expression")
	}
}

// parseIdentifierOrFunction parses a column reference, possibly qualified,
// or a function call.
func (p *Parser) parseIdentifierOrFunction() (Expression, error) {
	name := p.curToken.Literal
	quoted := p.curToken.Quoted
	p.nextToken()

	// Check for function call
	if p.curTokenIs(TokenLParen) && !quoted {
		return p.parseFunctionCall(name)
	}

	parts := []string{name}
	for p.curTokenIs(TokenDot) {
		p.nextToken()
		if p.curTokenIs(TokenStar) {
			// table.*
			star := &StarExpr{Table: strings.Join(parts, ".")}
			p.nextToken()
			return star, nil
		}
		if !p.curTokenIs(TokenIdent) {
			return nil, p.errorf("expected column name after dot")
		}
		parts = append(parts, p.curToken.Literal)
		p.nextToken()
	}

	if len(parts) == 1 {
		// Simple column reference
		return &ColumnRef{Column: name}, nil
	}
	return &ColumnRef{Table: strings.Join(parts[:len(parts)-1], "."), Column: parts[len(parts)-1]}, nil
}

// parseFunctionCall parses a function call; aggregates become AggregateExpr.
func (p *Parser) parseFunctionCall(name string) (Expression, error) {
	p.nextToken() // Skip (

	upperName := strings.ToUpper(name)
	if canonical, ok := aggregateNames[upperName]; ok {
		return p.parseAggregateArgs(canonical)
	}

	// Regular function call
	var args []Expression
	if !p.curTokenIs(TokenRParen) {
		list, err := p.parseExpressionList()
		if err != nil {
			return nil, err
		}
		args = list
	}

	if !p.curTokenIs(TokenRParen) {
		return nil, p.errorf("expected ) after function arguments")
	}
	p.nextToken()

	return &FunctionCall{Name: upperName, Args: args}, nil
}

// parseAggregateArgs parses the arguments of an aggregate function.
func (p *Parser) parseAggregateArgs(funcName string) (Expression, error) {
	agg := &AggregateExpr{Function: funcName}

	// Check for DISTINCT
	if p.curTokenIs(TokenDistinct) {
		agg.Distinct = true
		p.nextToken()
	} else if p.curTokenIs(TokenAll) {
		p.nextToken()
	}

	// Check for * (COUNT(*))
	if p.curTokenIs(TokenStar) {
		if funcName != "COUNT" {
			return nil, p.errorf("* is only allowed in COUNT")
		}
		agg.Arg = &StarExpr{}
		p.nextToken()
	} else if !p.curTokenIs(TokenRParen) {
		arg, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		agg.Arg = arg
	} else {
		return nil, p.errorf("expected argument to %s", funcName)
	}

	if !p.curTokenIs(TokenRParen) {
		return nil, p.errorf("expected ) after aggregate argument")
	}
	p.nextToken()

	return agg, nil
}

// parseNumber parses a numeric literal.
func (p *Parser) parseNumber() (Expression, error) {
	literal := p.curToken.Literal

	// Try parsing as int64 first
	if !strings.ContainsAny(literal, ".eE") {
		val, err := strconv.ParseInt(literal, 10, 64)
		if err == nil {
			p.nextToken()
			return &Literal{Value: val}, nil
		}
	}

	// Parse as float64
	val, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return nil, p.errorf("invalid number")
	}
	p.nextToken()
	return &Literal{Value: val}, nil
}

// parseString parses a string literal. The lexer has already unescaped it.
func (p *Parser) parseString() (Expression, error) {
	val := p.curToken.Literal
	p.nextToken()
	return &Literal{Value: val}, nil
}

// parseGroupedExpression parses a parenthesized expression.
func (p *Parser) parseGroupedExpression() (Expression, error) {
	p.nextToken() // Skip (

	if p.curTokenIs(TokenSelect) || p.curTokenIs(TokenWith) {
		return nil, &ParseError{
			Message:  "scalar subqueries are not supported",
			Position: p.curToken.Pos,
			Token:    p.curToken,
		}
	}

	expr, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}

	if !p.curTokenIs(TokenRParen) {
		return nil, p.errorf("expected )")
	}
	p.nextToken()

	return &ParenExpr{Expr: expr}, nil
}

// parseNotExpression parses a NOT expression.
func (p *Parser) parseNotExpression() (Expression, error) {
	p.nextToken() // Skip NOT

	expr, err := p.parseExpression(precNot)
	if err != nil {
		return nil, err
	}

	return &UnaryExpr{Operator: "NOT", Operand: expr}, nil
}

// parseUnaryMinus parses a unary minus expression. Negative numeric literals
// fold into the literal.
func (p *Parser) parseUnaryMinus() (Expression, error) {
	p.nextToken() // Skip -

	expr, err := p.parseExpression(precUnary)
	if err != nil {
		return nil, err
	}
	if lit, ok := expr.(*Literal); ok {
		switch v := lit.Value.(type) {
		case int64:
			return &Literal{Value: -v}, nil
		case float64:
			return &Literal{Value: -v}, nil
		}
	}

	return &UnaryExpr{Operator: "-", Operand: expr}, nil
}

// parseCaseExpression parses CASE [operand] WHEN c THEN r ... [ELSE e] END.
func (p *Parser) parseCaseExpression() (Expression, error) {
	p.nextToken() // Skip CASE
	c := &CaseExpr{}
	if !p.curTokenIs(TokenWhen) {
		operand, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		c.Operand = operand
	}
	for p.curTokenIs(TokenWhen) {
		p.nextToken()
		cond, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		if err := p.expectCur(TokenThen); err != nil {
			return nil, err
		}
		result, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, WhenClause{Cond: cond, Result: result})
	}
	if len(c.Whens) == 0 {
		return nil, p.errorf("expected WHEN")
	}
	if p.curTokenIs(TokenElse) {
		p.nextToken()
		e, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		c.Else = e
	}
	if err := p.expectCur(TokenEnd); err != nil {
		return nil, err
	}
	return c, nil
}

// parseCastExpression parses CAST(expr AS type name). Type parameters such
// as VARCHAR(10) are dropped.
func (p *Parser) parseCastExpression() (Expression, error) {
	p.nextToken() // Skip CAST
	if err := p.expectCur(TokenLParen); err != nil {
		return nil, err
	}
	expr, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	if err := p.expectCur(TokenAs); err != nil {
		return nil, err
	}
	var words []string
	for p.curTokenIs(TokenIdent) {
		words = append(words, strings.ToUpper(p.curToken.Literal))
		p.nextToken()
	}
	if len(words) == 0 {
		return nil, p.errorf("expected type name in CAST")
	}
	if p.curTokenIs(TokenLParen) {
		for !p.curTokenIs(TokenRParen) && !p.curTokenIs(TokenEOF) {
			p.nextToken()
		}
		if err := p.expectCur(TokenRParen); err != nil {
			return nil, err
		}
	}
	if err := p.expectCur(TokenRParen); err != nil {
		return nil, err
	}
	return &CastExpr{Expr: expr, Type: strings.Join(words, " ")}, nil
}

// parseInfixExpression parses an infix expression.
func (p *Parser) parseInfixExpression(left Expression) (Expression, error) {
	switch p.curToken.Type {
	case TokenAnd, TokenOr:
		return p.parseBinaryExpression(left)
	case TokenEq, TokenNe, TokenLt, TokenGt, TokenLe, TokenGe:
		return p.parseBinaryExpression(left)
	case TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenPercent, TokenConcat:
		return p.parseBinaryExpression(left)
	case TokenLike:
		return p.parseLikeExpression(left, false, false)
	case TokenILike:
		return p.parseLikeExpression(left, false, true)
	case TokenIn:
		return p.parseInExpression(left, false)
	case TokenBetween:
		return p.parseBetweenExpression(left, false)
	case TokenIs:
		return p.parseIsExpression(left)
	case TokenNot:
		return p.parseNotInfix(left)
	default:
		return left, nil
	}
}

// parseBinaryExpression parses a binary expression.
func (p *Parser) parseBinaryExpression(left Expression) (Expression, error) {
	op := p.curToken.Literal
	if op == "!=" {
		op = "<>"
	}
	precedence := p.getPrecedence()
	p.nextToken()

	right, err := p.parseExpression(precedence)
	if err != nil {
		return nil, err
	}

	return &BinaryExpr{Left: left, Operator: op, Right: right}, nil
}

// parseLikeExpression parses a LIKE or ILIKE expression.
func (p *Parser) parseLikeExpression(left Expression, not, insensitive bool) (Expression, error) {
	p.nextToken() // Skip LIKE

	pattern, err := p.parseExpression(precCompare)
	if err != nil {
		return nil, err
	}

	return &LikeExpr{Expr: left, Pattern: pattern, Not: not, CaseInsensitive: insensitive}, nil
}

// parseInExpression parses an IN expression.
func (p *Parser) parseInExpression(left Expression, not bool) (Expression, error) {
	p.nextToken() // Skip IN

	if !p.curTokenIs(TokenLParen) {
		return nil, p.errorf("expected ( after IN")
	}
	p.nextToken()

	if p.curTokenIs(TokenSelect) {
		return nil, p.errorf("IN subqueries are not supported")
	}

	values, err := p.parseExpressionList()
	if err != nil {
		return nil, err
	}

	if !p.curTokenIs(TokenRParen) {
		return nil, p.errorf("expected ) after IN values")
	}
	p.nextToken()

	return &InExpr{Expr: left, Values: values, Not: not}, nil
}

// parseBetweenExpression parses a BETWEEN expression.
func (p *Parser) parseBetweenExpression(left Expression, not bool) (Expression, error) {
	p.nextToken() // Skip BETWEEN

	low, err := p.parseExpression(precCompare)
	if err != nil {
		return nil, err
	}

	if !p.curTokenIs(TokenAnd) {
		return nil, p.errorf("expected AND in BETWEEN expression")
	}
	p.nextToken()

	high, err := p.parseExpression(precCompare)
	if err != nil {
		return nil, err
	}

	return &BetweenExpr{Expr: left, Low: low, High: high, Not: not}, nil
}

// parseIsExpression parses an IS NULL or IS NOT NULL expression.
func (p *Parser) parseIsExpression(left Expression) (Expression, error) {
	p.nextToken() // Skip IS

	not := false
	if p.curTokenIs(TokenNot) {
		not = true
		p.nextToken()
	}

	if !p.curTokenIs(TokenNull) {
		return nil, p.errorf("expected NULL after IS")
	}
	p.nextToken()

	return &IsNullExpr{Expr: left, Not: not}, nil
}

// parseNotInfix parses NOT IN, NOT LIKE, NOT ILIKE, NOT BETWEEN.
func (p *Parser) parseNotInfix(left Expression) (Expression, error) {
	p.nextToken() // Skip NOT

	switch p.curToken.Type {
	case TokenIn:
		return p.parseInExpression(left, true)
	case TokenLike:
		return p.parseLikeExpression(left, true, false)
	case TokenILike:
		return p.parseLikeExpression(left, true, true)
	case TokenBetween:
		return p.parseBetweenExpression(left, true)
	default:
		return nil, p.errorf("expected IN, LIKE, or BETWEEN after NOT")
	}
}
