// Package parser provides the SQL front-end of the rewriting engine: a
// dialect-aware lexer, the statement AST and a precedence-climbing parser.
package parser

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/qrlew/qrlew-go/internal/dialect"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenIdent
	TokenNumber
	TokenString

	// Keywords
	TokenSelect
	TokenFrom
	TokenWhere
	TokenGroupBy
	TokenOrderBy
	TokenLimit
	TokenAnd
	TokenOr
	TokenNot
	TokenIn
	TokenBetween
	TokenAs
	TokenAsc
	TokenDesc
	TokenNull
	TokenIs
	TokenLike
	TokenILike
	TokenDistinct
	TokenBy
	TokenHaving
	TokenOffset
	TokenWith
	TokenJoin
	TokenInner
	TokenLeft
	TokenRight
	TokenFull
	TokenOuter
	TokenCross
	TokenOn
	TokenUsing
	TokenUnion
	TokenIntersect
	TokenExcept
	TokenAll
	TokenCase
	TokenWhen
	TokenThen
	TokenElse
	TokenEnd
	TokenCast
	TokenTrue
	TokenFalse

	// Operators
	TokenEq        // =
	TokenNe        // <> or !=
	TokenLt        // <
	TokenGt        // >
	TokenLe        // <=
	TokenGe        // >=
	TokenPlus      // +
	TokenMinus     // -
	TokenStar      // *
	TokenSlash     // /
	TokenPercent   // %
	TokenConcat    // ||
	TokenComma     // ,
	TokenLParen    // (
	TokenRParen    // )
	TokenDot       // .
	TokenSemicolon // ;
)

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int  // Position in input
	Quoted  bool // Identifier was written between identifier quotes
}

// String returns a string representation of the token.
func (t Token) String() string {
	return fmt.Sprintf("Token{%s, %q, %d}", t.Type.String(), t.Literal, t.Pos)
}

var tokenNames = map[TokenType]string{
	TokenEOF:       "EOF",
	TokenError:     "ERROR",
	TokenIdent:     "IDENT",
	TokenNumber:    "NUMBER",
	TokenString:    "STRING",
	TokenSelect:    "SELECT",
	TokenFrom:      "FROM",
	TokenWhere:     "WHERE",
	TokenGroupBy:   "GROUP BY",
	TokenOrderBy:   "ORDER BY",
	TokenLimit:     "LIMIT",
	TokenAnd:       "AND",
	TokenOr:        "OR",
	TokenNot:       "NOT",
	TokenIn:        "IN",
	TokenBetween:   "BETWEEN",
	TokenAs:        "AS",
	TokenAsc:       "ASC",
	TokenDesc:      "DESC",
	TokenNull:      "NULL",
	TokenIs:        "IS",
	TokenLike:      "LIKE",
	TokenILike:     "ILIKE",
	TokenDistinct:  "DISTINCT",
	TokenBy:        "BY",
	TokenHaving:    "HAVING",
	TokenOffset:    "OFFSET",
	TokenWith:      "WITH",
	TokenJoin:      "JOIN",
	TokenInner:     "INNER",
	TokenLeft:      "LEFT",
	TokenRight:     "RIGHT",
	TokenFull:      "FULL",
	TokenOuter:     "OUTER",
	TokenCross:     "CROSS",
	TokenOn:        "ON",
	TokenUsing:     "USING",
	TokenUnion:     "UNION",
	TokenIntersect: "INTERSECT",
	TokenExcept:    "EXCEPT",
	TokenAll:       "ALL",
	TokenCase:      "CASE",
	TokenWhen:      "WHEN",
	TokenThen:      "THEN",
	TokenElse:      "ELSE",
	TokenEnd:       "END",
	TokenCast:      "CAST",
	TokenTrue:      "TRUE",
	TokenFalse:     "FALSE",
	TokenEq:        "=",
	TokenNe:        "<>",
	TokenLt:        "<",
	TokenGt:        ">",
	TokenLe:        "<=",
	TokenGe:        ">=",
	TokenPlus:      "+",
	TokenMinus:     "-",
	TokenStar:      "*",
	TokenSlash:     "/",
	TokenPercent:   "%",
	TokenConcat:    "||",
	TokenComma:     ",",
	TokenLParen:    "(",
	TokenRParen:    ")",
	TokenDot:       ".",
	TokenSemicolon: ";",
}

// String returns the string representation of a TokenType.
func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// keywords maps SQL keywords to their token types.
var keywords = map[string]TokenType{
	"SELECT":    TokenSelect,
	"FROM":      TokenFrom,
	"WHERE":     TokenWhere,
	"GROUP":     TokenGroupBy, // Will be combined with BY
	"ORDER":     TokenOrderBy, // Will be combined with BY
	"LIMIT":     TokenLimit,
	"AND":       TokenAnd,
	"OR":        TokenOr,
	"NOT":       TokenNot,
	"IN":        TokenIn,
	"BETWEEN":   TokenBetween,
	"AS":        TokenAs,
	"ASC":       TokenAsc,
	"DESC":      TokenDesc,
	"NULL":      TokenNull,
	"IS":        TokenIs,
	"LIKE":      TokenLike,
	"ILIKE":     TokenILike,
	"DISTINCT":  TokenDistinct,
	"BY":        TokenBy,
	"HAVING":    TokenHaving,
	"OFFSET":    TokenOffset,
	"WITH":      TokenWith,
	"JOIN":      TokenJoin,
	"INNER":     TokenInner,
	"LEFT":      TokenLeft,
	"RIGHT":     TokenRight,
	"FULL":      TokenFull,
	"OUTER":     TokenOuter,
	"CROSS":     TokenCross,
	"ON":        TokenOn,
	"USING":     TokenUsing,
	"UNION":     TokenUnion,
	"INTERSECT": TokenIntersect,
	"EXCEPT":    TokenExcept,
	"ALL":       TokenAll,
	"CASE":      TokenCase,
	"WHEN":      TokenWhen,
	"THEN":      TokenThen,
	"ELSE":      TokenElse,
	"END":       TokenEnd,
	"CAST":      TokenCast,
	"TRUE":      TokenTrue,
	"FALSE":     TokenFalse,
}

// Lexer tokenizes SQL input.
type Lexer struct {
	input   string
	pos     int  // Current position in input
	readPos int  // Reading position (after current char)
	ch      byte // Current character

	dialect dialect.Dialect
}

// NewLexer creates a new Lexer for the given input using the default dialect.
func NewLexer(input string) *Lexer {
	return NewDialectLexer(input, dialect.Default)
}

// NewDialectLexer creates a Lexer that recognizes the identifier quotes of d.
func NewDialectLexer(input string, d dialect.Dialect) *Lexer {
	l := &Lexer{input: input, dialect: d}
	l.readChar()
	return l
}

// readChar reads the next character and advances the position.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// skipWhitespace skips whitespace characters and comments.
func (l *Lexer) skipWhitespace() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for !(l.ch == '*' && l.peekChar() == '/') && l.ch != 0 {
				l.readChar()
			}
			if l.ch != 0 {
				l.readChar()
				l.readChar()
			}
		default:
			return
		}
	}
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	startPos := l.pos
	var tok Token

	open, closing := l.dialect.IdentQuotes()
	if l.ch == open && l.ch != 0 {
		return l.readQuotedIdentifier(closing)
	}
	if l.ch == '"' && l.dialect == dialect.MsSql {
		return l.readQuotedIdentifier('"')
	}

	switch l.ch {
	case '=':
		tok = Token{Type: TokenEq, Literal: "=", Pos: startPos}
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: TokenLe, Literal: "<=", Pos: startPos}
		} else if l.peekChar() == '>' {
			l.readChar()
			tok = Token{Type: TokenNe, Literal: "<>", Pos: startPos}
		} else {
			tok = Token{Type: TokenLt, Literal: "<", Pos: startPos}
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: TokenGe, Literal: ">=", Pos: startPos}
		} else {
			tok = Token{Type: TokenGt, Literal: ">", Pos: startPos}
		}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: TokenNe, Literal: "!=", Pos: startPos}
		} else {
			tok = Token{Type: TokenError, Literal: string(l.ch), Pos: startPos}
		}
	case '|':
		if l.peekChar() == '|' {
			l.readChar()
			tok = Token{Type: TokenConcat, Literal: "||", Pos: startPos}
		} else {
			tok = Token{Type: TokenError, Literal: string(l.ch), Pos: startPos}
		}
	case '+':
		tok = Token{Type: TokenPlus, Literal: "+", Pos: startPos}
	case '-':
		tok = Token{Type: TokenMinus, Literal: "-", Pos: startPos}
	case '*':
		tok = Token{Type: TokenStar, Literal: "*", Pos: startPos}
	case '/':
		tok = Token{Type: TokenSlash, Literal: "/", Pos: startPos}
	case '%':
		tok = Token{Type: TokenPercent, Literal: "%", Pos: startPos}
	case ',':
		tok = Token{Type: TokenComma, Literal: ",", Pos: startPos}
	case '(':
		tok = Token{Type: TokenLParen, Literal: "(", Pos: startPos}
	case ')':
		tok = Token{Type: TokenRParen, Literal: ")", Pos: startPos}
	case '.':
		if isDigit(l.peekChar()) {
			return l.readNumber()
		}
		tok = Token{Type: TokenDot, Literal: ".", Pos: startPos}
	case ';':
		tok = Token{Type: TokenSemicolon, Literal: ";", Pos: startPos}
	case '\'':
		tok = l.readString('\'')
	case '"':
		// Only reached when double quotes are not the dialect's identifier
		// quotes, in which case they delimit strings.
		tok = l.readString('"')
	case 0:
		tok = Token{Type: TokenEOF, Literal: "", Pos: startPos}
	default:
		if isLetter(l.ch) || l.ch == '_' {
			return l.readIdentifier()
		} else if isDigit(l.ch) {
			return l.readNumber()
		} else {
			tok = Token{Type: TokenError, Literal: string(l.ch), Pos: startPos}
		}
	}

	l.readChar()
	return tok
}

// readIdentifier reads an identifier or keyword.
func (l *Lexer) readIdentifier() Token {
	startPos := l.pos
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '$' {
		l.readChar()
	}
	literal := l.input[start:l.pos]
	upper := strings.ToUpper(literal)

	// Check for keywords
	if tokType, ok := keywords[upper]; ok {
		return Token{Type: tokType, Literal: upper, Pos: startPos}
	}

	return Token{Type: TokenIdent, Literal: literal, Pos: startPos}
}

// readQuotedIdentifier reads an identifier up to the closing quote. A doubled
// closing quote stands for itself.
func (l *Lexer) readQuotedIdentifier(closing byte) Token {
	startPos := l.pos
	l.readChar() // Skip opening quote

	var sb strings.Builder
	for {
		if l.ch == 0 {
			return Token{Type: TokenError, Literal: "unterminated quoted identifier", Pos: startPos}
		}
		if l.ch == closing {
			if l.peekChar() == closing {
				sb.WriteByte(closing)
				l.readChar()
				l.readChar()
				continue
			}
			break
		}
		sb.WriteByte(l.ch)
		l.readChar()
	}
	l.readChar() // Skip closing quote
	return Token{Type: TokenIdent, Literal: sb.String(), Pos: startPos, Quoted: true}
}

// readNumber reads a numeric literal, with an optional fraction and exponent.
func (l *Lexer) readNumber() Token {
	startPos := l.pos
	start := l.pos
	hasDecimal := false

	for isDigit(l.ch) || (l.ch == '.' && !hasDecimal) {
		if l.ch == '.' {
			hasDecimal = true
		}
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}

	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: startPos}
}

// readString reads a string literal enclosed in quote. A doubled quote is an
// escaped quote and the literal carries it unescaped.
func (l *Lexer) readString(quote byte) Token {
	startPos := l.pos
	l.readChar() // Skip opening quote

	var sb strings.Builder
	for {
		if l.ch == 0 {
			return Token{Type: TokenError, Literal: "unterminated string", Pos: startPos}
		}
		if l.ch == quote {
			if l.peekChar() == quote {
				sb.WriteByte(quote)
				l.readChar()
				l.readChar()
				continue
			}
			break
		}
		sb.WriteByte(l.ch)
		l.readChar()
	}

	// Don't call readChar here - it will be called by NextToken
	return Token{Type: TokenString, Literal: sb.String(), Pos: startPos}
}

// Tokenize returns all tokens from the input.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return tokens
}

// isLetter returns true if the character is a letter.
func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || ch >= 0x80
}

// isDigit returns true if the character is a digit.
func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
