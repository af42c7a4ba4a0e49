package expr

// Operator and function names. Operators use their SQL spelling so that the
// default rendering reads naturally.
const (
	FnPlus     = "+"
	FnMinus    = "-"
	FnMultiply = "*"
	FnDivide   = "/"
	FnModulo   = "%"
	FnConcatOp = "||"
	FnEq       = "="
	FnNe       = "<>"
	FnLt       = "<"
	FnGt       = ">"
	FnLe       = "<="
	FnGe       = ">="
	FnAnd      = "AND"
	FnOr       = "OR"
	FnNot      = "NOT"
	FnNeg      = "NEG"

	FnIn        = "IN"
	FnNotIn     = "NOT IN"
	FnLike      = "LIKE"
	FnILike     = "ILIKE"
	FnNotLike   = "NOT LIKE"
	FnNotILike  = "NOT ILIKE"
	FnIsNull    = "IS NULL"
	FnIsNotNull = "IS NOT NULL"
	FnCase      = "CASE"
	FnCast      = "CAST"

	FnAbs      = "ABS"
	FnRound    = "ROUND"
	FnFloor    = "FLOOR"
	FnCeil     = "CEIL"
	FnSqrt     = "SQRT"
	FnLn       = "LN"
	FnLog      = "LOG"
	FnExp      = "EXP"
	FnPower    = "POWER"
	FnCos      = "COS"
	FnPi       = "PI"
	FnLeast    = "LEAST"
	FnGreatest = "GREATEST"
	FnCoalesce = "COALESCE"
	FnLower    = "LOWER"
	FnUpper    = "UPPER"
	FnLength   = "LENGTH"
	FnConcat   = "CONCAT"
	FnSubstr   = "SUBSTR"
	FnMd5      = "MD5"
	FnRandom   = "RANDOM"
	FnYear     = "YEAR"
	FnMonth    = "MONTH"
	FnDay      = "DAY"
)

// Canonical CAST targets.
const (
	TypeInteger  = "INTEGER"
	TypeFloat    = "FLOAT"
	TypeText     = "TEXT"
	TypeBoolean  = "BOOLEAN"
	TypeDate     = "DATE"
	TypeDatetime = "DATETIME"
)

var binaryOperators = map[string]bool{
	FnPlus: true, FnMinus: true, FnMultiply: true, FnDivide: true, FnModulo: true, FnConcatOp: true,
	FnEq: true, FnNe: true, FnLt: true, FnGt: true, FnLe: true, FnGe: true,
	FnAnd: true, FnOr: true,
	FnLike: true, FnILike: true, FnNotLike: true, FnNotILike: true,
}

// arity bounds for named scalar functions; -1 means variadic.
var scalarArity = map[string][2]int{
	FnAbs:      {1, 1},
	FnRound:    {1, 2},
	FnFloor:    {1, 1},
	FnCeil:     {1, 1},
	FnSqrt:     {1, 1},
	FnLn:       {1, 1},
	FnLog:      {1, 1},
	FnExp:      {1, 1},
	FnPower:    {2, 2},
	FnCos:      {1, 1},
	FnPi:       {0, 0},
	FnLeast:    {1, -1},
	FnGreatest: {1, -1},
	FnCoalesce: {1, -1},
	FnLower:    {1, 1},
	FnUpper:    {1, 1},
	FnLength:   {1, 1},
	FnConcat:   {1, -1},
	FnSubstr:   {2, 3},
	FnMd5:      {1, 1},
	FnRandom:   {0, 0},
	FnYear:     {1, 1},
	FnMonth:    {1, 1},
	FnDay:      {1, 1},
}

// functionAliases maps accepted spellings to canonical names.
var functionAliases = map[string]string{
	"CEILING":     FnCeil,
	"POW":         FnPower,
	"LOG10":       FnLog,
	"SUBSTRING":   FnSubstr,
	"LEN":         FnLength,
	"CHAR_LENGTH": FnLength,
	"RAND":        FnRandom,
	"IFNULL":      FnCoalesce,
	"NVL":         FnCoalesce,
}

// CanonicalFunction resolves a function spelling. The second result is false
// for unknown functions.
func CanonicalFunction(name string) (string, bool) {
	if c, ok := functionAliases[name]; ok {
		name = c
	}
	_, ok := scalarArity[name]
	return name, ok
}

// castTargets maps written type names to canonical CAST targets.
var castTargets = map[string]string{
	"INTEGER": TypeInteger, "INT": TypeInteger, "BIGINT": TypeInteger, "SMALLINT": TypeInteger,
	"INT64": TypeInteger, "SIGNED": TypeInteger, "INT4": TypeInteger, "INT8": TypeInteger,
	"FLOAT": TypeFloat, "DOUBLE": TypeFloat, "DOUBLE PRECISION": TypeFloat, "REAL": TypeFloat,
	"FLOAT64": TypeFloat, "NUMERIC": TypeFloat, "DECIMAL": TypeFloat, "FLOAT8": TypeFloat,
	"TEXT": TypeText, "VARCHAR": TypeText, "CHAR": TypeText, "STRING": TypeText,
	"CHARACTER VARYING": TypeText, "NVARCHAR": TypeText,
	"BOOLEAN": TypeBoolean, "BOOL": TypeBoolean, "BIT": TypeBoolean,
	"DATE": TypeDate, "TIMESTAMP": TypeDatetime, "DATETIME": TypeDatetime, "DATETIME2": TypeDatetime,
}

// CanonicalCastType resolves a written type name.
func CanonicalCastType(name string) (string, bool) {
	c, ok := castTargets[name]
	return c, ok
}
