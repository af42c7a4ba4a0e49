package expr

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/qrlew/qrlew-go/internal/datatype"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

// TypeOf infers the type of e over rows of input. Numeric results carry the
// tightest bounds interval arithmetic gives; enumerated domains are kept
// where the function maps them exactly.
func TypeOf(e Expr, input datatype.Struct) (datatype.DataType, error) {
	switch x := e.(type) {
	case *Column:
		f, ok := input.Field(x.Name)
		if !ok {
			return nil, qerrors.NewFieldNotFound(x.Name)
		}
		return f.Type, nil
	case *Value:
		return ValueType(x.V), nil
	case *RowNumber:
		for _, p := range x.PartitionBy {
			if _, err := TypeOf(p, input); err != nil {
				return nil, err
			}
		}
		for _, o := range x.OrderBy {
			if _, err := TypeOf(o.Expr, input); err != nil {
				return nil, err
			}
		}
		return datatype.IntegerRange(1, math.MaxInt64), nil
	case *Function:
		args := make([]datatype.DataType, len(x.Args))
		for i, a := range x.Args {
			t, err := TypeOf(a, input)
			if err != nil {
				return nil, err
			}
			args[i] = t
		}
		return functionType(x, args)
	}
	return nil, qerrors.NewInternalError("unknown expression", nil)
}

// ValueType is the singleton type of a literal.
func ValueType(v interface{}) datatype.DataType {
	switch x := v.(type) {
	case int64:
		return datatype.IntegerValues(x)
	case float64:
		return datatype.FloatRange(x, x)
	case string:
		return datatype.TextValues(x)
	case bool:
		return datatype.BooleanValues(x)
	}
	return datatype.Null{}
}

func functionType(f *Function, args []datatype.DataType) (datatype.DataType, error) {
	switch f.Name {
	case FnCase:
		return caseType(args)
	case FnCoalesce:
		return coalesceType(args)
	case FnIsNull, FnIsNotNull:
		if !datatype.IsOptional(args[0]) {
			return datatype.BooleanValues(f.Name == FnIsNotNull), nil
		}
		return datatype.NewBoolean(), nil
	case FnAnd, FnOr, FnNot:
		return logicType(f.Name, args)
	}

	// Everything below is strict: NULL in, NULL out.
	optional := false
	inner := make([]datatype.DataType, len(args))
	for i, a := range args {
		if _, isNull := a.(datatype.Null); isNull {
			return datatype.Null{}, nil
		}
		var opt bool
		inner[i], opt = datatype.Unwrap(a)
		optional = optional || opt
	}
	t, err := strictType(f, inner)
	if err != nil {
		return nil, err
	}
	if optional {
		return datatype.NewOptional(t), nil
	}
	return t, nil
}

func strictType(f *Function, args []datatype.DataType) (datatype.DataType, error) {
	if arity, ok := scalarArity[f.Name]; ok {
		if len(args) < arity[0] || (arity[1] >= 0 && len(args) > arity[1]) {
			return nil, qerrors.NewTypeMismatch("wrong number of arguments for %s: %d", f.Name, len(args))
		}
	}
	switch f.Name {
	case FnPlus, FnMinus, FnMultiply, FnDivide, FnModulo:
		return arithmeticType(f.Name, args[0], args[1])
	case FnNeg:
		iv, isInt, err := numeric(FnNeg, args[0])
		if err != nil {
			return nil, err
		}
		return numericResult(iv.Neg(), isInt), nil
	case FnEq, FnNe, FnLt, FnGt, FnLe, FnGe:
		if !comparableTypes(args[0], args[1]) {
			return nil, qerrors.NewTypeMismatch("cannot compare %s with %s", args[0], args[1])
		}
		return comparisonType(f.Name, args[0], args[1]), nil
	case FnIn, FnNotIn:
		for _, a := range args[1:] {
			if !comparableTypes(args[0], a) {
				return nil, qerrors.NewTypeMismatch("cannot compare %s with %s", args[0], a)
			}
		}
		return datatype.NewBoolean(), nil
	case FnLike, FnILike, FnNotLike, FnNotILike:
		for _, a := range args {
			if !textLike(a) {
				return nil, qerrors.NewTypeMismatch("%s expects text, got %s", f.Name, a)
			}
		}
		return datatype.NewBoolean(), nil
	case FnConcatOp, FnConcat:
		return concatType(args), nil
	case FnCast:
		return castType(args[0], f.CastTo)
	case FnAbs:
		iv, isInt, err := numeric(f.Name, args[0])
		if err != nil {
			return nil, err
		}
		return numericResult(iv.Abs(), isInt), nil
	case FnFloor, FnCeil, FnRound:
		iv, isInt, err := numeric(f.Name, args[0])
		if err != nil {
			return nil, err
		}
		if isInt {
			return args[0], nil
		}
		switch {
		case f.Name == FnFloor:
			iv = iv.Map(math.Floor)
		case f.Name == FnCeil:
			iv = iv.Map(math.Ceil)
		case len(args) == 1:
			iv = iv.Map(math.Round)
		default:
			iv = iv.Add(datatype.Interval{Lo: -0.5, Hi: 0.5})
		}
		return iv.AsFloat(), nil
	case FnSqrt:
		iv, _, err := numeric(f.Name, args[0])
		if err != nil {
			return nil, err
		}
		return iv.Map(func(v float64) float64 { return math.Sqrt(math.Max(v, 0)) }).AsFloat(), nil
	case FnLn, FnLog:
		iv, _, err := numeric(f.Name, args[0])
		if err != nil {
			return nil, err
		}
		if iv.Hi <= 0 {
			return datatype.NewFloat(), nil
		}
		log := math.Log
		if f.Name == FnLog {
			log = math.Log10
		}
		lo := math.Inf(-1)
		if iv.Lo > 0 {
			lo = log(iv.Lo)
		}
		return datatype.FloatRange(lo, log(iv.Hi)), nil
	case FnExp:
		iv, _, err := numeric(f.Name, args[0])
		if err != nil {
			return nil, err
		}
		return iv.Map(math.Exp).AsFloat(), nil
	case FnPower:
		base, _, err := numeric(f.Name, args[0])
		if err != nil {
			return nil, err
		}
		exponent, _, err := numeric(f.Name, args[1])
		if err != nil {
			return nil, err
		}
		if base.Lo <= 0 {
			return datatype.NewFloat(), nil
		}
		// b^e = exp(e * ln b) is monotone in e * ln b.
		logBase := base.Map(math.Log)
		return exponent.Mul(logBase).Map(math.Exp).AsFloat(), nil
	case FnCos:
		if _, _, err := numeric(f.Name, args[0]); err != nil {
			return nil, err
		}
		return datatype.FloatRange(-1, 1), nil
	case FnPi:
		return datatype.FloatRange(math.Pi, math.Pi), nil
	case FnRandom:
		return datatype.FloatRange(0, 1), nil
	case FnLeast, FnGreatest:
		return extremumType(f.Name, args)
	case FnLower, FnUpper:
		if !textLike(args[0]) {
			return nil, qerrors.NewTypeMismatch("%s expects text, got %s", f.Name, args[0])
		}
		if t, ok := args[0].(datatype.Text); ok && len(t.PossibleValues) > 0 {
			conv := strings.ToLower
			if f.Name == FnUpper {
				conv = strings.ToUpper
			}
			vals := make([]string, len(t.PossibleValues))
			for i, v := range t.PossibleValues {
				vals[i] = conv(v)
			}
			return datatype.TextValues(vals...), nil
		}
		return datatype.NewText(), nil
	case FnLength:
		if !textLike(args[0]) {
			return nil, qerrors.NewTypeMismatch("LENGTH expects text, got %s", args[0])
		}
		if t, ok := args[0].(datatype.Text); ok && len(t.PossibleValues) > 0 {
			lengths := make([]int64, len(t.PossibleValues))
			for i, v := range t.PossibleValues {
				lengths[i] = int64(len([]rune(v)))
			}
			return datatype.IntegerValues(lengths...), nil
		}
		return datatype.IntegerRange(0, math.MaxInt64), nil
	case FnSubstr:
		if !textLike(args[0]) {
			return nil, qerrors.NewTypeMismatch("SUBSTR expects text, got %s", args[0])
		}
		return datatype.NewText(), nil
	case FnMd5:
		return datatype.NewText(), nil
	case FnYear, FnMonth, FnDay:
		return datePartType(f.Name, args[0])
	}
	return nil, qerrors.NewUnsupported("function %s", f.Name)
}

// numeric returns the bounds of a numeric argument.
func numeric(fn string, t datatype.DataType) (datatype.Interval, bool, error) {
	switch x := t.(type) {
	case datatype.Integer:
		iv, _ := datatype.BoundsOf(x)
		return iv, true, nil
	case datatype.Float:
		iv, _ := datatype.BoundsOf(x)
		return iv, false, nil
	}
	return datatype.FullInterval, false, qerrors.NewTypeMismatch("%s expects a number, got %s", fn, t)
}

func numericResult(iv datatype.Interval, isInt bool) datatype.DataType {
	if isInt {
		return iv.AsInteger()
	}
	return iv.AsFloat()
}

func arithmeticType(op string, a, b datatype.DataType) (datatype.DataType, error) {
	x, xInt, err := numeric(op, a)
	if err != nil {
		return nil, err
	}
	y, yInt, err := numeric(op, b)
	if err != nil {
		return nil, err
	}
	isInt := xInt && yInt
	var r datatype.Interval
	switch op {
	case FnPlus:
		r = x.Add(y)
	case FnMinus:
		r = x.Sub(y)
	case FnMultiply:
		r = x.Mul(y)
	case FnDivide:
		r = x.Div(y)
	case FnModulo:
		// |a % b| is below |b| and never exceeds |a|; the sign follows a.
		m := y.MaxAbs()
		if isInt {
			m--
		}
		m = math.Min(m, x.MaxAbs())
		r = datatype.Interval{Lo: -m, Hi: m}
		if x.Lo >= 0 {
			r.Lo = 0
		}
		if x.Hi <= 0 {
			r.Hi = 0
		}
	}
	return numericResult(r, isInt), nil
}

// comparisonType folds comparisons between disjoint or singleton domains.
func comparisonType(op string, a, b datatype.DataType) datatype.DataType {
	x, okx := datatype.BoundsOf(a)
	y, oky := datatype.BoundsOf(b)
	if !okx || !oky {
		return datatype.NewBoolean()
	}
	switch op {
	case FnLt:
		if x.Hi < y.Lo {
			return datatype.BooleanValues(true)
		}
		if x.Lo >= y.Hi {
			return datatype.BooleanValues(false)
		}
	case FnLe:
		if x.Hi <= y.Lo {
			return datatype.BooleanValues(true)
		}
		if x.Lo > y.Hi {
			return datatype.BooleanValues(false)
		}
	case FnGt:
		return comparisonType(FnLt, b, a)
	case FnGe:
		return comparisonType(FnLe, b, a)
	case FnEq, FnNe:
		if x.Hi < y.Lo || y.Hi < x.Lo {
			return datatype.BooleanValues(op == FnNe)
		}
		if x.Lo == x.Hi && y.Lo == y.Hi && x.Lo == y.Lo {
			return datatype.BooleanValues(op == FnEq)
		}
	}
	return datatype.NewBoolean()
}

func comparableTypes(a, b datatype.DataType) bool {
	a, _ = datatype.Unwrap(a)
	b, _ = datatype.Unwrap(b)
	if _, ok := a.(datatype.Null); ok {
		return true
	}
	if _, ok := b.(datatype.Null); ok {
		return true
	}
	switch {
	case isNumeric(a) && isNumeric(b):
		return true
	case textLike(a) && textLike(b):
		return true
	case isTemporal(a) && (isTemporal(b) || textLike(b)):
		return true
	case textLike(a) && isTemporal(b):
		return true
	}
	_, ba := a.(datatype.Boolean)
	_, bb := b.(datatype.Boolean)
	return ba && bb
}

func isNumeric(t datatype.DataType) bool {
	switch t.(type) {
	case datatype.Integer, datatype.Float:
		return true
	}
	return false
}

func textLike(t datatype.DataType) bool {
	switch t.(type) {
	case datatype.Text, datatype.Id:
		return true
	}
	return false
}

func isTemporal(t datatype.DataType) bool {
	switch t.(type) {
	case datatype.Date, datatype.Datetime:
		return true
	}
	return false
}

// boolValues returns the possible values of a boolean type; nil means both.
func boolValues(t datatype.DataType) ([]bool, bool) {
	inner, _ := datatype.Unwrap(t)
	switch x := inner.(type) {
	case datatype.Boolean:
		return x.PossibleValues, true
	case datatype.Null:
		return nil, true
	}
	return nil, false
}

func logicType(op string, args []datatype.DataType) (datatype.DataType, error) {
	optional := false
	values := make([][]bool, len(args))
	for i, a := range args {
		v, ok := boolValues(a)
		if !ok {
			return nil, qerrors.NewTypeMismatch("%s expects booleans, got %s", op, a)
		}
		values[i] = v
		optional = optional || datatype.IsOptional(a)
	}
	only := func(v []bool, b bool) bool { return len(v) == 1 && v[0] == b }
	var t datatype.DataType = datatype.NewBoolean()
	switch op {
	case FnNot:
		if len(values[0]) == 1 {
			t = datatype.BooleanValues(!values[0][0])
		}
	case FnAnd:
		if only(values[0], false) || only(values[1], false) {
			// FALSE AND NULL is FALSE.
			return datatype.BooleanValues(false), nil
		}
		if only(values[0], true) && only(values[1], true) {
			t = datatype.BooleanValues(true)
		}
	case FnOr:
		if only(values[0], true) || only(values[1], true) {
			return datatype.BooleanValues(true), nil
		}
		if only(values[0], false) && only(values[1], false) {
			t = datatype.BooleanValues(false)
		}
	}
	if optional {
		return datatype.NewOptional(t), nil
	}
	return t, nil
}

// caseType types CASE args laid out as cond, result, ..., [else].
func caseType(args []datatype.DataType) (datatype.DataType, error) {
	var result datatype.DataType
	for i := 0; i+1 < len(args); i += 2 {
		if _, ok := boolValues(args[i]); !ok {
			return nil, qerrors.NewTypeMismatch("CASE condition must be boolean, got %s", args[i])
		}
		var err error
		if result, err = unionOrFirst(result, args[i+1]); err != nil {
			return nil, err
		}
	}
	if len(args)%2 == 1 {
		var err error
		if result, err = unionOrFirst(result, args[len(args)-1]); err != nil {
			return nil, err
		}
	} else {
		result = datatype.NewOptional(result)
	}
	return result, nil
}

func unionOrFirst(acc, t datatype.DataType) (datatype.DataType, error) {
	if acc == nil {
		return t, nil
	}
	u, err := datatype.UnionOf(acc, t)
	if err != nil {
		return nil, qerrors.NewTypeMismatch("incompatible branch types %s and %s", acc, t)
	}
	return u, nil
}

func coalesceType(args []datatype.DataType) (datatype.DataType, error) {
	var acc datatype.DataType
	allOptional := true
	for _, a := range args {
		if _, isNull := a.(datatype.Null); isNull {
			continue
		}
		inner, opt := datatype.Unwrap(a)
		allOptional = allOptional && opt
		var err error
		if acc, err = unionOrFirst(acc, inner); err != nil {
			return nil, err
		}
		if !opt {
			break
		}
	}
	if acc == nil {
		return datatype.Null{}, nil
	}
	if allOptional {
		return datatype.NewOptional(acc), nil
	}
	return acc, nil
}

func extremumType(fn string, args []datatype.DataType) (datatype.DataType, error) {
	if isNumeric(args[0]) {
		allInt := true
		var r datatype.Interval
		for i, a := range args {
			iv, isInt, err := numeric(fn, a)
			if err != nil {
				return nil, err
			}
			allInt = allInt && isInt
			switch {
			case i == 0:
				r = iv
			case fn == FnLeast:
				r = datatype.Interval{Lo: math.Min(r.Lo, iv.Lo), Hi: math.Min(r.Hi, iv.Hi)}
			default:
				r = datatype.Interval{Lo: math.Max(r.Lo, iv.Lo), Hi: math.Max(r.Hi, iv.Hi)}
			}
		}
		return numericResult(r, allInt), nil
	}
	var acc datatype.DataType
	for _, a := range args {
		var err error
		if acc, err = unionOrFirst(acc, a); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func concatType(args []datatype.DataType) datatype.DataType {
	product := []string{""}
	for _, a := range args {
		vals := textValues(a)
		if vals == nil || len(product)*len(vals) > datatype.MaxEnumeratedValues {
			return datatype.NewText()
		}
		next := make([]string, 0, len(product)*len(vals))
		for _, p := range product {
			for _, v := range vals {
				next = append(next, p+v)
			}
		}
		product = next
	}
	return datatype.TextValues(product...)
}

// textValues lists the rendered values of an enumerated scalar, or nil.
func textValues(t datatype.DataType) []string {
	switch x := t.(type) {
	case datatype.Text:
		if len(x.PossibleValues) > 0 {
			return x.PossibleValues
		}
	case datatype.Integer:
		if len(x.PossibleValues) > 0 {
			out := make([]string, len(x.PossibleValues))
			for i, v := range x.PossibleValues {
				out[i] = strconv.FormatInt(v, 10)
			}
			return out
		}
	}
	return nil
}

func datePartType(fn string, t datatype.DataType) (datatype.DataType, error) {
	var lo, hi time.Time
	switch x := t.(type) {
	case datatype.Date:
		lo, hi = x.Min, x.Max
	case datatype.Datetime:
		lo, hi = x.Min, x.Max
	default:
		return nil, qerrors.NewTypeMismatch("%s expects a date, got %s", fn, t)
	}
	switch fn {
	case FnMonth:
		return datatype.IntegerRange(1, 12), nil
	case FnDay:
		return datatype.IntegerRange(1, 31), nil
	}
	if lo.IsZero() || hi.IsZero() {
		return datatype.NewInteger(), nil
	}
	return datatype.IntegerRange(int64(lo.Year()), int64(hi.Year())), nil
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// castType types CAST(t AS target). t is not optional here.
func castType(t datatype.DataType, target string) (datatype.DataType, error) {
	switch target {
	case TypeInteger:
		switch x := t.(type) {
		case datatype.Integer:
			return x, nil
		case datatype.Float:
			iv, _ := datatype.BoundsOf(x)
			return iv.AsInteger(), nil
		case datatype.Boolean:
			if len(x.PossibleValues) == 1 {
				if x.PossibleValues[0] {
					return datatype.IntegerValues(1), nil
				}
				return datatype.IntegerValues(0), nil
			}
			return datatype.IntegerValues(0, 1), nil
		case datatype.Text:
			if vals, ok := parseInts(x.PossibleValues); ok {
				return datatype.IntegerValues(vals...), nil
			}
		}
		return datatype.NewInteger(), nil
	case TypeFloat:
		switch x := t.(type) {
		case datatype.Integer, datatype.Float, datatype.Boolean:
			iv, _ := datatype.BoundsOf(x)
			return iv.AsFloat(), nil
		}
		return datatype.NewFloat(), nil
	case TypeText:
		if vals := textValues(t); vals != nil {
			return datatype.TextValues(vals...), nil
		}
		return datatype.NewText(), nil
	case TypeBoolean:
		switch x := t.(type) {
		case datatype.Boolean:
			return x, nil
		case datatype.Integer, datatype.Float:
			iv, _ := datatype.BoundsOf(x)
			switch {
			case iv.Lo == 0 && iv.Hi == 0:
				return datatype.BooleanValues(false), nil
			case !iv.Contains(0):
				return datatype.BooleanValues(true), nil
			}
		}
		return datatype.NewBoolean(), nil
	case TypeDate:
		switch x := t.(type) {
		case datatype.Date:
			return x, nil
		case datatype.Datetime:
			return datatype.Date{Format: datatype.DefaultDateFormat, Min: truncateDay(x.Min), Max: truncateDay(x.Max)}, nil
		}
		return datatype.NewDate(), nil
	case TypeDatetime:
		switch x := t.(type) {
		case datatype.Datetime:
			return x, nil
		case datatype.Date:
			hi := x.Max
			if !hi.IsZero() {
				hi = hi.AddDate(0, 0, 1).Add(-1)
			}
			return datatype.Datetime{Format: datatype.DefaultDatetimeFormat, Min: x.Min, Max: hi}, nil
		}
		return datatype.NewDatetime(), nil
	}
	return nil, qerrors.NewUnsupported("cast to %s", target)
}

func parseInts(vals []string) ([]int64, bool) {
	if len(vals) == 0 {
		return nil, false
	}
	out := make([]int64, len(vals))
	for i, v := range vals {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

// AggregateType infers the type of a over input, given an upper bound on the
// number of input rows (negative when unbounded).
func AggregateType(a *Aggregate, input datatype.Struct, maxRows int64) (datatype.DataType, error) {
	n := math.Inf(1)
	if maxRows >= 0 {
		n = float64(maxRows)
	}
	if a.Arg == nil {
		if a.Fn != AggCount {
			return nil, qerrors.NewTypeMismatch("%s requires an argument", a.Fn)
		}
		return countType(maxRows), nil
	}
	t, err := TypeOf(a.Arg, input)
	if err != nil {
		return nil, err
	}
	inner, _ := datatype.Unwrap(t)
	switch a.Fn {
	case AggCount:
		return countType(maxRows), nil
	case AggFirst, AggMin, AggMax:
		return t, nil
	case AggSum:
		iv, isInt, err := numeric(a.Fn, inner)
		if err != nil {
			return nil, err
		}
		sum := datatype.Interval{Lo: 0, Hi: n}.Mul(iv).Hull(datatype.Interval{})
		return datatype.Rewrap(numericResult(sum, isInt), t), nil
	case AggAvg:
		iv, _, err := numeric(a.Fn, inner)
		if err != nil {
			return nil, err
		}
		return datatype.Rewrap(iv.AsFloat(), t), nil
	case AggVariance, AggStddev:
		iv, _, err := numeric(a.Fn, inner)
		if err != nil {
			return nil, err
		}
		half := iv.Width() / 2
		if a.Fn == AggVariance {
			half *= half
		}
		return datatype.NewOptional(datatype.FloatRange(0, half)), nil
	}
	return nil, qerrors.NewUnsupported("aggregate %s", a.Fn)
}

func countType(maxRows int64) datatype.DataType {
	if maxRows < 0 {
		return datatype.IntegerRange(0, math.MaxInt64)
	}
	return datatype.IntegerRange(0, maxRows)
}
