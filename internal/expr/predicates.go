package expr

import (
	"math"
	"strconv"

	"github.com/qrlew/qrlew-go/internal/datatype"
)

// PredicateType classifies a column predicate found in a filter.
type PredicateType int

const (
	PredicateEquality PredicateType = iota // column = value
	PredicateRange                         // column < value, column >= value, ...
	PredicateIn                            // column IN (v1, v2, ...)
	PredicateNotNull                       // column IS NOT NULL
)

// Predicate is a column-versus-literal condition.
type Predicate struct {
	Type     PredicateType
	Column   string
	Operator string
	Value    interface{}   // equality and range
	Values   []interface{} // IN
}

// ExtractPredicates returns the column predicates among the top-level AND
// conjuncts of filter. Anything under OR or NOT is skipped since it does not
// restrict every surviving row.
func ExtractPredicates(filter Expr) []Predicate {
	var preds []Predicate
	for _, c := range Conjuncts(filter) {
		f, ok := c.(*Function)
		if !ok {
			continue
		}
		switch f.Name {
		case FnEq, FnLt, FnGt, FnLe, FnGe:
			if p, ok := extractComparison(f); ok {
				preds = append(preds, p)
			}
		case FnIn:
			col, ok := IsColumn(f.Args[0])
			if !ok {
				continue
			}
			values := make([]interface{}, 0, len(f.Args)-1)
			for _, a := range f.Args[1:] {
				v, ok := a.(*Value)
				if !ok || v.V == nil {
					values = nil
					break
				}
				values = append(values, v.V)
			}
			if len(values) > 0 {
				preds = append(preds, Predicate{Type: PredicateIn, Column: col, Operator: FnIn, Values: values})
			}
		case FnIsNotNull:
			if col, ok := IsColumn(f.Args[0]); ok {
				preds = append(preds, Predicate{Type: PredicateNotNull, Column: col, Operator: FnIsNotNull})
			}
		}
	}
	return preds
}

func extractComparison(f *Function) (Predicate, bool) {
	typ := PredicateRange
	if f.Name == FnEq {
		typ = PredicateEquality
	}
	if col, ok := IsColumn(f.Args[0]); ok {
		if v, ok := f.Args[1].(*Value); ok && v.V != nil {
			return Predicate{Type: typ, Column: col, Operator: f.Name, Value: v.V}, true
		}
	}
	// Reverse comparison: value op column.
	if col, ok := IsColumn(f.Args[1]); ok {
		if v, ok := f.Args[0].(*Value); ok && v.V != nil {
			op := f.Name
			switch op {
			case FnLt:
				op = FnGt
			case FnGt:
				op = FnLt
			case FnLe:
				op = FnGe
			case FnGe:
				op = FnLe
			}
			return Predicate{Type: typ, Column: col, Operator: op, Value: v.V}, true
		}
	}
	return Predicate{}, false
}

// Narrow tightens the field types of schema using the predicates of filter.
// A restricted column can no longer be NULL. Predicates that would empty a
// domain leave its bounds unchanged.
func Narrow(schema datatype.Struct, filter Expr) datatype.Struct {
	preds := ExtractPredicates(filter)
	if len(preds) == 0 {
		return schema
	}
	fields := make([]datatype.Field, len(schema.Fields))
	copy(fields, schema.Fields)
	for _, p := range preds {
		i := schema.Index(p.Column)
		if i < 0 {
			continue
		}
		inner, _ := datatype.Unwrap(fields[i].Type)
		if _, isNull := inner.(datatype.Null); isNull {
			continue
		}
		if narrowed, ok := narrowType(inner, p); ok {
			inner = narrowed
		}
		fields[i].Type = inner
	}
	return datatype.Struct{Fields: fields}
}

func narrowType(t datatype.DataType, p Predicate) (datatype.DataType, bool) {
	switch p.Type {
	case PredicateNotNull:
		return t, true
	case PredicateIn:
		return narrowValues(t, p.Values)
	case PredicateEquality:
		return narrowValues(t, []interface{}{p.Value})
	}
	v, ok := numericValue(p.Value)
	if !ok {
		return nil, false
	}
	iv, ok := datatype.BoundsOf(t)
	if !ok {
		return nil, false
	}
	_, isInt := t.(datatype.Integer)
	switch p.Operator {
	case FnLt:
		if isInt {
			v = math.Ceil(v) - 1
		}
		iv.Hi = math.Min(iv.Hi, v)
	case FnLe:
		iv.Hi = math.Min(iv.Hi, v)
	case FnGt:
		if isInt {
			v = math.Floor(v) + 1
		}
		iv.Lo = math.Max(iv.Lo, v)
	case FnGe:
		iv.Lo = math.Max(iv.Lo, v)
	}
	out, err := datatype.WithRange(t, iv.Lo, iv.Hi)
	if err != nil {
		return nil, false
	}
	return out, true
}

// narrowValues restricts t to the listed literals, intersected with any
// values t already enumerates.
func narrowValues(t datatype.DataType, values []interface{}) (datatype.DataType, bool) {
	switch x := t.(type) {
	case datatype.Integer:
		var kept []int64
		for _, v := range values {
			n, ok := v.(int64)
			if !ok || n < x.Min || n > x.Max {
				continue
			}
			if len(x.PossibleValues) > 0 && !containsInt64(x.PossibleValues, n) {
				continue
			}
			kept = append(kept, n)
		}
		if len(kept) == 0 {
			return nil, false
		}
		out := datatype.IntegerValues(kept...)
		out.Base = x.Base
		return out, true
	case datatype.Float:
		iv := datatype.Interval{Lo: math.Inf(1), Hi: math.Inf(-1)}
		for _, v := range values {
			f, ok := numericValue(v)
			if !ok {
				return nil, false
			}
			iv = iv.Hull(datatype.Interval{Lo: f, Hi: f})
		}
		out, err := datatype.WithRange(x, math.Max(iv.Lo, x.Min), math.Min(iv.Hi, x.Max))
		if err != nil {
			return nil, false
		}
		return out, true
	case datatype.Text:
		var kept []string
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if len(x.PossibleValues) > 0 && !containsString(x.PossibleValues, s) {
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			return nil, false
		}
		out := datatype.TextValues(kept...)
		out.Encoding = x.Encoding
		return out, true
	case datatype.Boolean:
		var kept []string
		for _, v := range values {
			if b, ok := v.(bool); ok {
				kept = append(kept, strconv.FormatBool(b))
			}
		}
		if len(kept) == 0 {
			return nil, false
		}
		out, err := datatype.WithPossibleValues(x, kept)
		return out, err == nil
	}
	// Other types keep their domain but lose NULL.
	return t, true
}

func numericValue(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func containsInt64(vals []int64, v int64) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(vals []string, v string) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}
