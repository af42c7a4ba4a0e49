package datatype

import (
	"math"
	"strconv"
	"strings"

	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

// MaxEnumeratedValues caps how many possible values a derived domain keeps
// before it degrades to a range.
const MaxEnumeratedValues = 1000

// Equal reports structural equality.
func Equal(a, b DataType) bool {
	switch x := a.(type) {
	case Struct:
		y, ok := b.(Struct)
		return ok && fieldsEqual(x.Fields, y.Fields)
	case Union:
		y, ok := b.(Union)
		return ok && fieldsEqual(x.Fields, y.Fields) && stringsEqual(x.PublicFields, y.PublicFields)
	case Optional:
		y, ok := b.(Optional)
		return ok && Equal(x.Inner, y.Inner)
	case Integer:
		y, ok := b.(Integer)
		if !ok || x.Min != y.Min || x.Max != y.Max || len(x.PossibleValues) != len(y.PossibleValues) {
			return false
		}
		for i := range x.PossibleValues {
			if x.PossibleValues[i] != y.PossibleValues[i] {
				return false
			}
		}
		return true
	case Float:
		y, ok := b.(Float)
		return ok && x.Min == y.Min && x.Max == y.Max
	case Text:
		y, ok := b.(Text)
		return ok && x.Min == y.Min && x.Max == y.Max && stringsEqual(x.PossibleValues, y.PossibleValues)
	case Boolean:
		y, ok := b.(Boolean)
		if !ok || len(x.PossibleValues) != len(y.PossibleValues) {
			return false
		}
		return len(x.PossibleValues) == 0 || x.PossibleValues[0] == y.PossibleValues[0]
	case Date:
		y, ok := b.(Date)
		return ok && x.Min.Equal(y.Min) && x.Max.Equal(y.Max)
	case Datetime:
		y, ok := b.(Datetime)
		return ok && x.Min.Equal(y.Min) && x.Max.Equal(y.Max)
	case Id:
		y, ok := b.(Id)
		return ok && x.Unique == y.Unique && stringsEqual(x.Reference, y.Reference)
	case Null:
		_, ok := b.(Null)
		return ok
	}
	return false
}

func fieldsEqual(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Constraint != b[i].Constraint || !Equal(a[i].Type, b[i].Type) {
			return false
		}
	}
	return true
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Contains reports whether every value of sub is a value of sup.
func Contains(sup, sub DataType) bool {
	if _, ok := sub.(Null); ok {
		return IsOptional(sup)
	}
	if o, ok := sup.(Optional); ok {
		inner, _ := Unwrap(sub)
		return Contains(o.Inner, inner)
	}
	if _, ok := sub.(Optional); ok {
		return false
	}
	switch x := sup.(type) {
	case Integer:
		y, ok := sub.(Integer)
		if !ok || y.Min < x.Min || y.Max > x.Max {
			return false
		}
		if len(x.PossibleValues) == 0 {
			return true
		}
		vals := y.PossibleValues
		if len(vals) == 0 {
			if y.Min != y.Max {
				return false
			}
			vals = []int64{y.Min}
		}
		for _, v := range vals {
			if !containsInt(x.PossibleValues, v) {
				return false
			}
		}
		return true
	case Float:
		switch y := sub.(type) {
		case Float:
			return y.Min >= x.Min && y.Max <= x.Max
		case Integer:
			return float64(y.Min) >= x.Min && float64(y.Max) <= x.Max
		}
		return false
	case Text:
		y, ok := sub.(Text)
		if !ok {
			return false
		}
		if len(x.PossibleValues) == 0 {
			return true
		}
		if len(y.PossibleValues) == 0 {
			return false
		}
		for _, v := range y.PossibleValues {
			if !containsString(x.PossibleValues, v) {
				return false
			}
		}
		return true
	case Boolean:
		y, ok := sub.(Boolean)
		if !ok {
			return false
		}
		if len(x.PossibleValues) == 0 {
			return true
		}
		return len(y.PossibleValues) == 1 && y.PossibleValues[0] == x.PossibleValues[0]
	case Date:
		y, ok := sub.(Date)
		return ok && timeWithin(y.Min, y.Max, x.Min, x.Max)
	case Datetime:
		y, ok := sub.(Datetime)
		return ok && timeWithin(y.Min, y.Max, x.Min, x.Max)
	case Id:
		_, ok := sub.(Id)
		return ok
	case Struct:
		y, ok := sub.(Struct)
		if !ok || len(x.Fields) != len(y.Fields) {
			return false
		}
		for _, f := range x.Fields {
			g, ok := y.Field(f.Name)
			if !ok || !Contains(f.Type, g.Type) {
				return false
			}
		}
		return true
	case Union:
		y, ok := sub.(Union)
		if !ok {
			return false
		}
		for _, g := range y.Fields {
			f, ok := x.Field(g.Name)
			if !ok || !Contains(f.Type, g.Type) {
				return false
			}
		}
		return true
	case Null:
		_, ok := sub.(Null)
		return ok
	}
	return false
}

// UnionOf returns the smallest type containing both a and b.
func UnionOf(a, b DataType) (DataType, error) {
	if _, ok := a.(Null); ok {
		return NewOptional(b), nil
	}
	if _, ok := b.(Null); ok {
		return NewOptional(a), nil
	}
	ia, oa := Unwrap(a)
	ib, ob := Unwrap(b)
	if oa || ob {
		u, err := UnionOf(ia, ib)
		if err != nil {
			return nil, err
		}
		return NewOptional(u), nil
	}
	switch x := a.(type) {
	case Integer:
		switch y := b.(type) {
		case Integer:
			if len(x.PossibleValues) > 0 && len(y.PossibleValues) > 0 &&
				len(x.PossibleValues)+len(y.PossibleValues) <= MaxEnumeratedValues {
				return IntegerValues(append(append([]int64(nil), x.PossibleValues...), y.PossibleValues...)...), nil
			}
			return IntegerRange(min(x.Min, y.Min), max(x.Max, y.Max)), nil
		case Float:
			return FloatRange(math.Min(float64(x.Min), y.Min), math.Max(float64(x.Max), y.Max)), nil
		}
	case Float:
		switch y := b.(type) {
		case Float:
			return FloatRange(math.Min(x.Min, y.Min), math.Max(x.Max, y.Max)), nil
		case Integer:
			return FloatRange(math.Min(x.Min, float64(y.Min)), math.Max(x.Max, float64(y.Max))), nil
		}
	case Text:
		if y, ok := b.(Text); ok {
			if len(x.PossibleValues) > 0 && len(y.PossibleValues) > 0 &&
				len(x.PossibleValues)+len(y.PossibleValues) <= MaxEnumeratedValues {
				return TextValues(append(append([]string(nil), x.PossibleValues...), y.PossibleValues...)...), nil
			}
			return NewText(), nil
		}
	case Boolean:
		if y, ok := b.(Boolean); ok {
			if len(x.PossibleValues) == 0 || len(y.PossibleValues) == 0 {
				return NewBoolean(), nil
			}
			return BooleanValues(x.PossibleValues[0], y.PossibleValues[0]), nil
		}
	case Date:
		if y, ok := b.(Date); ok {
			lo, hi := timeHull(x.Min, x.Max, y.Min, y.Max)
			return Date{Format: x.Format, Min: lo, Max: hi}, nil
		}
	case Datetime:
		if y, ok := b.(Datetime); ok {
			lo, hi := timeHull(x.Min, x.Max, y.Min, y.Max)
			return Datetime{Format: x.Format, Min: lo, Max: hi}, nil
		}
	case Id:
		if _, ok := b.(Id); ok {
			return Id{Base: x.Base}, nil
		}
	case Struct:
		if y, ok := b.(Struct); ok && len(x.Fields) == len(y.Fields) {
			fields := make([]Field, len(x.Fields))
			for i := range x.Fields {
				if x.Fields[i].Name != y.Fields[i].Name {
					return nil, qerrors.NewSchemaMismatch("field %q does not match %q", x.Fields[i].Name, y.Fields[i].Name)
				}
				t, err := UnionOf(x.Fields[i].Type, y.Fields[i].Type)
				if err != nil {
					return nil, err
				}
				fields[i] = Field{Name: x.Fields[i].Name, Type: t}
			}
			return Struct{Fields: fields}, nil
		}
	}
	return nil, qerrors.NewSchemaMismatch("cannot unify %s with %s", typeString(a), typeString(b))
}

// Cardinality returns the size of an enumerable domain, or -1.
func Cardinality(t DataType) int64 {
	switch x := t.(type) {
	case Optional:
		c := Cardinality(x.Inner)
		if c < 0 {
			return -1
		}
		return c + 1
	case Integer:
		if len(x.PossibleValues) > 0 {
			return int64(len(x.PossibleValues))
		}
		if x.Max-x.Min >= 0 && x.Max-x.Min < MaxEnumeratedValues {
			return x.Max - x.Min + 1
		}
	case Text:
		if len(x.PossibleValues) > 0 {
			return int64(len(x.PossibleValues))
		}
	case Boolean:
		if len(x.PossibleValues) > 0 {
			return int64(len(x.PossibleValues))
		}
		return 2
	}
	return -1
}

// WithRange restricts a numeric type to [lo, hi]. Integer bounds round inward
// and enumerated values outside the range are dropped.
func WithRange(t DataType, lo, hi float64) (DataType, error) {
	if lo > hi {
		return nil, qerrors.NewTypeMismatch("invalid range [%s %s]", FormatFloat(lo), FormatFloat(hi))
	}
	switch x := t.(type) {
	case Optional:
		inner, err := WithRange(x.Inner, lo, hi)
		if err != nil {
			return nil, err
		}
		return Optional{Inner: inner}, nil
	case Integer:
		ilo, ihi := SaturateInt(math.Ceil(lo)), SaturateInt(math.Floor(hi))
		if ilo > ihi {
			return nil, qerrors.NewTypeMismatch("range [%s %s] contains no integer", FormatFloat(lo), FormatFloat(hi))
		}
		if len(x.PossibleValues) > 0 {
			var kept []int64
			for _, v := range x.PossibleValues {
				if v >= ilo && v <= ihi {
					kept = append(kept, v)
				}
			}
			if len(kept) > 0 {
				return Integer{Base: x.Base, Min: kept[0], Max: kept[len(kept)-1], PossibleValues: kept}, nil
			}
		}
		return Integer{Base: x.Base, Min: ilo, Max: ihi}, nil
	case Float:
		return Float{Base: x.Base, Min: lo, Max: hi}, nil
	}
	return nil, qerrors.NewTypeMismatch("cannot set a range on %s", typeString(t))
}

// WithPossibleValues replaces the domain of an Integer, Text or Boolean type
// with the parsed values.
func WithPossibleValues(t DataType, values []string) (DataType, error) {
	switch x := t.(type) {
	case Optional:
		inner, err := WithPossibleValues(x.Inner, values)
		if err != nil {
			return nil, err
		}
		return Optional{Inner: inner}, nil
	case Integer:
		ints := make([]int64, 0, len(values))
		for _, v := range values {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, qerrors.NewTypeMismatch("%q is not an integer", v)
			}
			ints = append(ints, n)
		}
		out := IntegerValues(ints...)
		out.Base = x.Base
		return out, nil
	case Text:
		out := TextValues(values...)
		out.Encoding = x.Encoding
		return out, nil
	case Boolean:
		bools := make([]bool, 0, len(values))
		for _, v := range values {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, qerrors.NewTypeMismatch("%q is not a boolean", v)
			}
			bools = append(bools, b)
		}
		return BooleanValues(bools...), nil
	}
	return nil, qerrors.NewTypeMismatch("cannot set possible values on %s", typeString(t))
}

func containsInt(sorted []int64, v int64) bool {
	lo, hi := 0, len(sorted)
	for lo < hi {
		m := (lo + hi) / 2
		if sorted[m] < v {
			lo = m + 1
		} else {
			hi = m
		}
	}
	return lo < len(sorted) && sorted[lo] == v
}

func containsString(sorted []string, v string) bool {
	for _, s := range sorted {
		if s == v {
			return true
		}
	}
	return false
}
