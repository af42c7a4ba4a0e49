// Package datatype describes relational types together with the value-domain
// constraints (bounds, enumerated values, uniqueness) the rewriters reason about.
//
// DataType is a closed set of variants. Every operation over it switches on the
// concrete variant, so adding a variant means touching every switch in this
// package.
package datatype

import (
	"math"
	"sort"
	"time"
)

// DataType is one of Struct, Union, Optional, Integer, Float, Text, Boolean,
// Date, Datetime, Id or Null.
type DataType interface {
	String() string
	isDataType()
}

// Constraint is a per-field integrity declaration.
type Constraint int

const (
	ConstraintNone Constraint = iota
	ConstraintUnique
	ConstraintPrimaryKey
)

func (c Constraint) String() string {
	switch c {
	case ConstraintUnique:
		return "UNIQUE"
	case ConstraintPrimaryKey:
		return "PRIMARY_KEY"
	default:
		return "NONE"
	}
}

// IsUnique reports whether values of the field never repeat.
func (c Constraint) IsUnique() bool {
	return c == ConstraintUnique || c == ConstraintPrimaryKey
}

// Field is a named, typed, optionally constrained member of a Struct or Union.
type Field struct {
	Name       string
	Type       DataType
	Constraint Constraint
}

// Struct is an ordered list of fields; a relation schema is a Struct.
type Struct struct {
	Fields []Field
}

// Union holds one of several named alternatives.
type Union struct {
	Fields       []Field
	PublicFields []string
}

// Optional is a nullable wrapper.
type Optional struct {
	Inner DataType
}

// Integer is a bounded 64-bit integer domain.
type Integer struct {
	Base           string
	Min, Max       int64
	PossibleValues []int64
}

// Float is a bounded float domain. Infinite bounds mean unbounded.
type Float struct {
	Base     string
	Min, Max float64
}

// Text is a string domain.
type Text struct {
	Encoding       string
	Min, Max       string
	PossibleValues []string
}

// Boolean carries the values it may take; nil means both.
type Boolean struct {
	PossibleValues []bool
}

// Date is a calendar date domain. Zero bounds are unbounded.
type Date struct {
	Format   string
	Min, Max time.Time
}

// Datetime is a timestamp domain. Zero bounds are unbounded.
type Datetime struct {
	Format   string
	Min, Max time.Time
}

// Id is an opaque identifier, optionally referencing another Id field.
type Id struct {
	Base      string
	Unique    bool
	Reference []string
}

// Null is the type of the NULL literal.
type Null struct{}

func (Struct) isDataType()   {}
func (Union) isDataType()    {}
func (Optional) isDataType() {}
func (Integer) isDataType()  {}
func (Float) isDataType()    {}
func (Text) isDataType()     {}
func (Boolean) isDataType()  {}
func (Date) isDataType()     {}
func (Datetime) isDataType() {}
func (Id) isDataType()       {}
func (Null) isDataType()     {}

const (
	DefaultIntegerBase    = "INT64"
	DefaultFloatBase      = "FLOAT64"
	DefaultEncoding       = "UTF-8"
	DefaultDateFormat     = "%Y-%m-%d"
	DefaultDatetimeFormat = "%Y-%m-%d %H:%M:%S"
	DefaultIdBase         = "STRING"
)

// NewInteger returns the full int64 domain.
func NewInteger() Integer {
	return Integer{Base: DefaultIntegerBase, Min: math.MinInt64, Max: math.MaxInt64}
}

// IntegerRange returns the closed range [min, max].
func IntegerRange(min, max int64) Integer {
	if min > max {
		min, max = max, min
	}
	return Integer{Base: DefaultIntegerBase, Min: min, Max: max}
}

// IntegerValues returns the enumerated domain of vals.
func IntegerValues(vals ...int64) Integer {
	vs := normalizeInts(vals)
	if len(vs) == 0 {
		return NewInteger()
	}
	return Integer{Base: DefaultIntegerBase, Min: vs[0], Max: vs[len(vs)-1], PossibleValues: vs}
}

// NewFloat returns the unbounded float domain.
func NewFloat() Float {
	return Float{Base: DefaultFloatBase, Min: math.Inf(-1), Max: math.Inf(1)}
}

// FloatRange returns the closed range [min, max].
func FloatRange(min, max float64) Float {
	if min > max {
		min, max = max, min
	}
	return Float{Base: DefaultFloatBase, Min: min, Max: max}
}

// NewText returns the unconstrained UTF-8 text domain.
func NewText() Text {
	return Text{Encoding: DefaultEncoding}
}

// TextValues returns the enumerated text domain of vals.
func TextValues(vals ...string) Text {
	return Text{Encoding: DefaultEncoding, PossibleValues: normalizeStrings(vals)}
}

// NewBoolean returns the boolean domain.
func NewBoolean() Boolean {
	return Boolean{}
}

// BooleanValues restricts the boolean domain to vals.
func BooleanValues(vals ...bool) Boolean {
	return Boolean{PossibleValues: normalizeBools(vals)}
}

func NewDate() Date {
	return Date{Format: DefaultDateFormat}
}

func NewDatetime() Datetime {
	return Datetime{Format: DefaultDatetimeFormat}
}

func NewId() Id {
	return Id{Base: DefaultIdBase}
}

// NewOptional wraps t, never nesting optionals.
func NewOptional(t DataType) DataType {
	switch v := t.(type) {
	case Optional, Null:
		return v
	default:
		return Optional{Inner: t}
	}
}

// Unwrap strips one Optional layer and reports whether there was one.
func Unwrap(t DataType) (DataType, bool) {
	if o, ok := t.(Optional); ok {
		return o.Inner, true
	}
	return t, false
}

// IsOptional reports whether t admits NULL.
func IsOptional(t DataType) bool {
	switch t.(type) {
	case Optional, Null:
		return true
	}
	return false
}

// Rewrap applies the optionality of like to t.
func Rewrap(t DataType, like DataType) DataType {
	if IsOptional(like) {
		return NewOptional(t)
	}
	return t
}

// IsFullRange reports whether i spans the whole int64 domain.
func (i Integer) IsFullRange() bool {
	return len(i.PossibleValues) == 0 && i.Min == math.MinInt64 && i.Max == math.MaxInt64
}

// Field returns the named field of s.
func (s Struct) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Index returns the position of name in s, or -1.
func (s Struct) Index(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Names lists the field names in order.
func (s Struct) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the named alternative of u.
func (u Union) Field(name string) (Field, bool) {
	return Struct{Fields: u.Fields}.Field(name)
}

// IsPublic reports whether the named alternative is declared public.
func (u Union) IsPublic(name string) bool {
	for _, p := range u.PublicFields {
		if p == name {
			return true
		}
	}
	return false
}

func normalizeInts(vals []int64) []int64 {
	if len(vals) == 0 {
		return nil
	}
	out := append([]int64(nil), vals...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

func normalizeStrings(vals []string) []string {
	if len(vals) == 0 {
		return nil
	}
	out := append([]string(nil), vals...)
	sort.Strings(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// normalizeBools collapses a full {false, true} set to nil.
func normalizeBools(vals []bool) []bool {
	var hasFalse, hasTrue bool
	for _, v := range vals {
		if v {
			hasTrue = true
		} else {
			hasFalse = true
		}
	}
	switch {
	case hasFalse && hasTrue:
		return nil
	case hasFalse:
		return []bool{false}
	case hasTrue:
		return []bool{true}
	}
	return nil
}
