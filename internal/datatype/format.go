package datatype

import (
	"math"
	"strconv"
	"strings"
	"time"
)

func (s Struct) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.String())
	}
	b.WriteByte('}')
	return b.String()
}

func (f Field) String() string {
	s := f.Name + ": " + typeString(f.Type)
	if f.Constraint != ConstraintNone {
		s += " (" + f.Constraint.String() + ")"
	}
	return s
}

func (u Union) String() string {
	return "union" + Struct{Fields: u.Fields}.String()
}

func (o Optional) String() string {
	return "option(" + typeString(o.Inner) + ")"
}

func (i Integer) String() string {
	if len(i.PossibleValues) > 0 {
		parts := make([]string, len(i.PossibleValues))
		for k, v := range i.PossibleValues {
			parts[k] = strconv.FormatInt(v, 10)
		}
		return "int{" + strings.Join(parts, ", ") + "}"
	}
	if i.IsFullRange() {
		return "int"
	}
	return "int[" + formatInt(i.Min) + " " + formatInt(i.Max) + "]"
}

func (f Float) String() string {
	if math.IsInf(f.Min, -1) && math.IsInf(f.Max, 1) {
		return "float"
	}
	return "float[" + FormatFloat(f.Min) + " " + FormatFloat(f.Max) + "]"
}

func (t Text) String() string {
	if len(t.PossibleValues) > 0 {
		return "str{" + strings.Join(t.PossibleValues, ", ") + "}"
	}
	return "str"
}

func (b Boolean) String() string {
	if len(b.PossibleValues) == 1 {
		return "bool{" + strconv.FormatBool(b.PossibleValues[0]) + "}"
	}
	return "bool"
}

func (d Date) String() string {
	if d.Min.IsZero() && d.Max.IsZero() {
		return "date"
	}
	return "date[" + formatTime(d.Min, "2006-01-02") + " " + formatTime(d.Max, "2006-01-02") + "]"
}

func (d Datetime) String() string {
	if d.Min.IsZero() && d.Max.IsZero() {
		return "datetime"
	}
	return "datetime[" + formatTime(d.Min, time.DateTime) + " " + formatTime(d.Max, time.DateTime) + "]"
}

func (i Id) String() string {
	if i.Unique {
		return "id(unique)"
	}
	return "id"
}

func (Null) String() string {
	return "null"
}

func typeString(t DataType) string {
	if t == nil {
		return "?"
	}
	return t.String()
}

func formatInt(v int64) string {
	switch v {
	case math.MinInt64:
		return "-inf"
	case math.MaxInt64:
		return "inf"
	}
	return strconv.FormatInt(v, 10)
}

// FormatFloat renders f in its shortest round-tripping form.
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatTime(t time.Time, layout string) string {
	if t.IsZero() {
		return "?"
	}
	return t.Format(layout)
}
