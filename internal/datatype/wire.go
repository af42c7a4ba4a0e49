package datatype

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

// Field constraints are stored in the column type's properties.
const (
	ConstraintProperty   = "_CONSTRAINT_"
	ConstraintUniqueTag  = "_UNIQUE_"
	ConstraintPrimaryTag = "_PRIMARY_KEY_"
)

// Wire is the JSON form of a type node. Exactly one payload is set; the
// payload, not Name, selects the variant (Name is free text such as a table
// name), except when no payload is present.
type Wire struct {
	Name       string                 `json:"name"`
	Doc        string                 `json:"doc,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Struct     *WireFields            `json:"struct,omitempty"`
	Union      *WireFields            `json:"union,omitempty"`
	Optional   *WireOptional          `json:"optional,omitempty"`
	Integer    *WireInteger           `json:"integer,omitempty"`
	Float      *WireFloat             `json:"float,omitempty"`
	Text       *WireText              `json:"text,omitempty"`
	Boolean    *WireBoolean           `json:"boolean,omitempty"`
	Datetime   *WireTime              `json:"datetime,omitempty"`
	Date       *WireTime              `json:"date,omitempty"`
	Id         *WireId                `json:"id,omitempty"`
	Unit       *struct{}              `json:"unit,omitempty"`
}

type WireFields struct {
	Fields []WireField `json:"fields"`
}

type WireField struct {
	Name string `json:"name"`
	Type *Wire  `json:"type"`
}

type WireOptional struct {
	Type *Wire `json:"type"`
}

type WireInteger struct {
	Base           string  `json:"base,omitempty"`
	Min            *Int64  `json:"min,omitempty"`
	Max            *Int64  `json:"max,omitempty"`
	PossibleValues []Int64 `json:"possible_values,omitempty"`
}

type WireFloat struct {
	Base           string    `json:"base,omitempty"`
	Min            *Float64  `json:"min,omitempty"`
	Max            *Float64  `json:"max,omitempty"`
	PossibleValues []Float64 `json:"possible_values,omitempty"`
}

type WireText struct {
	Encoding       string   `json:"encoding,omitempty"`
	Min            string   `json:"min,omitempty"`
	Max            string   `json:"max,omitempty"`
	PossibleValues []string `json:"possible_values,omitempty"`
}

type WireBoolean struct {
	PossibleValues []bool `json:"possible_values,omitempty"`
}

type WireTime struct {
	Format         string   `json:"format,omitempty"`
	Min            string   `json:"min,omitempty"`
	Max            string   `json:"max,omitempty"`
	PossibleValues []string `json:"possible_values,omitempty"`
}

type WireId struct {
	Base      string    `json:"base,omitempty"`
	Unique    bool      `json:"unique,omitempty"`
	Reference *WirePath `json:"reference,omitempty"`
}

type WirePath struct {
	Label []string `json:"label"`
}

// Int64 accepts JSON numbers and protobuf-style quoted integers.
type Int64 int64

func (n *Int64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*n = Int64(v)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = Int64(SaturateInt(f))
	return nil
}

func (n Int64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(int64(n), 10))), nil
}

// Float64 accepts JSON numbers and the protobuf spellings of infinities.
type Float64 float64

func (f *Float64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch s {
	case "", "null":
		return nil
	case "Infinity", "inf":
		*f = Float64(math.Inf(1))
		return nil
	case "-Infinity", "-inf":
		*f = Float64(math.Inf(-1))
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = Float64(v)
	return nil
}

func (f Float64) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	}
	return json.Marshal(v)
}

// Constraint reads the field constraint stored in the node's properties.
func (w *Wire) Constraint() Constraint {
	if w == nil {
		return ConstraintNone
	}
	switch w.Properties[ConstraintProperty] {
	case ConstraintUniqueTag:
		return ConstraintUnique
	case ConstraintPrimaryTag:
		return ConstraintPrimaryKey
	}
	return ConstraintNone
}

// WithConstraint returns a copy of w carrying c.
func (w *Wire) WithConstraint(c Constraint) *Wire {
	cp := w.Clone()
	switch c {
	case ConstraintUnique:
		cp.Properties[ConstraintProperty] = ConstraintUniqueTag
	case ConstraintPrimaryKey:
		cp.Properties[ConstraintProperty] = ConstraintPrimaryTag
	default:
		delete(cp.Properties, ConstraintProperty)
	}
	return cp
}

// Clone copies the node and its properties; children are shared.
func (w *Wire) Clone() *Wire {
	cp := *w
	cp.Properties = make(map[string]interface{}, len(w.Properties))
	for k, v := range w.Properties {
		cp.Properties[k] = v
	}
	if w.Struct != nil {
		cp.Struct = &WireFields{Fields: append([]WireField(nil), w.Struct.Fields...)}
	}
	if w.Union != nil {
		cp.Union = &WireFields{Fields: append([]WireField(nil), w.Union.Fields...)}
	}
	return &cp
}

// Children returns the named sub-nodes of a Struct or Union node.
func (w *Wire) Children() []WireField {
	switch {
	case w.Struct != nil:
		return w.Struct.Fields
	case w.Union != nil:
		return w.Union.Fields
	}
	return nil
}

// IsStruct reports whether the node is a Struct payload.
func (w *Wire) IsStruct() bool { return w.Struct != nil }

// IsUnion reports whether the node is a Union payload.
func (w *Wire) IsUnion() bool { return w.Union != nil }

// PublicFields lists the children a Union node declares public.
func (w *Wire) PublicFields() []string { return publicFields(w.Properties) }

// WithChild returns a copy of a Struct or Union node whose child i is c.
func (w *Wire) WithChild(i int, c *Wire) *Wire {
	cp := w.Clone()
	switch {
	case cp.Struct != nil:
		cp.Struct.Fields[i].Type = c
	case cp.Union != nil:
		cp.Union.Fields[i].Type = c
	}
	return cp
}

// Replace returns a leaf node with w's name, doc and properties and t's payload.
func (w *Wire) Replace(t DataType) *Wire {
	enc := Encode(t)
	enc.Name = w.Name
	enc.Doc = w.Doc
	enc.Properties = make(map[string]interface{}, len(w.Properties))
	for k, v := range w.Properties {
		enc.Properties[k] = v
	}
	return enc
}

// DataType decodes the node into a DataType.
func (w *Wire) DataType() (DataType, error) {
	if w == nil {
		return nil, qerrors.NewMalformedInput("missing type", nil)
	}
	switch {
	case w.Struct != nil:
		fields, err := decodeFields(w.Struct.Fields)
		if err != nil {
			return nil, err
		}
		return Struct{Fields: fields}, nil
	case w.Union != nil:
		fields, err := decodeFields(w.Union.Fields)
		if err != nil {
			return nil, err
		}
		return Union{Fields: fields, PublicFields: publicFields(w.Properties)}, nil
	case w.Optional != nil:
		inner, err := w.Optional.Type.DataType()
		if err != nil {
			return nil, err
		}
		return NewOptional(inner), nil
	case w.Integer != nil:
		return decodeInteger(w.Integer)
	case w.Float != nil:
		f := NewFloat()
		f.Base = orDefault(w.Float.Base, DefaultFloatBase)
		if w.Float.Min != nil {
			f.Min = float64(*w.Float.Min)
		}
		if w.Float.Max != nil {
			f.Max = float64(*w.Float.Max)
		}
		if f.Min > f.Max {
			return nil, qerrors.NewMalformedInput("float min exceeds max", nil)
		}
		return f, nil
	case w.Text != nil:
		t := TextValues(w.Text.PossibleValues...)
		t.Encoding = orDefault(w.Text.Encoding, DefaultEncoding)
		t.Min, t.Max = w.Text.Min, w.Text.Max
		return t, nil
	case w.Boolean != nil:
		return BooleanValues(w.Boolean.PossibleValues...), nil
	case w.Datetime != nil:
		format := orDefault(w.Datetime.Format, DefaultDatetimeFormat)
		lo, hi, err := decodeTimes(w.Datetime, format)
		if err != nil {
			return nil, err
		}
		return Datetime{Format: format, Min: lo, Max: hi}, nil
	case w.Date != nil:
		format := orDefault(w.Date.Format, DefaultDateFormat)
		lo, hi, err := decodeTimes(w.Date, format)
		if err != nil {
			return nil, err
		}
		return Date{Format: format, Min: lo, Max: hi}, nil
	case w.Id != nil:
		id := Id{Base: orDefault(w.Id.Base, DefaultIdBase), Unique: w.Id.Unique}
		if w.Id.Reference != nil {
			id.Reference = append([]string(nil), w.Id.Reference.Label...)
		}
		return id, nil
	case w.Unit != nil:
		return Null{}, nil
	}
	return decodeByName(w.Name)
}

func decodeFields(wfs []WireField) ([]Field, error) {
	fields := make([]Field, 0, len(wfs))
	for _, wf := range wfs {
		if wf.Name == "" {
			return nil, qerrors.NewMalformedInput("field without a name", nil)
		}
		t, err := wf.Type.DataType()
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: wf.Name, Type: t, Constraint: wf.Type.Constraint()})
	}
	return fields, nil
}

func decodeInteger(wi *WireInteger) (DataType, error) {
	if len(wi.PossibleValues) > 0 {
		vals := make([]int64, len(wi.PossibleValues))
		for i, v := range wi.PossibleValues {
			vals[i] = int64(v)
		}
		out := IntegerValues(vals...)
		out.Base = orDefault(wi.Base, DefaultIntegerBase)
		return out, nil
	}
	out := NewInteger()
	out.Base = orDefault(wi.Base, DefaultIntegerBase)
	if wi.Min != nil {
		out.Min = int64(*wi.Min)
	}
	if wi.Max != nil {
		out.Max = int64(*wi.Max)
	}
	if out.Min > out.Max {
		return nil, qerrors.NewMalformedInput("integer min exceeds max", nil)
	}
	return out, nil
}

func decodeTimes(wt *WireTime, format string) (time.Time, time.Time, error) {
	layout := GoLayout(format)
	var lo, hi time.Time
	var err error
	if wt.Min != "" {
		if lo, err = parseTime(layout, wt.Min); err != nil {
			return lo, hi, qerrors.NewMalformedInput("bad time bound", err)
		}
	}
	if wt.Max != "" {
		if hi, err = parseTime(layout, wt.Max); err != nil {
			return lo, hi, qerrors.NewMalformedInput("bad time bound", err)
		}
	}
	if !lo.IsZero() && !hi.IsZero() && lo.After(hi) {
		return lo, hi, qerrors.NewMalformedInput("time min exceeds max", nil)
	}
	return lo, hi, nil
}

func parseTime(layout, s string) (time.Time, error) {
	if t, err := time.Parse(layout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func decodeByName(name string) (DataType, error) {
	switch strings.ToLower(name) {
	case "integer", "int", "int64":
		return NewInteger(), nil
	case "float", "float64", "float32":
		return NewFloat(), nil
	case "text", "text utf-8", "string":
		return NewText(), nil
	case "boolean", "bool":
		return NewBoolean(), nil
	case "date":
		return NewDate(), nil
	case "datetime":
		return NewDatetime(), nil
	case "id":
		return NewId(), nil
	case "unit", "null":
		return Null{}, nil
	}
	return nil, qerrors.NewMalformedInput("unknown type "+strconv.Quote(name), nil)
}

func publicFields(props map[string]interface{}) []string {
	raw, ok := props["public_fields"]
	if !ok {
		return nil
	}
	var out []string
	switch v := raw.(type) {
	case string:
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil
		}
	case []interface{}:
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Encode produces the wire form of t with default node names.
func Encode(t DataType) *Wire {
	w := &Wire{Properties: map[string]interface{}{}}
	switch x := t.(type) {
	case Struct:
		w.Name = "Struct"
		w.Struct = &WireFields{Fields: encodeFields(x.Fields)}
	case Union:
		w.Name = "Union"
		w.Union = &WireFields{Fields: encodeFields(x.Fields)}
		if len(x.PublicFields) > 0 {
			b, _ := json.Marshal(x.PublicFields)
			w.Properties["public_fields"] = string(b)
		}
	case Optional:
		w.Name = "Optional"
		w.Optional = &WireOptional{Type: Encode(x.Inner)}
	case Integer:
		w.Name = "Integer"
		lo, hi := Int64(x.Min), Int64(x.Max)
		w.Integer = &WireInteger{Base: x.Base, Min: &lo, Max: &hi}
		for _, v := range x.PossibleValues {
			w.Integer.PossibleValues = append(w.Integer.PossibleValues, Int64(v))
		}
	case Float:
		w.Name = "Float64"
		lo, hi := Float64(x.Min), Float64(x.Max)
		w.Float = &WireFloat{Base: x.Base, Min: &lo, Max: &hi}
	case Text:
		w.Name = "Text " + orDefault(x.Encoding, DefaultEncoding)
		w.Text = &WireText{Encoding: x.Encoding, Min: x.Min, Max: x.Max, PossibleValues: x.PossibleValues}
	case Boolean:
		w.Name = "Boolean"
		w.Boolean = &WireBoolean{PossibleValues: x.PossibleValues}
	case Datetime:
		w.Name = "Datetime"
		w.Datetime = encodeTimes(x.Format, x.Min, x.Max)
	case Date:
		w.Name = "Date"
		w.Date = encodeTimes(x.Format, x.Min, x.Max)
	case Id:
		w.Name = "Id"
		w.Id = &WireId{Base: x.Base, Unique: x.Unique}
		if len(x.Reference) > 0 {
			w.Id.Reference = &WirePath{Label: x.Reference}
		}
	case Null:
		w.Name = "Unit"
		w.Unit = &struct{}{}
	}
	return w
}

func encodeFields(fields []Field) []WireField {
	out := make([]WireField, len(fields))
	for i, f := range fields {
		child := Encode(f.Type)
		if f.Constraint != ConstraintNone {
			child = child.WithConstraint(f.Constraint)
		}
		out[i] = WireField{Name: f.Name, Type: child}
	}
	return out
}

func encodeTimes(format string, lo, hi time.Time) *WireTime {
	layout := GoLayout(format)
	wt := &WireTime{Format: format}
	if !lo.IsZero() {
		wt.Min = lo.Format(layout)
	}
	if !hi.IsZero() {
		wt.Max = hi.Format(layout)
	}
	return wt
}

var strftime = strings.NewReplacer(
	"%Y", "2006", "%m", "01", "%d", "02",
	"%H", "15", "%M", "04", "%S", "05",
	"%f", "000000", "%z", "-0700", "%Z", "MST",
)

// GoLayout converts a strftime format into a Go time layout.
func GoLayout(format string) string {
	return strftime.Replace(format)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
