package dataset

import (
	"encoding/json"
	"math"

	"github.com/qrlew/qrlew-go/internal/datatype"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

// Statistics is a decoded node of a size document.
type Statistics struct {
	Name string
	// Size is the row count, or -1 when the document does not give one.
	Size         int64
	Multiplicity float64
	Fields       []NamedStatistics
	Distribution *Distribution
}

// NamedStatistics is a child of a Struct or Union statistics node.
type NamedStatistics struct {
	Name       string
	Statistics *Statistics
}

// Distribution summarizes the values of a column.
type Distribution struct {
	Min, Max float64
	// Points are the numeric support points, if any.
	Points []float64
}

// Interval returns the distribution bounds.
func (d Distribution) Interval() datatype.Interval {
	return datatype.Interval{Lo: d.Min, Hi: d.Max}
}

// Field returns the named child.
func (s *Statistics) Field(name string) (*Statistics, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Statistics, true
		}
	}
	return nil, false
}

// lookup follows names from s, stepping through administrative wrappers.
func (s *Statistics) lookup(names []string) (*Statistics, bool) {
	cur := s
	for _, name := range names {
		next, ok := cur.Field(name)
		if !ok {
			data, wrapped := cur.Field(adminData)
			if !wrapped {
				return nil, false
			}
			if next, ok = data.Field(name); !ok {
				return nil, false
			}
		}
		cur = next
	}
	return cur, true
}

func decodeStatistics(w *StatisticsWire) (*Statistics, error) {
	if w == nil {
		return nil, qerrors.NewMalformedInput("missing statistics", nil)
	}
	s := &Statistics{Name: w.Name, Size: -1, Multiplicity: 1}
	switch {
	case w.Struct != nil || w.Union != nil:
		fs := w.Struct
		if fs == nil {
			fs = w.Union
		}
		setCounts(s, fs.Size, fs.Multiplicity)
		for _, f := range fs.Fields {
			child, err := decodeStatistics(f.Statistics)
			if err != nil {
				return nil, err
			}
			s.Fields = append(s.Fields, NamedStatistics{Name: f.Name, Statistics: child})
		}
	case w.Optional != nil:
		inner, err := decodeStatistics(w.Optional.Statistics)
		if err != nil {
			return nil, err
		}
		*s = *inner
		s.Name = w.Name
		setCounts(s, w.Optional.Size, w.Optional.Multiplicity)
	default:
		leaf := firstLeaf(w.Integer, w.Float, w.Text, w.Boolean, w.Datetime, w.Date, w.Id)
		if leaf == nil {
			return s, nil
		}
		setCounts(s, leaf.Size, leaf.Multiplicity)
		if leaf.Distribution != nil {
			d, err := decodeDistribution(leaf.Distribution)
			if err != nil {
				return nil, err
			}
			s.Distribution = d
		}
	}
	return s, nil
}

func setCounts(s *Statistics, size *datatype.Int64, multiplicity *datatype.Float64) {
	if size != nil {
		s.Size = int64(*size)
	}
	if multiplicity != nil {
		s.Multiplicity = float64(*multiplicity)
	}
}

func firstLeaf(leaves ...*StatisticsLeaf) *StatisticsLeaf {
	for _, l := range leaves {
		if l != nil {
			return l
		}
	}
	return nil
}

func decodeDistribution(w *DistributionWire) (*Distribution, error) {
	switch {
	case w.Integer != nil:
		return decodeDistribution(w.Integer)
	case w.Double != nil:
		return decodeDistribution(w.Double)
	}
	d := &Distribution{Min: math.Inf(-1), Max: math.Inf(1)}
	if w.Min != nil {
		d.Min = float64(*w.Min)
	}
	if w.Max != nil {
		d.Max = float64(*w.Max)
	}
	if d.Min > d.Max {
		return nil, qerrors.NewMalformedInput("distribution min exceeds max", nil)
	}
	for _, p := range w.Points {
		var v datatype.Float64
		if err := json.Unmarshal(p.Value, &v); err == nil {
			d.Points = append(d.Points, float64(v))
		}
	}
	return d, nil
}

func encodeSize(n int64) *datatype.Int64 {
	v := datatype.Int64(n)
	return &v
}

func encodeMultiplicity(m float64) *datatype.Float64 {
	v := datatype.Float64(m)
	return &v
}
