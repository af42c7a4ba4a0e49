// Package dp rewrites relations into differentially private ones and
// accounts for the privacy they spend as a DpEvent.
package dp

import (
	"fmt"
	"math"
	"strings"

	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

// moduleName is the accounting module the event dictionaries belong to.
const moduleName = "dp_accounting.dp_event"

// Event is a privacy accounting event: one of NoOp, Gaussian, Laplace,
// EpsilonDelta, Composed, PoissonSampled, SampledWithReplacement or
// SampledWithoutReplacement.
type Event interface {
	// ToDict returns the event as a dictionary in the dp_accounting layout.
	ToDict() map[string]interface{}
	// EpsilonDelta returns the event's cost. Gaussian events are charged at
	// gaussianDelta.
	EpsilonDelta(gaussianDelta float64) (epsilon, delta float64, err error)
	String() string
	isEvent()
}

// NoOp spends nothing.
type NoOp struct{}

// Gaussian is a Gaussian mechanism with noise standard deviation
// NoiseMultiplier times the sensitivity.
type Gaussian struct {
	NoiseMultiplier float64
}

// Laplace is a Laplace mechanism with scale NoiseMultiplier times the L1
// sensitivity.
type Laplace struct {
	NoiseMultiplier float64
}

// EpsilonDelta is an (epsilon, delta)-DP mechanism.
type EpsilonDelta struct {
	Epsilon, Delta float64
}

// Composed is the sequential composition of its events.
type Composed struct {
	Events []Event
}

// PoissonSampled runs Event on a Poisson sample.
type PoissonSampled struct {
	SamplingProbability float64
	Event               Event
}

// SampledWithReplacement runs Event on SampleSize records drawn with
// replacement.
type SampledWithReplacement struct {
	SourceDatasetSize, SampleSize int64
	Event                         Event
}

// SampledWithoutReplacement runs Event on SampleSize distinct records.
type SampledWithoutReplacement struct {
	SourceDatasetSize, SampleSize int64
	Event                         Event
}

func (NoOp) isEvent()                      {}
func (Gaussian) isEvent()                  {}
func (Laplace) isEvent()                   {}
func (EpsilonDelta) isEvent()              {}
func (Composed) isEvent()                  {}
func (PoissonSampled) isEvent()            {}
func (SampledWithReplacement) isEvent()    {}
func (SampledWithoutReplacement) isEvent() {}

// dict builds an event dictionary; kv alternates field names and values.
func dict(class string, kv ...interface{}) map[string]interface{} {
	d := map[string]interface{}{"module_name": moduleName, "class_name": class}
	fields := []string{"module_name", "class_name"}
	for i := 0; i+1 < len(kv); i += 2 {
		name := kv[i].(string)
		d[name] = kv[i+1]
		fields = append(fields, name)
	}
	d["_fields"] = fields
	return d
}

func (NoOp) ToDict() map[string]interface{} { return dict("NoOpDpEvent") }

func (e Gaussian) ToDict() map[string]interface{} {
	return dict("GaussianDpEvent", "noise_multiplier", e.NoiseMultiplier)
}

func (e Laplace) ToDict() map[string]interface{} {
	return dict("LaplaceDpEvent", "noise_multiplier", e.NoiseMultiplier)
}

func (e EpsilonDelta) ToDict() map[string]interface{} {
	return dict("EpsilonDeltaDpEvent", "epsilon", e.Epsilon, "delta", e.Delta)
}

func (e Composed) ToDict() map[string]interface{} {
	events := make([]interface{}, len(e.Events))
	for i, ev := range e.Events {
		events[i] = ev.ToDict()
	}
	return dict("ComposedDpEvent", "events", events)
}

func (e PoissonSampled) ToDict() map[string]interface{} {
	return dict("PoissonSampledDpEvent", "sampling_probability", e.SamplingProbability, "event", e.Event.ToDict())
}

func (e SampledWithReplacement) ToDict() map[string]interface{} {
	return dict("SampledWithReplacementDpEvent", "source_dataset_size", e.SourceDatasetSize,
		"sample_size", e.SampleSize, "event", e.Event.ToDict())
}

func (e SampledWithoutReplacement) ToDict() map[string]interface{} {
	return dict("SampledWithoutReplacementDpEvent", "source_dataset_size", e.SourceDatasetSize,
		"sample_size", e.SampleSize, "event", e.Event.ToDict())
}

func (NoOp) EpsilonDelta(float64) (float64, float64, error) { return 0, 0, nil }

func (e Laplace) EpsilonDelta(float64) (float64, float64, error) {
	if e.NoiseMultiplier <= 0 {
		return 0, 0, qerrors.NewMalformedInput("Laplace noise multiplier must be positive", nil)
	}
	return 1 / e.NoiseMultiplier, 0, nil
}

// EpsilonDelta charges the classical Gaussian mechanism bound
// epsilon = sqrt(2 ln(1.25/delta)) / noise_multiplier.
func (e Gaussian) EpsilonDelta(gaussianDelta float64) (float64, float64, error) {
	if e.NoiseMultiplier <= 0 {
		return 0, 0, qerrors.NewMalformedInput("Gaussian noise multiplier must be positive", nil)
	}
	if gaussianDelta <= 0 || gaussianDelta >= 1 {
		return 0, 0, qerrors.NewMalformedInput(fmt.Sprintf("cannot charge a Gaussian event at delta %g", gaussianDelta), nil)
	}
	return math.Sqrt(2*math.Log(1.25/gaussianDelta)) / e.NoiseMultiplier, gaussianDelta, nil
}

func (e EpsilonDelta) EpsilonDelta(float64) (float64, float64, error) { return e.Epsilon, e.Delta, nil }

func (e Composed) EpsilonDelta(gaussianDelta float64) (float64, float64, error) {
	var eps, delta float64
	for _, ev := range e.Events {
		ee, dd, err := ev.EpsilonDelta(gaussianDelta)
		if err != nil {
			return 0, 0, err
		}
		eps += ee
		delta += dd
	}
	return eps, delta, nil
}

// amplify applies privacy amplification by sampling with rate q.
func amplify(q, eps, delta float64) (float64, float64) {
	return math.Log1p(q * math.Expm1(eps)), q * delta
}

func (e PoissonSampled) EpsilonDelta(gaussianDelta float64) (float64, float64, error) {
	eps, delta, err := e.Event.EpsilonDelta(gaussianDelta)
	if err != nil {
		return 0, 0, err
	}
	eps, delta = amplify(e.SamplingProbability, eps, delta)
	return eps, delta, nil
}

// EpsilonDelta does not amplify: a record may be drawn several times.
func (e SampledWithReplacement) EpsilonDelta(gaussianDelta float64) (float64, float64, error) {
	return e.Event.EpsilonDelta(gaussianDelta)
}

func (e SampledWithoutReplacement) EpsilonDelta(gaussianDelta float64) (float64, float64, error) {
	eps, delta, err := e.Event.EpsilonDelta(gaussianDelta)
	if err != nil || e.SourceDatasetSize <= 0 {
		return eps, delta, err
	}
	q := math.Min(1, float64(e.SampleSize)/float64(e.SourceDatasetSize))
	eps, delta = amplify(q, eps, delta)
	return eps, delta, nil
}

func (NoOp) String() string           { return "NoOp" }
func (e Gaussian) String() string     { return fmt.Sprintf("Gaussian(%g)", e.NoiseMultiplier) }
func (e Laplace) String() string      { return fmt.Sprintf("Laplace(%g)", e.NoiseMultiplier) }
func (e EpsilonDelta) String() string { return fmt.Sprintf("EpsilonDelta(%g, %g)", e.Epsilon, e.Delta) }

func (e Composed) String() string {
	parts := make([]string, len(e.Events))
	for i, ev := range e.Events {
		parts[i] = ev.String()
	}
	return "Composed(" + strings.Join(parts, ", ") + ")"
}

func (e PoissonSampled) String() string {
	return fmt.Sprintf("PoissonSampled(%g, %s)", e.SamplingProbability, e.Event)
}

func (e SampledWithReplacement) String() string {
	return fmt.Sprintf("SampledWithReplacement(%d, %d, %s)", e.SourceDatasetSize, e.SampleSize, e.Event)
}

func (e SampledWithoutReplacement) String() string {
	return fmt.Sprintf("SampledWithoutReplacement(%d, %d, %s)", e.SourceDatasetSize, e.SampleSize, e.Event)
}

// FromDict reads an event dictionary produced by ToDict.
func FromDict(d map[string]interface{}) (Event, error) {
	class, _ := d["class_name"].(string)
	num := func(key string) (float64, error) {
		switch v := d[key].(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
		return 0, qerrors.NewMissingKey(key)
	}
	inner := func() (Event, error) {
		sub, ok := d["event"].(map[string]interface{})
		if !ok {
			return nil, qerrors.NewMissingKey("event")
		}
		return FromDict(sub)
	}
	switch class {
	case "NoOpDpEvent":
		return NoOp{}, nil
	case "GaussianDpEvent", "LaplaceDpEvent":
		nm, err := num("noise_multiplier")
		if err != nil {
			return nil, err
		}
		if class == "GaussianDpEvent" {
			return Gaussian{NoiseMultiplier: nm}, nil
		}
		return Laplace{NoiseMultiplier: nm}, nil
	case "EpsilonDeltaDpEvent":
		eps, err := num("epsilon")
		if err != nil {
			return nil, err
		}
		delta, err := num("delta")
		if err != nil {
			return nil, err
		}
		return EpsilonDelta{Epsilon: eps, Delta: delta}, nil
	case "ComposedDpEvent":
		var out Composed
		raw, _ := d["events"].([]interface{})
		for _, r := range raw {
			sub, ok := r.(map[string]interface{})
			if !ok {
				return nil, qerrors.NewMalformedInput("composed event entry is not a dictionary", nil)
			}
			ev, err := FromDict(sub)
			if err != nil {
				return nil, err
			}
			out.Events = append(out.Events, ev)
		}
		return out, nil
	case "PoissonSampledDpEvent":
		q, err := num("sampling_probability")
		if err != nil {
			return nil, err
		}
		ev, err := inner()
		if err != nil {
			return nil, err
		}
		return PoissonSampled{SamplingProbability: q, Event: ev}, nil
	case "SampledWithReplacementDpEvent", "SampledWithoutReplacementDpEvent":
		n, err := num("source_dataset_size")
		if err != nil {
			return nil, err
		}
		k, err := num("sample_size")
		if err != nil {
			return nil, err
		}
		ev, err := inner()
		if err != nil {
			return nil, err
		}
		if class == "SampledWithReplacementDpEvent" {
			return SampledWithReplacement{SourceDatasetSize: int64(n), SampleSize: int64(k), Event: ev}, nil
		}
		return SampledWithoutReplacement{SourceDatasetSize: int64(n), SampleSize: int64(k), Event: ev}, nil
	}
	return nil, qerrors.NewMalformedInput("unknown event class "+class, nil)
}
