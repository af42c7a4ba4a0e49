package dp

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

func TestToDict(t *testing.T) {
	got := Composed{Events: []Event{
		Laplace{NoiseMultiplier: 2},
		EpsilonDelta{Epsilon: 0.5, Delta: 1e-6},
	}}.ToDict()
	want := map[string]interface{}{
		"module_name": "dp_accounting.dp_event",
		"class_name":  "ComposedDpEvent",
		"_fields":     []string{"module_name", "class_name", "events"},
		"events": []interface{}{
			map[string]interface{}{
				"module_name":      "dp_accounting.dp_event",
				"class_name":       "LaplaceDpEvent",
				"noise_multiplier": 2.0,
				"_fields":          []string{"module_name", "class_name", "noise_multiplier"},
			},
			map[string]interface{}{
				"module_name": "dp_accounting.dp_event",
				"class_name":  "EpsilonDeltaDpEvent",
				"epsilon":     0.5,
				"delta":       1e-6,
				"_fields":     []string{"module_name", "class_name", "epsilon", "delta"},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToDict mismatch (-want +got):\n%s", diff)
	}
}

func TestFromDict(t *testing.T) {
	events := []Event{
		NoOp{},
		Gaussian{NoiseMultiplier: 1.5},
		Laplace{NoiseMultiplier: 0.25},
		EpsilonDelta{Epsilon: 1, Delta: 1e-5},
		Composed{Events: []Event{Laplace{NoiseMultiplier: 1}, NoOp{}}},
		PoissonSampled{SamplingProbability: 0.1, Event: Laplace{NoiseMultiplier: 1}},
		SampledWithReplacement{SourceDatasetSize: 100, SampleSize: 10, Event: NoOp{}},
		SampledWithoutReplacement{SourceDatasetSize: 100, SampleSize: 10, Event: Gaussian{NoiseMultiplier: 2}},
	}
	for _, e := range events {
		t.Run(e.String(), func(t *testing.T) {
			got, err := FromDict(e.ToDict())
			if err != nil {
				t.Fatalf("FromDict: %v", err)
			}
			if diff := cmp.Diff(e, got); diff != "" {
				t.Errorf("FromDict mismatch (-want +got):\n%s", diff)
			}
		})
	}
	if _, err := FromDict(map[string]interface{}{"class_name": "LaplaceDpEvent"}); !errors.Is(err, qerrors.ErrMalformedInput) && !errors.Is(err, qerrors.ErrMissingKey) {
		t.Errorf("missing noise multiplier: got %v", err)
	}
}

func TestEventEpsilonDelta(t *testing.T) {
	approx := cmpopts.EquateApprox(0, 1e-12)
	tests := []struct {
		name      string
		event     Event
		delta     float64
		wantEps   float64
		wantDelta float64
	}{
		{"noop", NoOp{}, 0, 0, 0},
		{"laplace", Laplace{NoiseMultiplier: 4}, 0, 0.25, 0},
		{"gaussian", Gaussian{NoiseMultiplier: 2}, 1e-5, math.Sqrt(2*math.Log(1.25e5)) / 2, 1e-5},
		{"epsilon delta", EpsilonDelta{Epsilon: 1, Delta: 1e-6}, 0, 1, 1e-6},
		{
			"composed",
			Composed{Events: []Event{Laplace{NoiseMultiplier: 2}, EpsilonDelta{Epsilon: 0.5, Delta: 1e-6}}},
			0, 1, 1e-6,
		},
		{
			"poisson",
			PoissonSampled{SamplingProbability: 0.1, Event: EpsilonDelta{Epsilon: 1, Delta: 1e-4}},
			0, math.Log(1 + 0.1*(math.E-1)), 1e-5,
		},
		{
			"with replacement",
			SampledWithReplacement{SourceDatasetSize: 100, SampleSize: 10, Event: Laplace{NoiseMultiplier: 1}},
			0, 1, 0,
		},
		{
			"without replacement",
			SampledWithoutReplacement{SourceDatasetSize: 100, SampleSize: 10, Event: Laplace{NoiseMultiplier: 1}},
			0, math.Log(1 + 0.1*(math.E-1)), 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eps, delta, err := tt.event.EpsilonDelta(tt.delta)
			if err != nil {
				t.Fatalf("EpsilonDelta: %v", err)
			}
			if !cmp.Equal(eps, tt.wantEps, approx) || !cmp.Equal(delta, tt.wantDelta, approx) {
				t.Errorf("EpsilonDelta = (%g, %g), want (%g, %g)", eps, delta, tt.wantEps, tt.wantDelta)
			}
		})
	}
	if _, _, err := (Gaussian{NoiseMultiplier: 1}).EpsilonDelta(0); !errors.Is(err, qerrors.ErrMalformedInput) {
		t.Errorf("Gaussian at delta 0: got %v, want MalformedInput", err)
	}
}

func TestBudgetFromMap(t *testing.T) {
	b, err := BudgetFromMap(map[string]float64{"epsilon": 1, "delta": 1e-5})
	if err != nil {
		t.Fatalf("BudgetFromMap: %v", err)
	}
	if b != (Budget{Epsilon: 1, Delta: 1e-5}) {
		t.Errorf("got %+v", b)
	}
	_, err = BudgetFromMap(map[string]float64{"delta": 1e-5})
	if !errors.Is(err, qerrors.ErrMissingKey) {
		t.Fatalf("missing epsilon: got %v, want MissingKey", err)
	}
	var ee *qerrors.EngineError
	if !errors.As(err, &ee) || ee.Message != "Missing epsilon key" {
		t.Errorf("message = %v, want %q", err, "Missing epsilon key")
	}
	for _, bad := range []Budget{{0, 0}, {-1, 0}, {math.Inf(1), 0}, {1, -0.1}, {1, 1}} {
		if err := bad.Validate(); !errors.Is(err, qerrors.ErrMalformedInput) {
			t.Errorf("Validate(%+v) = %v, want MalformedInput", bad, err)
		}
	}
}

func TestParseMechanism(t *testing.T) {
	tests := []struct {
		in      string
		want    Mechanism
		wantErr bool
	}{
		{"", MechanismLaplace, false},
		{"Laplace", MechanismLaplace, false},
		{"gaussian", MechanismGaussian, false},
		{"exponential", MechanismLaplace, true},
	}
	for _, tt := range tests {
		got, err := ParseMechanism(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMechanism(%q) = %v, %v; want %v, error %t", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
