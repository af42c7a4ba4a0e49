package dp

import (
	"strings"

	"github.com/google/differential-privacy/go/v2/checks"

	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/privacy"
)

// Budget is an (epsilon, delta) privacy budget.
type Budget struct {
	Epsilon float64 `json:"epsilon" yaml:"epsilon"`
	Delta   float64 `json:"delta" yaml:"delta"`
}

// Validate requires a positive finite epsilon and a delta in [0, 1).
func (b Budget) Validate() error {
	if err := checks.CheckEpsilonStrict(b.Epsilon); err != nil {
		return qerrors.NewMalformedInput("invalid epsilon", err)
	}
	if err := checks.CheckDelta(b.Delta); err != nil {
		return qerrors.NewMalformedInput("invalid delta", err)
	}
	return nil
}

// BudgetFromMap reads the {"epsilon": e, "delta": d} budget parameter.
func BudgetFromMap(m map[string]float64) (Budget, error) {
	eps, ok := m["epsilon"]
	if !ok {
		return Budget{}, qerrors.NewMissingKey("epsilon")
	}
	delta, ok := m["delta"]
	if !ok {
		return Budget{}, qerrors.NewMissingKey("delta")
	}
	b := Budget{Epsilon: eps, Delta: delta}
	return b, b.Validate()
}

// split divides b evenly in n parts.
func (b Budget) split(n int) Budget {
	if n <= 1 {
		return b
	}
	return Budget{Epsilon: b.Epsilon / float64(n), Delta: b.Delta / float64(n)}
}

// Mechanism selects the noise distribution of aggregates.
type Mechanism int

const (
	MechanismLaplace Mechanism = iota
	MechanismGaussian
)

func (m Mechanism) String() string {
	if m == MechanismGaussian {
		return "gaussian"
	}
	return "laplace"
}

// ParseMechanism reads "laplace" or "gaussian". The empty string is Laplace.
func ParseMechanism(s string) (Mechanism, error) {
	switch strings.ToLower(s) {
	case "", "laplace":
		return MechanismLaplace, nil
	case "gaussian":
		return MechanismGaussian, nil
	}
	return MechanismLaplace, qerrors.NewMalformedInput("unknown mechanism "+s, nil)
}

const (
	DefaultTauThresholdingShare = 0.5
	// MaxPublicPartitions bounds the cross product of enumerated group key
	// domains used as public partitions.
	MaxPublicPartitions = 10000
	// MinMechanismEpsilon is the smallest epsilon given to one mechanism.
	MinMechanismEpsilon = 1e-6
	// ConfidenceAlpha is the level of the noise confidence interval
	// checked against the range of each aggregate.
	ConfidenceAlpha = 0.05
)

// Parameters configure the DP rewrite.
type Parameters struct {
	Budget               Budget
	Privacy              privacy.Parameters
	TauThresholdingShare float64
	Mechanism            Mechanism
}

// DefaultParameters returns Laplace noise, half the budget of thresholded
// reduces spent on thresholding and the default privacy parameters.
func DefaultParameters(b Budget) Parameters {
	return Parameters{
		Budget:               b,
		Privacy:              privacy.DefaultParameters(),
		TauThresholdingShare: DefaultTauThresholdingShare,
		Mechanism:            MechanismLaplace,
	}
}

// Validate checks the budget, the privacy parameters and the threshold
// share.
func (p Parameters) Validate() error {
	if err := p.Budget.Validate(); err != nil {
		return err
	}
	if err := p.Privacy.Validate(); err != nil {
		return err
	}
	if p.TauThresholdingShare <= 0 || p.TauThresholdingShare >= 1 {
		return qerrors.NewMalformedInput("tau thresholding share must be in (0, 1)", nil)
	}
	return nil
}
