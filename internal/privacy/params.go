package privacy

import (
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

// Strategy decides what happens where a plan cannot keep track of units
// exactly.
type Strategy int

const (
	// Hard fails with UnreachableProperty.
	Hard Strategy = iota
	// Soft keeps the bound on rows per unit and gives up fidelity: an
	// aggregate is computed per unit, a join only pairs rows of the same
	// unit and a public set operand gets one unit per row.
	Soft
)

func (s Strategy) String() string {
	if s == Soft {
		return "soft"
	}
	return "hard"
}

// ParseStrategy reads "hard" or "soft", case-insensitively. The empty string
// is Hard.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "", "hard":
		return Hard, nil
	case "soft":
		return Soft, nil
	}
	return Hard, qerrors.NewMalformedInput("unknown strategy "+s, nil)
}

// SyntheticPair substitutes the table at Synthetic for the table at Original.
// Synthetic data is public.
type SyntheticPair struct {
	Original  []string `validate:"required,min=1"`
	Synthetic []string `validate:"required,min=1"`
}

// Parameters tune the rewrite.
type Parameters struct {
	MaxMultiplicity      float64         `validate:"gt=0"`
	MaxMultiplicityShare float64         `validate:"gt=0,lte=1"`
	Strategy             Strategy        `validate:"oneof=0 1"`
	SyntheticData        []SyntheticPair `validate:"dive"`
}

const (
	DefaultMaxMultiplicity      = 100
	DefaultMaxMultiplicityShare = 0.1
)

// DefaultParameters returns the Hard strategy with the default multiplicity
// bounds.
func DefaultParameters() Parameters {
	return Parameters{
		MaxMultiplicity:      DefaultMaxMultiplicity,
		MaxMultiplicityShare: DefaultMaxMultiplicityShare,
		Strategy:             Hard,
	}
}

var validate = validator.New()

// Validate checks parameter ranges.
func (p Parameters) Validate() error {
	if err := validate.Struct(p); err != nil {
		return qerrors.NewMalformedInput("invalid privacy parameters", err)
	}
	return nil
}

// Multiplicity is the number of rows one unit may contribute:
// max(1, floor(min(MaxMultiplicity, MaxMultiplicityShare * sizeMax))). The
// share term is ignored when sizeMax is unbounded (negative).
func (p Parameters) Multiplicity(sizeMax int64) int64 {
	m := p.MaxMultiplicity
	if sizeMax >= 0 {
		m = math.Min(m, p.MaxMultiplicityShare*float64(sizeMax))
	}
	if m < 1 || math.IsNaN(m) {
		return 1
	}
	return int64(math.Floor(m))
}
