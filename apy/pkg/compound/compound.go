// Package compound annualizes per-epoch interest rates.
package compound

import (
	"errors"
	"fmt"
	"math"
)

const HoursPerYear = 365 * 24

var ErrInvalidInput = errors.New("invalid compounding input")

// Compounder annualizes rates for a given average epoch duration.
type Compounder struct {
	EpochDurationHours float64
}

func New(epochDurationHours float64) Compounder {
	return Compounder{EpochDurationHours: epochDurationHours}
}

// EpochsPerYear is the number of epochs of the configured duration in a 365 day year.
func (c Compounder) EpochsPerYear() float64 {
	return HoursPerYear / c.EpochDurationHours
}

// Annualize compounds interestPerPeriod, earned over numEpochs epochs, to a one
// year horizon and returns it as a percentage rounded to 4 decimal places.
//
// For example with 136.576 epochs per year, 0.055% per epoch gives
// (1.00055 ^ 136.576) - 1 = 7.8% APY.
func (c Compounder) Annualize(numEpochs int, interestPerPeriod float64) (float64, error) {
	if numEpochs < 1 {
		return 0, fmt.Errorf("%w: epoch count %d must be at least 1", ErrInvalidInput, numEpochs)
	}
	if !isFinite(c.EpochDurationHours) || c.EpochDurationHours <= 0 {
		return 0, fmt.Errorf("%w: epoch duration %v hours", ErrInvalidInput, c.EpochDurationHours)
	}
	if !isFinite(interestPerPeriod) {
		return 0, fmt.Errorf("%w: interest %v is not finite", ErrInvalidInput, interestPerPeriod)
	}
	if interestPerPeriod < -1 {
		return 0, fmt.Errorf("%w: interest %v is below -100%%", ErrInvalidInput, interestPerPeriod)
	}

	apy := math.Pow(1+interestPerPeriod, c.EpochsPerYear()/float64(numEpochs)) - 1
	return math.Round(apy*1_000_000) / 10_000, nil
}

// Round rounds v to the given number of decimal places, half away from zero.
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
