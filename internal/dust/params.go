// params.go - Generation parameters and the regeneration curve.

package dust

import (
	"time"

	"github.com/iotaledger/hive.go/core/safemath"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/shopspring/decimal"
)

// Params configures Dust generation. Values are in atomic units per Night atom.
type Params struct {
	// NightDustRatio is the Dust cap per Night atom.
	NightDustRatio uint64 `yaml:"night_dust_ratio"`
	// GenerationDecayRate is the Dust generated, and after the backing Night is spent decayed, per Night atom per second.
	GenerationDecayRate uint64 `yaml:"generation_decay_rate"`
	// DustGracePeriodSeconds bounds how far a spend's declared time may lag the block time.
	DustGracePeriodSeconds uint64 `yaml:"dust_grace_period_seconds"`
}

// DefaultParams caps after roughly one week.
func DefaultParams() Params {
	return Params{
		NightDustRatio:         5_000_000_000,
		GenerationDecayRate:    8_267,
		DustGracePeriodSeconds: 3 * 60 * 60,
	}
}

func (p Params) Validate() error {
	if p.NightDustRatio == 0 {
		return ierrors.Wrap(ErrInvalidParams, "night dust ratio must be positive")
	}
	if p.GenerationDecayRate == 0 {
		return ierrors.Wrap(ErrInvalidParams, "generation decay rate must be positive")
	}

	return nil
}

// TimeToCapSeconds is ceil(NightDustRatio / GenerationDecayRate).
func (p Params) TimeToCapSeconds() uint64 {
	if p.GenerationDecayRate == 0 {
		return 0
	}

	return (p.NightDustRatio + p.GenerationDecayRate - 1) / p.GenerationDecayRate
}

func (p Params) TimeToCap() time.Duration {
	return time.Duration(p.TimeToCapSeconds()) * time.Second
}

func (p Params) GracePeriod() time.Duration {
	return time.Duration(p.DustGracePeriodSeconds) * time.Second
}

// Cap is the maximum Dust a Night output of the given value generates.
func (p Params) Cap(nightValue uint64) (uint64, error) {
	c, err := safemath.Safe64MulDiv(nightValue, p.NightDustRatio, 1)
	if err != nil {
		return 0, ierrors.Wrapf(ErrArithmeticOverflow, "cap of %d night", nightValue)
	}

	return c, nil
}

// Curve maps elapsed generation time onto the fraction of the remaining gap to
// the cap that has been generated. Implementations must be monotonic, return 0
// at 0 and 1 from timeToCap on.
type Curve interface {
	Progress(elapsed, timeToCap uint64) decimal.Decimal
}

var one = decimal.NewFromInt(1)

func fraction(elapsed, timeToCap uint64) decimal.Decimal {
	if timeToCap == 0 || elapsed >= timeToCap {
		return one
	}

	return decimal.NewFromUint64(elapsed).Div(decimal.NewFromUint64(timeToCap))
}

// Linear generates at a constant rate.
type Linear struct{}

func (Linear) Progress(elapsed, timeToCap uint64) decimal.Decimal {
	return fraction(elapsed, timeToCap)
}

// EaseOut generates quickly at first and slows down towards the cap: 1 - (1-x)^2.
type EaseOut struct{}

func (EaseOut) Progress(elapsed, timeToCap uint64) decimal.Decimal {
	x := fraction(elapsed, timeToCap)
	rest := one.Sub(x)

	return one.Sub(rest.Mul(rest))
}

// ValueAt evaluates the balance of out at t. The balance grows from the initial
// value towards the cap while the backing Night is unspent and decays linearly
// at the generation rate afterwards.
func (p Params) ValueAt(curve Curve, out Output, gen GenerationInfo, t time.Time) (uint64, error) {
	if curve == nil {
		curve = Linear{}
	}
	limit, err := p.Cap(gen.Value)
	if err != nil {
		return 0, err
	}

	value := out.InitialValue
	growthEnd := t
	if !gen.Dtime.IsZero() && gen.Dtime.Before(growthEnd) {
		growthEnd = gen.Dtime
	}
	if growthEnd.After(out.Ctime) && value < limit {
		elapsed := uint64(growthEnd.Sub(out.Ctime) / time.Second)
		gap := limit - value
		grown := decimal.NewFromUint64(gap).Mul(curve.Progress(elapsed, p.TimeToCapSeconds())).Floor()
		if grown.GreaterThan(decimal.NewFromUint64(gap)) {
			grown = decimal.NewFromUint64(gap)
		}
		if value, err = safemath.SafeAdd(value, grown.BigInt().Uint64()); err != nil {
			return 0, ierrors.Wrap(ErrArithmeticOverflow, "generated value")
		}
	}

	if gen.Dtime.IsZero() {
		return value, nil
	}
	decayStart := gen.Dtime
	if out.Ctime.After(decayStart) {
		decayStart = out.Ctime
	}
	if !t.After(decayStart) {
		return value, nil
	}

	rate, err := safemath.Safe64MulDiv(gen.Value, p.GenerationDecayRate, 1)
	if err != nil {
		return 0, ierrors.Wrapf(ErrArithmeticOverflow, "decay rate of %d night", gen.Value)
	}
	elapsed := uint64(t.Sub(decayStart) / time.Second)
	if rate == 0 {
		return value, nil
	}
	// past value/rate seconds the output is fully decayed
	if elapsed > value/rate {
		return 0, nil
	}
	decayed, err := safemath.Safe64MulDiv(rate, elapsed, 1)
	if err != nil {
		return 0, ierrors.Wrap(ErrArithmeticOverflow, "decayed value")
	}
	remaining, err := safemath.SafeSub(value, decayed)
	if err != nil {
		return 0, ierrors.Wrap(ErrArithmeticOverflow, "remaining value")
	}

	return remaining, nil
}
