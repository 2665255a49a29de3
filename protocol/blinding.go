package protocol

import (
	"math/big"

	"go.dedis.ch/kyber/v3/util/random"
	"go.dedis.ch/trafficledger/scheme"
	"golang.org/x/xerrors"
)

// Blinding hides an aggregate from the facilitator. Affine schemes use
// v*slope + bias, multiplicative schemes use v + offset since a scaled sum
// of squares would not match a scaled sum anymore.
type Blinding interface {
	// Generate draws fresh secret parameters.
	Generate(pos Position) BlindingParameters
	// Check returns ErrDegenerateBlinding if p can't be removed.
	Check(p BlindingParameters) error
	// Blind applies p to an encrypted value.
	Blind(ev scheme.Evaluator, p BlindingParameters, c scheme.Ciphertext) (scheme.Ciphertext, error)
	// Unblind removes p from a decrypted value.
	Unblind(p BlindingParameters, v int64) (int64, error)
}

// NewBlinding returns the blinding matching the variant of the scheme.
func NewBlinding(v scheme.Variant, c Config) Blinding {
	if v == scheme.VariantMultiplicative {
		return &AdditiveBlinding{Bound: c.OffsetBound}
	}
	return &AffineBlinding{
		SlopeMin: c.SlopeMin, SlopeMax: c.SlopeMax,
		BiasMin: c.BiasMin, BiasMax: c.BiasMax,
	}
}

// uniform returns a random integer in [min, max]. random.Int never returns
// 0, so it draws from [1, max-min+1].
func uniform(min, max int64) int64 {
	n := random.Int(big.NewInt(max-min+2), random.New())
	return min + n.Int64() - 1
}

// AffineBlinding maps v to v*slope + bias.
type AffineBlinding struct {
	SlopeMin, SlopeMax int64
	BiasMin, BiasMax   int64
}

// Generate implements Blinding.
func (a *AffineBlinding) Generate(pos Position) BlindingParameters {
	return BlindingParameters{
		Position: pos,
		Slope:    uniform(a.SlopeMin, a.SlopeMax),
		Bias:     uniform(a.BiasMin, a.BiasMax),
	}
}

// Check implements Blinding.
func (a *AffineBlinding) Check(p BlindingParameters) error {
	if p.Slope == 0 {
		return xerrors.Errorf("%w: %s slope is 0", ErrDegenerateBlinding, p.Position)
	}
	return nil
}

// Blind implements Blinding.
func (a *AffineBlinding) Blind(ev scheme.Evaluator, p BlindingParameters, c scheme.Ciphertext) (scheme.Ciphertext, error) {
	aff, ok := ev.(scheme.AffineEvaluator)
	if !ok {
		return nil, xerrors.New("scheme cannot compute affine transforms")
	}
	return aff.Affine(c, p.Slope, p.Bias)
}

// Unblind implements Blinding. A value that is not bias plus a multiple of
// slope was not blinded with p.
func (a *AffineBlinding) Unblind(p BlindingParameters, v int64) (int64, error) {
	if err := a.Check(p); err != nil {
		return 0, err
	}
	d := v - p.Bias
	if d%p.Slope != 0 {
		return 0, xerrors.Errorf("%d is not blinded with slope %d and bias %d", v, p.Slope, p.Bias)
	}
	return d / p.Slope, nil
}

// AdditiveBlinding maps v to v + offset, with offset in [-Bound, Bound]
// and never 0.
type AdditiveBlinding struct {
	Bound int64
}

// Generate implements Blinding.
func (a *AdditiveBlinding) Generate(pos Position) BlindingParameters {
	e := uniform(0, 2*a.Bound-1) - a.Bound
	if e >= 0 {
		e++
	}
	return BlindingParameters{Position: pos, Offset: e}
}

// Check implements Blinding.
func (a *AdditiveBlinding) Check(p BlindingParameters) error {
	if p.Offset == 0 {
		return xerrors.Errorf("%w: %s offset is 0", ErrDegenerateBlinding, p.Position)
	}
	return nil
}

// Blind implements Blinding.
func (a *AdditiveBlinding) Blind(ev scheme.Evaluator, p BlindingParameters, c scheme.Ciphertext) (scheme.Ciphertext, error) {
	e, err := ev.Encrypt(p.Offset)
	if err != nil {
		return nil, err
	}
	return ev.Add(c, e)
}

// Unblind implements Blinding.
func (a *AdditiveBlinding) Unblind(p BlindingParameters, v int64) (int64, error) {
	if err := a.Check(p); err != nil {
		return 0, err
	}
	return v - p.Offset, nil
}
