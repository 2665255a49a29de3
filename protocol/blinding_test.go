package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/trafficledger/scheme"
	"golang.org/x/xerrors"
)

func TestAffineBlinding(t *testing.T) {
	cfg := DefaultConfig()
	b := NewBlinding(scheme.VariantAffine, cfg)
	ctx, err := scheme.NewPlain(scheme.VariantAffine).GenerateKeys()
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		p := b.Generate(Second)
		require.Equal(t, Second, p.Position)
		require.True(t, p.Slope >= cfg.SlopeMin && p.Slope <= cfg.SlopeMax)
		require.True(t, p.Bias >= cfg.BiasMin && p.Bias <= cfg.BiasMax)
		require.NoError(t, b.Check(p))

		c, err := ctx.Encrypt(int64(i))
		require.NoError(t, err)
		blinded, err := b.Blind(ctx, p, c)
		require.NoError(t, err)
		v, err := ctx.Decrypt(blinded)
		require.NoError(t, err)
		require.Equal(t, int64(i)*p.Slope+p.Bias, v)
		raw, err := b.Unblind(p, v)
		require.NoError(t, err)
		require.Equal(t, int64(i), raw)
	}

	p := BlindingParameters{Slope: 7, Bias: 3}
	_, err = b.Unblind(p, 7*5+4)
	require.Error(t, err)
	raw, err := b.Unblind(p, 3-7*5)
	require.NoError(t, err)
	require.Equal(t, int64(-5), raw)
	require.True(t, xerrors.Is(b.Check(BlindingParameters{Bias: 3}), ErrDegenerateBlinding))
}

func TestAdditiveBlinding(t *testing.T) {
	b := &AdditiveBlinding{Bound: 2}
	seen := make(map[int64]bool)
	for i := 0; i < 400; i++ {
		p := b.Generate(First)
		require.NotZero(t, p.Offset)
		require.True(t, p.Offset >= -2 && p.Offset <= 2)
		seen[p.Offset] = true
	}
	require.Len(t, seen, 4)

	ctx, err := scheme.NewPlain(scheme.VariantMultiplicative).GenerateKeys()
	require.NoError(t, err)
	p := BlindingParameters{Offset: -9}
	c, err := ctx.Encrypt(100)
	require.NoError(t, err)
	blinded, err := b.Blind(ctx, p, c)
	require.NoError(t, err)
	v, err := ctx.Decrypt(blinded)
	require.NoError(t, err)
	require.Equal(t, int64(91), v)
	raw, err := b.Unblind(p, v)
	require.NoError(t, err)
	require.Equal(t, int64(100), raw)

	_, err = b.Unblind(BlindingParameters{}, v)
	require.True(t, xerrors.Is(err, ErrDegenerateBlinding))
}

func TestAffineBlinding_NeedsAffineScheme(t *testing.T) {
	b := &AffineBlinding{SlopeMin: 1, SlopeMax: 1, BiasMin: 1, BiasMax: 1}
	s, err := scheme.NewBGV(scheme.DefaultBGVParameters)
	require.NoError(t, err)
	ctx, err := s.GenerateKeys()
	require.NoError(t, err)
	c, err := ctx.Encrypt(1)
	require.NoError(t, err)
	_, err = b.Blind(ctx, b.Generate(First), c)
	require.Error(t, err)
}

func TestUniform(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 2000; i++ {
		v := uniform(1, 3)
		require.True(t, v >= 1 && v <= 3, "%d", v)
		seen[v] = true
	}
	require.Len(t, seen, 3)
	require.True(t, seen[1])

	for i := 0; i < 20; i++ {
		require.Equal(t, int64(-4), uniform(-4, -4))
	}
}

func TestAffineBlinding_SingleValueRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlopeMin, cfg.SlopeMax = 5, 5
	cfg.BiasMin, cfg.BiasMax = 1, 1
	require.NoError(t, cfg.Validate())

	p := NewBlinding(scheme.VariantAffine, cfg).Generate(First)
	require.Equal(t, int64(5), p.Slope)
	require.Equal(t, int64(1), p.Bias)

	seen := make(map[int64]bool)
	b := &AdditiveBlinding{Bound: 1}
	for i := 0; i < 200; i++ {
		seen[b.Generate(Second).Offset] = true
	}
	require.Equal(t, map[int64]bool{-1: true, 1: true}, seen)
}
