package scheme

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// Plain is a scheme without encryption. It is used to measure the cost of
// the protocol itself and in tests. It supports both evaluator kinds, so it
// can stand in for either variant.
type Plain struct {
	variant Variant
}

// NewPlain returns a plaintext scheme that behaves as the given variant.
func NewPlain(v Variant) *Plain {
	return &Plain{variant: v}
}

// Name implements Scheme.
func (p *Plain) Name() string {
	if p.variant == VariantMultiplicative {
		return "plain-additive"
	}
	return "plain-affine"
}

// Variant implements Scheme.
func (p *Plain) Variant() Variant { return p.variant }

// GenerateKeys implements Scheme.
func (p *Plain) GenerateKeys() (Decryptor, error) { return plainContext{}, nil }

// LoadPublic implements Scheme. The material is ignored.
func (p *Plain) LoadPublic([]byte) (Evaluator, error) { return plainContext{}, nil }

type plainValue int64

func (v plainValue) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf, nil
}

type plainContext struct{}

func (plainContext) Encrypt(v int64) (Ciphertext, error) { return plainValue(v), nil }

func (plainContext) Add(a, b Ciphertext) (Ciphertext, error) {
	va, vb, err := plainPair(a, b)
	if err != nil {
		return nil, err
	}
	return va + vb, nil
}

func (plainContext) Multiply(a, b Ciphertext) (Ciphertext, error) {
	va, vb, err := plainPair(a, b)
	if err != nil {
		return nil, err
	}
	return va * vb, nil
}

func (plainContext) Affine(c Ciphertext, slope, bias int64) (Ciphertext, error) {
	v, ok := c.(plainValue)
	if !ok {
		return nil, ErrWrongCiphertext
	}
	return v*plainValue(slope) + plainValue(bias), nil
}

func (plainContext) UnmarshalCiphertext(data []byte) (Ciphertext, error) {
	if len(data) != 8 {
		return nil, xerrors.Errorf("%w: %d bytes", ErrWrongCiphertext, len(data))
	}
	return plainValue(int64(binary.BigEndian.Uint64(data))), nil
}

func (plainContext) PublicMaterial() ([]byte, error) { return []byte{}, nil }

func (plainContext) Decrypt(c Ciphertext) (int64, error) {
	v, ok := c.(plainValue)
	if !ok {
		return 0, ErrWrongCiphertext
	}
	return int64(v), nil
}

func plainPair(a, b Ciphertext) (plainValue, plainValue, error) {
	va, ok := a.(plainValue)
	if !ok {
		return 0, 0, ErrWrongCiphertext
	}
	vb, ok := b.(plainValue)
	if !ok {
		return 0, 0, ErrWrongCiphertext
	}
	return va, vb, nil
}
