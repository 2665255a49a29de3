// Package scheme holds the homomorphic encryption capabilities used by the
// protocol. Every scheme encrypts int64 values and adds ciphertexts. On top
// of that a scheme is either affine (Variant A: c*slope + bias, enough for a
// mean) or multiplicative (Variant B: c*c, needed for a variance).
package scheme

import (
	"golang.org/x/xerrors"
)

// Variant is the blinding family a scheme supports.
type Variant int

const (
	// VariantAffine schemes implement AffineEvaluator. Only the mean is
	// computed.
	VariantAffine Variant = iota
	// VariantMultiplicative schemes implement MultiplyEvaluator. The blinding
	// is additive only, and the variance is computed too.
	VariantMultiplicative
)

func (v Variant) String() string {
	switch v {
	case VariantAffine:
		return "affine"
	case VariantMultiplicative:
		return "multiplicative"
	}
	return "unknown"
}

// ErrWrongCiphertext is returned when a ciphertext belongs to another scheme
// or cannot be parsed.
var ErrWrongCiphertext = xerrors.New("wrong ciphertext")

// ErrOutOfRange is returned when a decrypted value is outside of the range
// the scheme can recover.
var ErrOutOfRange = xerrors.New("plaintext out of range")

// Ciphertext is an encrypted integer. The binary form is what goes on the
// ledger.
type Ciphertext interface {
	MarshalBinary() ([]byte, error)
}

// Scheme creates key material and rebuilds the public side of it from the
// bytes the facilitator publishes.
type Scheme interface {
	Name() string
	Variant() Variant
	// GenerateKeys returns fresh key material: a keypair for Variant A, a
	// context for Variant B.
	GenerateKeys() (Decryptor, error)
	// LoadPublic returns an Evaluator from published material.
	LoadPublic(material []byte) (Evaluator, error)
}

// Evaluator is the public side of a scheme.
type Evaluator interface {
	Encrypt(v int64) (Ciphertext, error)
	Add(a, b Ciphertext) (Ciphertext, error)
	UnmarshalCiphertext(data []byte) (Ciphertext, error)
}

// Decryptor holds the secret material. Only the facilitator has one.
type Decryptor interface {
	Evaluator
	PublicMaterial() ([]byte, error)
	Decrypt(c Ciphertext) (int64, error)
}

// AffineEvaluator computes c*slope + bias.
type AffineEvaluator interface {
	Evaluator
	Affine(c Ciphertext, slope, bias int64) (Ciphertext, error)
}

// MultiplyEvaluator computes a*b.
type MultiplyEvaluator interface {
	Evaluator
	Multiply(a, b Ciphertext) (Ciphertext, error)
}

// Sum adds all ciphertexts. It returns an encryption of 0 for an empty list.
func Sum(ev Evaluator, cs ...Ciphertext) (Ciphertext, error) {
	if len(cs) == 0 {
		return ev.Encrypt(0)
	}
	acc := cs[0]
	for _, c := range cs[1:] {
		var err error
		acc, err = ev.Add(acc, c)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}
