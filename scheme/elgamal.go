package scheme

import (
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/kyber/v3/util/random"
	"go.dedis.ch/trafficledger"
	"golang.org/x/xerrors"
)

// DefaultElGamalBound is the largest absolute value an ElGamal decryption
// recovers by default.
const DefaultElGamalBound = int64(1) << 32

// ElGamal is Variant A: exponential ElGamal on Ed25519. The value m is
// encrypted as (k*B, k*X + m*B), which is additively homomorphic and can be
// multiplied by a known scalar. Decryption solves a bounded discrete log.
type ElGamal struct {
	bound     int64
	cacheSize int
}

// NewElGamal returns an ElGamal scheme recovering values with an absolute
// value below bound. cacheSize is the number of decrypted points kept in
// memory, 0 disables the cache.
func NewElGamal(bound int64, cacheSize int) *ElGamal {
	if bound <= 0 {
		bound = DefaultElGamalBound
	}
	return &ElGamal{bound: bound, cacheSize: cacheSize}
}

// Name implements Scheme.
func (e *ElGamal) Name() string { return "elgamal" }

// Variant implements Scheme.
func (e *ElGamal) Variant() Variant { return VariantAffine }

// GenerateKeys returns a new keypair.
func (e *ElGamal) GenerateKeys() (Decryptor, error) {
	dl, err := newDiscreteLog(e.bound, e.cacheSize)
	if err != nil {
		return nil, err
	}
	kp := key.NewKeyPair(trafficledger.Suite)
	return &elGamalSecret{
		elGamalPublic: elGamalPublic{X: kp.Public},
		x:             kp.Private,
		dlog:          dl,
	}, nil
}

// LoadPublic reads a marshalled public key.
func (e *ElGamal) LoadPublic(material []byte) (Evaluator, error) {
	X := trafficledger.Suite.Point()
	if err := X.UnmarshalBinary(material); err != nil {
		return nil, xerrors.Errorf("reading public key: %v", err)
	}
	return &elGamalPublic{X: X}, nil
}

// elGamalCiphertext holds the ephemeral key K and the blinded message C.
type elGamalCiphertext struct {
	K, C kyber.Point
}

func (c *elGamalCiphertext) MarshalBinary() ([]byte, error) {
	k, err := c.K.MarshalBinary()
	if err != nil {
		return nil, err
	}
	m, err := c.C.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(k, m...), nil
}

type elGamalPublic struct {
	X kyber.Point
}

func (p *elGamalPublic) encryptPoint(M kyber.Point) *elGamalCiphertext {
	suite := trafficledger.Suite
	k := suite.Scalar().Pick(random.New()) // ephemeral private key
	K := suite.Point().Mul(k, nil)         // ephemeral DH public key
	S := suite.Point().Mul(k, p.X)         // ephemeral DH shared secret
	return &elGamalCiphertext{K: K, C: S.Add(S, M)}
}

func (p *elGamalPublic) Encrypt(v int64) (Ciphertext, error) {
	suite := trafficledger.Suite
	M := suite.Point().Mul(suite.Scalar().SetInt64(v), nil)
	return p.encryptPoint(M), nil
}

func (p *elGamalPublic) Add(a, b Ciphertext) (Ciphertext, error) {
	ca, cb, err := elGamalPair(a, b)
	if err != nil {
		return nil, err
	}
	suite := trafficledger.Suite
	return &elGamalCiphertext{
		K: suite.Point().Add(ca.K, cb.K),
		C: suite.Point().Add(ca.C, cb.C),
	}, nil
}

// Affine returns an encryption of m*slope + bias. The bias is added as a
// fresh encryption so the result is re-randomized.
func (p *elGamalPublic) Affine(c Ciphertext, slope, bias int64) (Ciphertext, error) {
	ct, ok := c.(*elGamalCiphertext)
	if !ok {
		return nil, ErrWrongCiphertext
	}
	suite := trafficledger.Suite
	s := suite.Scalar().SetInt64(slope)
	scaled := &elGamalCiphertext{
		K: suite.Point().Mul(s, ct.K),
		C: suite.Point().Mul(s, ct.C),
	}
	b, err := p.Encrypt(bias)
	if err != nil {
		return nil, err
	}
	return p.Add(scaled, b)
}

func (p *elGamalPublic) UnmarshalCiphertext(data []byte) (Ciphertext, error) {
	suite := trafficledger.Suite
	l := suite.PointLen()
	if len(data) != 2*l {
		return nil, xerrors.Errorf("%w: %d bytes instead of %d", ErrWrongCiphertext, len(data), 2*l)
	}
	c := &elGamalCiphertext{K: suite.Point(), C: suite.Point()}
	if err := c.K.UnmarshalBinary(data[:l]); err != nil {
		return nil, xerrors.Errorf("%w: %v", ErrWrongCiphertext, err)
	}
	if err := c.C.UnmarshalBinary(data[l:]); err != nil {
		return nil, xerrors.Errorf("%w: %v", ErrWrongCiphertext, err)
	}
	return c, nil
}

type elGamalSecret struct {
	elGamalPublic
	x    kyber.Scalar
	dlog *discreteLog
}

func (s *elGamalSecret) PublicMaterial() ([]byte, error) {
	return s.X.MarshalBinary()
}

func (s *elGamalSecret) Decrypt(c Ciphertext) (int64, error) {
	ct, ok := c.(*elGamalCiphertext)
	if !ok {
		return 0, ErrWrongCiphertext
	}
	suite := trafficledger.Suite
	S := suite.Point().Mul(s.x, ct.K) // regenerate shared secret
	M := suite.Point().Sub(ct.C, S)   // use to un-blind the message
	return s.dlog.solve(M)
}

func elGamalPair(a, b Ciphertext) (*elGamalCiphertext, *elGamalCiphertext, error) {
	ca, ok := a.(*elGamalCiphertext)
	if !ok {
		return nil, nil, ErrWrongCiphertext
	}
	cb, ok := b.(*elGamalCiphertext)
	if !ok {
		return nil, nil, ErrWrongCiphertext
	}
	return ca, cb, nil
}
