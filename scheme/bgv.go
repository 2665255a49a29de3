package scheme

import (
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// BGVParameters are the lattice parameters of Variant B. They are part of
// the configuration and must be the same for the facilitator and the
// participants.
type BGVParameters struct {
	LogN int
	LogQ []int
	LogP []int
	// PlaintextModulus must be 1 mod 2N. Decrypted values are centered, so
	// they must stay in (-t/2, t/2).
	PlaintextModulus uint64
}

// DefaultBGVParameters allow one ciphertext multiplication followed by a
// few hundred additions, for values up to about 3.3e7 in absolute value.
var DefaultBGVParameters = BGVParameters{
	LogN:             13,
	LogQ:             []int{54, 54},
	LogP:             []int{55},
	PlaintextModulus: 0x3ee0001,
}

// BGV is Variant B: a lattice scheme with ciphertext multiplication. The
// published context holds the public and the relinearization keys.
type BGV struct {
	params bgv.Parameters
}

// NewBGV checks the parameters and returns the scheme.
func NewBGV(p BGVParameters) (*BGV, error) {
	params, err := bgv.NewParametersFromLiteral(bgv.ParametersLiteral{
		LogN:             p.LogN,
		LogQ:             p.LogQ,
		LogP:             p.LogP,
		PlaintextModulus: p.PlaintextModulus,
	})
	if err != nil {
		return nil, xerrors.Errorf("bad BGV parameters: %v", err)
	}
	return &BGV{params: params}, nil
}

// Name implements Scheme.
func (b *BGV) Name() string { return "bgv" }

// Variant implements Scheme.
func (b *BGV) Variant() Variant { return VariantMultiplicative }

// bgvMaterial is the published part of a context.
type bgvMaterial struct {
	PublicKey []byte
	RelinKey  []byte
}

// GenerateKeys returns a fresh context.
func (b *BGV) GenerateKeys() (Decryptor, error) {
	kgen := rlwe.NewKeyGenerator(b.params)
	sk, pk := kgen.GenKeyPairNew()
	rlk := kgen.GenRelinearizationKeyNew(sk)
	return &bgvContext{
		bgvEvaluator: newBGVEvaluator(b.params, pk, rlk),
		decryptor:    rlwe.NewDecryptor(b.params, sk),
	}, nil
}

// LoadPublic reads a marshalled bgvMaterial.
func (b *BGV) LoadPublic(material []byte) (Evaluator, error) {
	var m bgvMaterial
	if err := protobuf.Decode(material, &m); err != nil {
		return nil, xerrors.Errorf("reading context: %v", err)
	}
	pk := rlwe.NewPublicKey(b.params)
	if err := pk.UnmarshalBinary(m.PublicKey); err != nil {
		return nil, xerrors.Errorf("reading public key: %v", err)
	}
	rlk := rlwe.NewRelinearizationKey(b.params)
	if err := rlk.UnmarshalBinary(m.RelinKey); err != nil {
		return nil, xerrors.Errorf("reading relinearization key: %v", err)
	}
	return newBGVEvaluator(b.params, pk, rlk), nil
}

type bgvCiphertext struct {
	ct *rlwe.Ciphertext
}

func (c *bgvCiphertext) MarshalBinary() ([]byte, error) {
	return c.ct.MarshalBinary()
}

// bgvEvaluator wraps the lattigo objects, which are not safe for concurrent
// use.
type bgvEvaluator struct {
	sync.Mutex
	params    bgv.Parameters
	pk        *rlwe.PublicKey
	rlk       *rlwe.RelinearizationKey
	encoder   *bgv.Encoder
	encryptor *rlwe.Encryptor
	eval      *bgv.Evaluator
}

func newBGVEvaluator(params bgv.Parameters, pk *rlwe.PublicKey, rlk *rlwe.RelinearizationKey) *bgvEvaluator {
	return &bgvEvaluator{
		params:    params,
		pk:        pk,
		rlk:       rlk,
		encoder:   bgv.NewEncoder(params),
		encryptor: rlwe.NewEncryptor(params, pk),
		eval:      bgv.NewEvaluator(params, rlwe.NewMemEvaluationKeySet(rlk)),
	}
}

func (e *bgvEvaluator) Encrypt(v int64) (Ciphertext, error) {
	e.Lock()
	defer e.Unlock()
	pt := bgv.NewPlaintext(e.params, e.params.MaxLevel())
	if err := e.encoder.Encode([]int64{v}, pt); err != nil {
		return nil, xerrors.Errorf("encoding %d: %v", v, err)
	}
	ct, err := e.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, xerrors.Errorf("encrypting: %v", err)
	}
	return &bgvCiphertext{ct}, nil
}

func (e *bgvEvaluator) Add(a, b Ciphertext) (Ciphertext, error) {
	ca, cb, err := bgvPair(a, b)
	if err != nil {
		return nil, err
	}
	e.Lock()
	defer e.Unlock()
	ct, err := e.eval.AddNew(ca.ct, cb.ct)
	if err != nil {
		return nil, xerrors.Errorf("adding: %v", err)
	}
	return &bgvCiphertext{ct}, nil
}

func (e *bgvEvaluator) Multiply(a, b Ciphertext) (Ciphertext, error) {
	ca, cb, err := bgvPair(a, b)
	if err != nil {
		return nil, err
	}
	e.Lock()
	defer e.Unlock()
	ct, err := e.eval.MulRelinNew(ca.ct, cb.ct)
	if err != nil {
		return nil, xerrors.Errorf("multiplying: %v", err)
	}
	return &bgvCiphertext{ct}, nil
}

func (e *bgvEvaluator) UnmarshalCiphertext(data []byte) (Ciphertext, error) {
	ct := rlwe.NewCiphertext(e.params, 1, e.params.MaxLevel())
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, xerrors.Errorf("%w: %v", ErrWrongCiphertext, err)
	}
	return &bgvCiphertext{ct}, nil
}

type bgvContext struct {
	*bgvEvaluator
	decryptor *rlwe.Decryptor
}

func (c *bgvContext) PublicMaterial() ([]byte, error) {
	pk, err := c.pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	rlk, err := c.rlk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return protobuf.Encode(&bgvMaterial{PublicKey: pk, RelinKey: rlk})
}

func (c *bgvContext) Decrypt(ct Ciphertext) (int64, error) {
	bc, ok := ct.(*bgvCiphertext)
	if !ok {
		return 0, ErrWrongCiphertext
	}
	c.Lock()
	defer c.Unlock()
	pt := c.decryptor.DecryptNew(bc.ct)
	values := make([]int64, c.params.MaxSlots())
	if err := c.encoder.Decode(pt, values); err != nil {
		return 0, xerrors.Errorf("decoding: %v", err)
	}
	return values[0], nil
}

func bgvPair(a, b Ciphertext) (*bgvCiphertext, *bgvCiphertext, error) {
	ca, ok := a.(*bgvCiphertext)
	if !ok {
		return nil, nil, ErrWrongCiphertext
	}
	cb, ok := b.(*bgvCiphertext)
	if !ok {
		return nil, nil, ErrWrongCiphertext
	}
	return ca, cb, nil
}
