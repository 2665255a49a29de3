package protocol

import (
	"math/big"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
	"go.dedis.ch/trafficledger/scheme"
	"golang.org/x/xerrors"
)

// Duration is a time.Duration read from a string like "200ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds the parameters shared by all nodes of a protocol instance.
type Config struct {
	// PollInterval is the tick of every node loop.
	PollInterval Duration
	// UpdateInterval is how long contributors can submit logs after the
	// facilitator answered.
	UpdateInterval Duration
	// Sentinel is the plaintext used for a segment without samples.
	Sentinel int64

	SlopeMin, SlopeMax int64
	BiasMin, BiasMax   int64
	// OffsetBound is the bound of the additive blinding, which is drawn
	// from [-OffsetBound, OffsetBound] without 0.
	OffsetBound int64

	// Scheme is one of "elgamal", "bgv", "plain-affine" or
	// "plain-additive".
	Scheme string
	BGV    scheme.BGVParameters
	// ElGamalBound is the largest absolute value ElGamal decrypts.
	ElGamalBound int64
	// DecryptCacheSize is the number of ElGamal decryptions kept.
	DecryptCacheSize int
}

// DefaultConfig returns the configuration used when nothing else is given.
func DefaultConfig() Config {
	return Config{
		PollInterval:     Duration{200 * time.Millisecond},
		UpdateInterval:   Duration{10 * time.Second},
		Sentinel:         100,
		SlopeMin:         1,
		SlopeMax:         100,
		BiasMin:          1,
		BiasMax:          100,
		OffsetBound:      10000,
		Scheme:           "elgamal",
		BGV:              scheme.DefaultBGVParameters,
		ElGamalBound:     scheme.DefaultElGamalBound,
		DecryptCacheSize: 1024,
	}
}

// LoadConfig reads a toml file. Missing fields keep their default value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, xerrors.Errorf("reading %s: %v", path, err)
	}
	return cfg, cfg.Validate()
}

// ParseConfig reads a toml document. Missing fields keep their default
// value.
func ParseConfig(doc string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.Decode(doc, &cfg); err != nil {
		return cfg, xerrors.Errorf("parsing config: %v", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the intervals and the blinding ranges. A range including
// 0 would allow a degenerate blinding. The blinded sentinel of an empty
// segment must also decrypt to itself.
func (c Config) Validate() error {
	if c.PollInterval.Duration <= 0 {
		return xerrors.New("poll interval must be positive")
	}
	if c.UpdateInterval.Duration <= 0 {
		return xerrors.New("update interval must be positive")
	}
	if c.SlopeMin <= 0 || c.SlopeMax < c.SlopeMin {
		return xerrors.Errorf("bad slope range [%d, %d]", c.SlopeMin, c.SlopeMax)
	}
	if c.BiasMin <= 0 || c.BiasMax < c.BiasMin {
		return xerrors.Errorf("bad bias range [%d, %d]", c.BiasMin, c.BiasMax)
	}
	if c.OffsetBound <= 0 {
		return xerrors.Errorf("bad offset bound %d", c.OffsetBound)
	}
	switch c.Scheme {
	case "elgamal", "bgv", "plain-affine", "plain-additive":
	default:
		return xerrors.Errorf("unknown scheme %q", c.Scheme)
	}
	return c.validateSentinel()
}

// validateSentinel checks the largest blinded sentinel against the values
// the scheme decrypts. BGV decodes centered values, so a sum of squares at
// or above t/2 would wrap around without error.
func (c Config) validateSentinel() error {
	s := decimal.NewFromInt(c.Sentinel).Abs()
	switch c.Scheme {
	case "bgv":
		t := decimal.NewFromBigInt(new(big.Int).SetUint64(c.BGV.PlaintextModulus), 0)
		max := s.Mul(s).Add(decimal.NewFromInt(c.OffsetBound))
		if max.Mul(decimal.NewFromInt(2)).GreaterThanOrEqual(t) {
			return xerrors.Errorf("sentinel %d: blinded sum of squares %s does not fit plaintext modulus %d",
				c.Sentinel, max, c.BGV.PlaintextModulus)
		}
	case "elgamal":
		bound := c.ElGamalBound
		if bound <= 0 {
			bound = scheme.DefaultElGamalBound
		}
		max := s.Mul(decimal.NewFromInt(c.SlopeMax)).Add(decimal.NewFromInt(c.BiasMax))
		if max.GreaterThan(decimal.NewFromInt(bound)) {
			return xerrors.Errorf("sentinel %d: blinded value %s exceeds the decryption bound %d",
				c.Sentinel, max, bound)
		}
	}
	return nil
}

// NewScheme returns the scheme named in the configuration.
func NewScheme(c Config) (scheme.Scheme, error) {
	switch c.Scheme {
	case "elgamal":
		return scheme.NewElGamal(c.ElGamalBound, c.DecryptCacheSize), nil
	case "bgv":
		return scheme.NewBGV(c.BGV)
	case "plain-affine":
		return scheme.NewPlain(scheme.VariantAffine), nil
	case "plain-additive":
		return scheme.NewPlain(scheme.VariantMultiplicative), nil
	}
	return nil, xerrors.Errorf("unknown scheme %q", c.Scheme)
}
