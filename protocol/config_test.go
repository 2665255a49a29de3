package protocol

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/trafficledger/scheme"
)

func TestConfig_Parse(t *testing.T) {
	cfg, err := ParseConfig(`
PollInterval = "50ms"
UpdateInterval = "2s"
Sentinel = 120
Scheme = "bgv"

[BGV]
LogN = 12
LogQ = [40, 40]
LogP = [45]
PlaintextModulus = 65537
`)
	require.NoError(t, err)
	require.Equal(t, 50*time.Millisecond, cfg.PollInterval.Duration)
	require.Equal(t, 2*time.Second, cfg.UpdateInterval.Duration)
	require.Equal(t, int64(120), cfg.Sentinel)
	require.Equal(t, int64(100), cfg.SlopeMax)
	require.Equal(t, 12, cfg.BGV.LogN)
	require.Equal(t, []int{40, 40}, cfg.BGV.LogQ)
	require.Equal(t, uint64(65537), cfg.BGV.PlaintextModulus)

	s, err := NewScheme(cfg)
	require.NoError(t, err)
	require.Equal(t, "bgv", s.Name())
	require.Equal(t, scheme.VariantMultiplicative, s.Variant())
}

func TestConfig_Load(t *testing.T) {
	dir, err := ioutil.TempDir("", "trafficledger")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte(`Scheme = "plain-additive"`), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().PollInterval, cfg.PollInterval)
	s, err := NewScheme(cfg)
	require.NoError(t, err)
	require.Equal(t, "plain-additive", s.Name())

	_, err = LoadConfig(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	for _, doc := range []string{
		`PollInterval = "0s"`,
		`UpdateInterval = "-1s"`,
		`SlopeMin = 0`,
		`BiasMin = 10
BiasMax = 5`,
		`OffsetBound = 0`,
		`Scheme = "paillier"`,
		`PollInterval = "soon"`,
	} {
		_, err := ParseConfig(doc)
		require.Error(t, err, doc)
	}

	s, err := NewScheme(DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, "elgamal", s.Name())
}

func TestConfig_ValidateSentinel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sentinel = 100 * 100
	require.NoError(t, cfg.Validate())

	// 10000^2 wraps around the default plaintext modulus.
	cfg.Scheme = "bgv"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "plaintext modulus")
	cfg.Sentinel = -100 * 100
	require.Error(t, cfg.Validate())

	cfg.Sentinel = 5000
	require.NoError(t, cfg.Validate())
	cfg.OffsetBound = int64(scheme.DefaultBGVParameters.PlaintextModulus / 2)
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ElGamalBound = 1000
	// 9*100 + 100
	cfg.Sentinel = 9
	require.NoError(t, cfg.Validate())
	cfg.Sentinel = 10
	require.Error(t, cfg.Validate())

	_, err = ParseConfig(`
Scheme = "bgv"
Sentinel = 10000
`)
	require.Error(t, err)
}
