package trafficledger

import (
	"go.dedis.ch/kyber/v3/group/edwards25519"
)

// Suite is the Ed25519 suite used for hashing and for the ElGamal scheme.
// Its hash is sha256.
var Suite = edwards25519.NewBlakeSHA256Ed25519()

// Hash returns the sha256 digest of the concatenation of the given slices.
func Hash(data ...[]byte) []byte {
	h := Suite.Hash()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}
