/*
Package trafficledger computes per-road-segment traffic statistics across
the members of a neighborhood without revealing their individual samples.

Members append encrypted speed samples to a hash-chained ledger. Two of them,
the aggregators, sum the ciphertexts per segment and each applies its own
secret blinding before an untrusted facilitator decrypts the blinded sums.
The aggregators then remove their blinding, cross-check the two results and
publish an approved or disapproved verdict.

The packages are:

	ledger    the append-only hash chain shared by the nodes
	scheme    the homomorphic encryption capabilities (ElGamal, BGV, plain)
	segments  the road-segment identity provider
	protocol  the facilitator and participant state machines
*/
package trafficledger
