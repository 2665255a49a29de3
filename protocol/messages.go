package protocol

import (
	"github.com/shopspring/decimal"
)

// Payload types as they appear on the ledgers.
const (
	TypeRequestFacilitator  = "request_facilitator"
	TypeFacilitatorAccepted = "facilitator_accepted"
	TypeEncryptedLog        = "encrypted_log"
	TypeFirstAggregate      = "first_aggregate"
	TypeSecondAggregate     = "second_aggregate"
	TypeFirstParameters     = "first_parameters"
	TypeSecondParameters    = "second_parameters"
	TypeSendDecryption      = "send_decryption"
	TypeDecryptedResult     = "decrypted_result"
	TypeApproved            = "approved"
	TypeDisapproved         = "disapproved"
	TypeSegmentMap          = "segment_map"
)

// Position tells which of the two aggregators produced a payload.
type Position int32

const (
	// NoPosition is the position of a participant that never aggregated.
	NoPosition Position = iota
	// First is the aggregator acting in CALC_TIME_REACHED.
	First
	// Second is the aggregator acting in FIRST_AGGREGATED.
	Second
)

func (p Position) String() string {
	switch p {
	case First:
		return "first"
	case Second:
		return "second"
	}
	return "none"
}

// RequestFacilitator starts a round. It goes to the local and to the global
// ledger.
type RequestFacilitator struct {
	Neighborhood string
	// Round is a random id, echoed by the facilitator.
	Round string
}

// Type implements ledger.Payload.
func (RequestFacilitator) Type() string { return TypeRequestFacilitator }

// FacilitatorAccepted carries the public material of a fresh key or context.
type FacilitatorAccepted struct {
	Neighborhood   string
	Round          string
	Scheme         string
	PublicMaterial []byte
}

// Type implements ledger.Payload.
func (FacilitatorAccepted) Type() string { return TypeFacilitatorAccepted }

// EncryptedLog is one speed sample of one segment.
type EncryptedLog struct {
	SegmentKey string
	Ciphertext []byte
}

// Type implements ledger.Payload.
func (EncryptedLog) Type() string { return TypeEncryptedLog }

// AggregateEntry is the blinded sum of one segment. SumSq is only set for
// multiplicative schemes.
type AggregateEntry struct {
	SegmentKey string
	Sum        []byte
	SumSq      []byte
}

// Aggregate is the blinded aggregate of one aggregator. Entries are sorted
// by segment key.
type Aggregate struct {
	Position     Position
	Neighborhood string
	Entries      []AggregateEntry
}

// Type implements ledger.Payload.
func (a Aggregate) Type() string {
	if a.Position == Second {
		return TypeSecondAggregate
	}
	return TypeFirstAggregate
}

// BlindingParameters are the secrets of one aggregator, published once both
// aggregates are on the ledger. Affine blinding uses Slope and Bias,
// additive blinding uses Offset.
type BlindingParameters struct {
	Position Position
	Slope    int64
	Bias     int64
	Offset   int64
}

// Type implements ledger.Payload.
func (bp BlindingParameters) Type() string {
	if bp.Position == Second {
		return TypeSecondParameters
	}
	return TypeFirstParameters
}

// SendDecryption asks the facilitator to publish what it decrypted.
type SendDecryption struct {
	Neighborhood string
}

// Type implements ledger.Payload.
func (SendDecryption) Type() string { return TypeSendDecryption }

// DecryptedEntry is the decrypted, still blinded, value of one segment.
type DecryptedEntry struct {
	SegmentKey string
	Sum        int64
	SumSq      int64
}

// DecryptedResult holds both decrypted aggregates.
type DecryptedResult struct {
	Neighborhood string
	First        []DecryptedEntry
	Second       []DecryptedEntry
}

// Type implements ledger.Payload.
func (DecryptedResult) Type() string { return TypeDecryptedResult }

// SegmentStatistic is the final value of one segment. Mean and Variance
// are exact decimals written as strings; Variance is empty for affine
// schemes.
type SegmentStatistic struct {
	SegmentKey string
	Count      int64
	Mean       string
	Variance   string
}

// MeanDecimal parses Mean.
func (s SegmentStatistic) MeanDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(s.Mean)
}

// VarianceDecimal parses Variance. It returns zero if no variance was
// computed.
func (s SegmentStatistic) VarianceDecimal() (decimal.Decimal, error) {
	if s.Variance == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s.Variance)
}

// Approved ends a round that verified.
type Approved struct {
	Neighborhood string
	Results      []SegmentStatistic
}

// Type implements ledger.Payload.
func (Approved) Type() string { return TypeApproved }

// Disapproved ends a round whose aggregates did not match.
type Disapproved struct {
	Neighborhood string
	Reason       string
}

// Type implements ledger.Payload.
func (Disapproved) Type() string { return TypeDisapproved }

// SegmentMap lists the segment keys of a neighborhood.
type SegmentMap struct {
	Neighborhood string
	SegmentKeys  []string
}

// Type implements ledger.Payload.
func (SegmentMap) Type() string { return TypeSegmentMap }

// neighborhoodOf returns the neighborhood a payload is addressed to, if
// any.
func neighborhoodOf(p interface{}) (string, bool) {
	switch m := p.(type) {
	case *RequestFacilitator:
		return m.Neighborhood, true
	case *FacilitatorAccepted:
		return m.Neighborhood, true
	case *Aggregate:
		return m.Neighborhood, true
	case *SendDecryption:
		return m.Neighborhood, true
	case *DecryptedResult:
		return m.Neighborhood, true
	case *Approved:
		return m.Neighborhood, true
	case *Disapproved:
		return m.Neighborhood, true
	case *SegmentMap:
		return m.Neighborhood, true
	}
	return "", false
}
