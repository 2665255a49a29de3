package protocol

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.dedis.ch/trafficledger/ledger"
	"go.dedis.ch/trafficledger/scheme"
	"golang.org/x/xerrors"
)

// publishedParameters returns the newest first and second parameters
// published on the local ledger since the facilitator answered.
func (p *Participant) publishedParameters() (first, second *BlindingParameters) {
	p.Ledger.Backward(func(b *ledger.Block) bool {
		if b.Index <= p.accepted.Index {
			return false
		}
		bp, ok := b.Payload.(*BlindingParameters)
		if !ok {
			return true
		}
		if bp.Position == First && first == nil {
			first = bp
		}
		if bp.Position == Second && second == nil {
			second = bp
		}
		return first == nil || second == nil
	})
	return
}

// verify unblinds both decrypted aggregates with the parameters published
// on the ledger and compares them segment by segment. It returns the
// verdict to append. Only a degenerate blinding is an error.
func (p *Participant) verify() (ledger.Payload, error) {
	disapprove := func(format string, args ...interface{}) (ledger.Payload, error) {
		return &Disapproved{
			Neighborhood: p.neighborhood,
			Reason:       fmt.Sprintf(format, args...),
		}, nil
	}

	first, second := p.publishedParameters()
	if first == nil || second == nil {
		return disapprove("missing blinding parameters")
	}
	own := first
	if p.position == Second {
		own = second
	}
	if *own != p.params {
		return disapprove("published %s parameters differ from the ones used", p.position)
	}
	for _, bp := range []*BlindingParameters{first, second} {
		if err := p.blinding.Check(*bp); err != nil {
			return nil, err
		}
	}

	res := p.decrypted
	firstEntries := make(map[string]DecryptedEntry, len(res.First))
	for _, e := range res.First {
		firstEntries[e.SegmentKey] = e
	}
	secondEntries := make(map[string]DecryptedEntry, len(res.Second))
	for _, e := range res.Second {
		secondEntries[e.SegmentKey] = e
	}
	for key := range secondEntries {
		if _, ok := firstEntries[key]; !ok {
			return disapprove("segment %s missing in the first aggregate", key)
		}
	}

	variance := p.scheme.Variant() == scheme.VariantMultiplicative
	results := make([]SegmentStatistic, 0, len(p.keys))
	for _, key := range p.keys {
		e1, ok1 := firstEntries[key]
		e2, ok2 := secondEntries[key]
		if !ok1 || !ok2 {
			return disapprove("segment %s missing in an aggregate", key)
		}
		sum, err := p.unblindPair(first, second, e1.Sum, e2.Sum)
		if err != nil {
			return disapprove("segment %s sum: %v", key, err)
		}
		stat := SegmentStatistic{SegmentKey: key, Count: p.counts[key]}
		n := decimal.NewFromInt(stat.Count)
		if stat.Count == 0 {
			n = decimal.NewFromInt(1)
		}
		mean := decimal.NewFromInt(sum).Div(n)
		stat.Mean = mean.String()
		if variance {
			sumsq, err := p.unblindPair(first, second, e1.SumSq, e2.SumSq)
			if err != nil {
				return disapprove("segment %s sum of squares: %v", key, err)
			}
			v := decimal.NewFromInt(sumsq).Div(n).Sub(mean.Mul(mean))
			stat.Variance = v.String()
		}
		results = append(results, stat)
	}
	if len(firstEntries) != len(results) {
		return disapprove("aggregates hold unknown segments")
	}
	return &Approved{Neighborhood: p.neighborhood, Results: results}, nil
}

// unblindPair removes each aggregator's own blinding and checks both raw
// values match.
func (p *Participant) unblindPair(first, second *BlindingParameters, v1, v2 int64) (int64, error) {
	raw1, err := p.blinding.Unblind(*first, v1)
	if err != nil {
		return 0, err
	}
	raw2, err := p.blinding.Unblind(*second, v2)
	if err != nil {
		return 0, err
	}
	if raw1 != raw2 {
		return 0, xerrors.Errorf("first aggregator has %d, second has %d", raw1, raw2)
	}
	return raw1, nil
}
