package protocol

import (
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/trafficledger/ledger"
	"go.dedis.ch/trafficledger/scheme"
	"golang.org/x/xerrors"
)

// collectLogs walks the local ledger back from the tail and returns the
// encrypted logs of every known segment that were appended in the window
// (responseTime, responseTime+UpdateInterval]. Logs appended after the
// window are left out so both aggregators sum the same set.
func (p *Participant) collectLogs() (map[string][]scheme.Ciphertext, error) {
	cutoff := p.responseTime.Add(p.cfg.UpdateInterval.Duration)
	known := make(map[string]bool, len(p.keys))
	for _, k := range p.keys {
		known[k] = true
	}
	logs := make(map[string][]scheme.Ciphertext)
	var err error
	p.Ledger.Backward(func(b *ledger.Block) bool {
		if !b.Timestamp.After(p.responseTime) {
			return false
		}
		l, ok := b.Payload.(*EncryptedLog)
		if !ok || b.Timestamp.After(cutoff) {
			return true
		}
		if !known[l.SegmentKey] {
			log.Lvl3(p, "ignoring log of unknown segment", l.SegmentKey)
			return true
		}
		var c scheme.Ciphertext
		c, err = p.evaluator.UnmarshalCiphertext(l.Ciphertext)
		if err != nil {
			err = xerrors.Errorf("log in block %d: %v", b.Index, err)
			return false
		}
		logs[l.SegmentKey] = append(logs[l.SegmentKey], c)
		return true
	})
	return logs, err
}

// aggregate returns the blinded aggregate of every segment of the
// neighborhood and the number of logs summed per segment. A segment without
// logs gets an encryption of the sentinel and a count of 0.
func (p *Participant) aggregate(pos Position, params BlindingParameters) (*Aggregate, map[string]int64, error) {
	logs, err := p.collectLogs()
	if err != nil {
		return nil, nil, err
	}
	variance := p.scheme.Variant() == scheme.VariantMultiplicative
	var mul scheme.MultiplyEvaluator
	if variance {
		var ok bool
		mul, ok = p.evaluator.(scheme.MultiplyEvaluator)
		if !ok {
			return nil, nil, xerrors.New("scheme cannot multiply ciphertexts")
		}
	}

	agg := &Aggregate{
		Position:     pos,
		Neighborhood: p.neighborhood,
		Entries:      make([]AggregateEntry, 0, len(p.keys)),
	}
	counts := make(map[string]int64, len(p.keys))
	for _, key := range p.keys {
		cs := logs[key]
		counts[key] = int64(len(cs))

		var sum, sumsq scheme.Ciphertext
		if len(cs) == 0 {
			sum, err = p.evaluator.Encrypt(p.cfg.Sentinel)
			if err == nil && variance {
				sumsq, err = p.evaluator.Encrypt(p.cfg.Sentinel * p.cfg.Sentinel)
			}
		} else {
			sum, err = scheme.Sum(p.evaluator, cs...)
			if err == nil && variance {
				squares := make([]scheme.Ciphertext, len(cs))
				for i, c := range cs {
					if squares[i], err = mul.Multiply(c, c); err != nil {
						break
					}
				}
				if err == nil {
					sumsq, err = scheme.Sum(p.evaluator, squares...)
				}
			}
		}
		if err != nil {
			return nil, nil, xerrors.Errorf("segment %s: %v", key, err)
		}

		entry := AggregateEntry{SegmentKey: key}
		if entry.Sum, err = p.blindBytes(params, sum); err != nil {
			return nil, nil, err
		}
		if variance {
			if entry.SumSq, err = p.blindBytes(params, sumsq); err != nil {
				return nil, nil, err
			}
		}
		agg.Entries = append(agg.Entries, entry)
	}
	return agg, counts, nil
}

func (p *Participant) blindBytes(params BlindingParameters, c scheme.Ciphertext) ([]byte, error) {
	blinded, err := p.blinding.Blind(p.evaluator, params, c)
	if err != nil {
		return nil, xerrors.Errorf("blinding: %v", err)
	}
	return blinded.MarshalBinary()
}
