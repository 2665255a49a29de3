package protocol

import (
	"sync"
	"time"

	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/trafficledger"
	"go.dedis.ch/trafficledger/ledger"
	"go.dedis.ch/trafficledger/scheme"
	"golang.org/x/xerrors"
)

// FacilitatorStats are the timings of the last round.
type FacilitatorStats struct {
	FirstDecryption  time.Duration
	SecondDecryption time.Duration
	// ResultSize is the encoded size of the last decrypted_result.
	ResultSize int
}

// Facilitator answers requests on the global ledger. It decrypts the
// blinded aggregates but never sees a raw value.
type Facilitator struct {
	sync.Mutex
	ledger.Identity
	scheme scheme.Scheme
	cfg    Config

	state        FacilitatorState
	neighborhood string
	keys         scheme.Decryptor
	first        []DecryptedEntry
	second       []DecryptedEntry
	// pending holds requests of other neighborhoods that arrived during a
	// round, at most one per neighborhood.
	pending []*RequestFacilitator
	// next is the index of the first block not handled yet.
	next  int
	stats FacilitatorStats
	err   error

	closing chan bool
	wg      sync.WaitGroup
}

// NewFacilitator registers a facilitator on the global ledger. The current
// tail is the first block it looks at.
func NewFacilitator(global *ledger.Ledger, s scheme.Scheme, cfg Config) *Facilitator {
	return &Facilitator{
		Identity: global.Register(ledger.RoleFacilitator),
		scheme:   s,
		cfg:      cfg,
		next:     global.Len() - 1,
		closing:  make(chan bool),
	}
}

// Start runs the poll loop.
func (f *Facilitator) Start() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.cfg.PollInterval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-f.closing:
				return
			case <-ticker.C:
				if err := f.Step(); err != nil {
					log.Error("facilitator", f.ID, "stopped:", err)
					return
				}
			}
		}
	}()
}

// Stop ends the poll loop and waits for it.
func (f *Facilitator) Stop() {
	close(f.closing)
	f.wg.Wait()
}

// State returns the current state.
func (f *Facilitator) State() FacilitatorState {
	f.Lock()
	defer f.Unlock()
	return f.state
}

// Err returns the fatal error that stopped the facilitator, if any.
func (f *Facilitator) Err() error {
	f.Lock()
	defer f.Unlock()
	return f.err
}

// Stats returns the timings of the last round.
func (f *Facilitator) Stats() FacilitatorStats {
	f.Lock()
	defer f.Unlock()
	return f.stats
}

// Step handles the blocks appended since the last call, in ledger order.
// Blocks for another neighborhood or not expected in the current state are
// skipped. A broken ledger is fatal.
func (f *Facilitator) Step() error {
	f.Lock()
	defer f.Unlock()
	if f.err != nil {
		return ErrStopped
	}
	if err := f.Ledger.VerifyFrom(f.next); err != nil {
		f.err = trafficledger.ErrorOrNil(xerrors.Errorf("%w: %v", ErrLedgerIntegrity, err),
			"global ledger")
		return f.err
	}
	blocks := f.Ledger.Blocks()
	for ; f.next < len(blocks); f.next++ {
		if err := f.handle(blocks[f.next]); err != nil {
			f.err = trafficledger.ErrorOrNil(err, "facilitator")
			return f.err
		}
	}
	return nil
}

func (f *Facilitator) handle(b *ledger.Block) error {
	switch m := b.Payload.(type) {
	case *RequestFacilitator:
		if f.state != Idle {
			f.queue(m)
			return nil
		}
		return f.accept(m)
	case *Aggregate:
		if m.Neighborhood != f.neighborhood {
			return nil
		}
		switch {
		case f.state == WaitingFirstAggregate && m.Position == First:
			start := time.Now()
			entries, err := f.decrypt(m)
			if err != nil {
				return err
			}
			f.first = entries
			f.stats.FirstDecryption = time.Since(start)
			f.state = WaitingSecondAggregate
			log.Lvlf2("facilitator %d: decrypted first aggregate of %s in %s",
				f.ID, f.neighborhood, f.stats.FirstDecryption)
		case f.state == WaitingSecondAggregate && m.Position == Second:
			start := time.Now()
			entries, err := f.decrypt(m)
			if err != nil {
				return err
			}
			f.second = entries
			f.stats.SecondDecryption = time.Since(start)
			f.state = WaitingDecryptionRequest
			log.Lvlf2("facilitator %d: decrypted second aggregate of %s in %s",
				f.ID, f.neighborhood, f.stats.SecondDecryption)
		}
	case *SendDecryption:
		if f.state != WaitingDecryptionRequest || m.Neighborhood != f.neighborhood {
			return nil
		}
		res, err := f.Ledger.Append(&DecryptedResult{
			Neighborhood: f.neighborhood,
			First:        f.first,
			Second:       f.second,
		})
		if err != nil {
			return err
		}
		f.stats.ResultSize = res.Size()
		log.Lvlf2("facilitator %d: published decryption for %s", f.ID, f.neighborhood)
		f.neighborhood = ""
		f.keys = nil
		f.first, f.second = nil, nil
		f.state = Idle
		if len(f.pending) > 0 {
			req := f.pending[0]
			f.pending = f.pending[1:]
			return f.accept(req)
		}
	}
	return nil
}

// queue keeps a request that arrived during a round. A newer request of the
// same neighborhood replaces the older one.
func (f *Facilitator) queue(req *RequestFacilitator) {
	if req.Neighborhood == f.neighborhood {
		return
	}
	for i, r := range f.pending {
		if r.Neighborhood == req.Neighborhood {
			f.pending[i] = req
			return
		}
	}
	log.Lvlf2("facilitator %d: queueing request of %s", f.ID, req.Neighborhood)
	f.pending = append(f.pending, req)
}

func (f *Facilitator) accept(req *RequestFacilitator) error {
	keys, err := f.scheme.GenerateKeys()
	if err != nil {
		return xerrors.Errorf("generating keys: %v", err)
	}
	material, err := keys.PublicMaterial()
	if err != nil {
		return xerrors.Errorf("public material: %v", err)
	}
	_, err = f.Ledger.Append(&FacilitatorAccepted{
		Neighborhood:   req.Neighborhood,
		Round:          req.Round,
		Scheme:         f.scheme.Name(),
		PublicMaterial: material,
	})
	if err != nil {
		return err
	}
	f.keys = keys
	f.neighborhood = req.Neighborhood
	f.state = WaitingFirstAggregate
	log.Lvlf2("facilitator %d: accepted round %s of %s", f.ID, req.Round, req.Neighborhood)
	return nil
}

// decrypt returns the decrypted entries of an aggregate. An entry that
// can't be decrypted is left out, so the round ends disapproved.
func (f *Facilitator) decrypt(a *Aggregate) ([]DecryptedEntry, error) {
	entries := make([]DecryptedEntry, 0, len(a.Entries))
	for _, e := range a.Entries {
		sum, err := f.decryptBytes(e.Sum)
		if err != nil {
			log.Warn("dropping segment", e.SegmentKey, "of", a.Position, "aggregate:", err)
			continue
		}
		de := DecryptedEntry{SegmentKey: e.SegmentKey, Sum: sum}
		if len(e.SumSq) > 0 {
			de.SumSq, err = f.decryptBytes(e.SumSq)
			if err != nil {
				log.Warn("dropping segment", e.SegmentKey, "of", a.Position, "aggregate:", err)
				continue
			}
		}
		entries = append(entries, de)
	}
	return entries, nil
}

func (f *Facilitator) decryptBytes(buf []byte) (int64, error) {
	c, err := f.keys.UnmarshalCiphertext(buf)
	if err != nil {
		return 0, err
	}
	return f.keys.Decrypt(c)
}
