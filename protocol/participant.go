package protocol

import (
	"fmt"
	"sort"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/trafficledger"
	"go.dedis.ch/trafficledger/ledger"
	"go.dedis.ch/trafficledger/scheme"
	"go.dedis.ch/trafficledger/segments"
	"golang.org/x/xerrors"
)

// ParticipantStats are the timings and sizes of the last operations.
type ParticipantStats struct {
	LogEncryption time.Duration
	LogSize       int
	Aggregation   time.Duration
	AggregateSize int
}

// Participant is a member of a neighborhood. Every participant can
// contribute logs; a participant holding the global ledger can also
// aggregate, verify and forward blocks from the global ledger.
type Participant struct {
	sync.Mutex
	ledger.Identity
	global       *ledger.Ledger
	neighborhood string
	scheme       scheme.Scheme
	blinding     Blinding
	cfg          Config

	// keys of the neighborhood, sorted, and the key of every segment
	keys     []string
	segments map[segments.Segment]string

	state ParticipantState
	// accepted is the facilitator_accepted block of the current round.
	accepted     *ledger.Block
	evaluator    scheme.Evaluator
	responseTime time.Time
	round        string

	position  Position
	params    BlindingParameters
	counts    map[string]int64
	decrypted *DecryptedResult
	results   []SegmentStatistic

	// verified is the number of local blocks already checked.
	verified int
	stats    ParticipantStats
	err      error
	now      func() time.Time

	closing chan bool
	wg      sync.WaitGroup
}

// NewParticipant registers a participant on the local ledger of a
// neighborhood. global may be nil for a participant that only contributes
// logs.
func NewParticipant(local, global *ledger.Ledger, neighborhood string,
	sp segments.Provider, s scheme.Scheme, cfg Config) (*Participant, error) {
	segs, err := sp.Segments(neighborhood)
	if err != nil {
		return nil, err
	}
	p := &Participant{
		Identity:     local.Register(ledger.RoleParticipant),
		global:       global,
		neighborhood: neighborhood,
		scheme:       s,
		blinding:     NewBlinding(s.Variant(), cfg),
		cfg:          cfg,
		segments:     make(map[segments.Segment]string, len(segs)),
		now:          time.Now,
		closing:      make(chan bool),
	}
	for _, seg := range segs {
		key := string(sp.Key(seg))
		if _, ok := p.segments[seg]; !ok {
			p.keys = append(p.keys, key)
		}
		p.segments[seg] = key
	}
	sort.Strings(p.keys)
	return p, nil
}

func (p *Participant) String() string {
	if p.global != nil {
		return fmt.Sprintf("participant %d of %s (global)", p.ID, p.neighborhood)
	}
	return fmt.Sprintf("participant %d of %s", p.ID, p.neighborhood)
}

// Start runs the update loop, and the forward loop if the participant
// holds the global ledger.
func (p *Participant) Start() {
	p.loop(p.Update)
	if p.global != nil {
		p.loop(p.Forward)
	}
}

func (p *Participant) loop(tick func() error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.PollInterval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-p.closing:
				return
			case <-ticker.C:
				if err := tick(); err != nil {
					log.Error(p, "stopped:", err)
					return
				}
			}
		}
	}()
}

// Stop ends the loops and waits for them.
func (p *Participant) Stop() {
	close(p.closing)
	p.wg.Wait()
}

// State returns the current state.
func (p *Participant) State() ParticipantState {
	p.Lock()
	defer p.Unlock()
	return p.state
}

// Err returns the fatal error that stopped the participant, if any.
func (p *Participant) Err() error {
	p.Lock()
	defer p.Unlock()
	return p.err
}

// Position returns the aggregator position taken in the current round.
func (p *Participant) Position() Position {
	p.Lock()
	defer p.Unlock()
	return p.position
}

// Results returns the statistics of the last approved round.
func (p *Participant) Results() []SegmentStatistic {
	p.Lock()
	defer p.Unlock()
	return append([]SegmentStatistic(nil), p.results...)
}

// Stats returns the timings and sizes of the last operations.
func (p *Participant) Stats() ParticipantStats {
	p.Lock()
	defer p.Unlock()
	return p.stats
}

// Update re-derives the state from the tail of the local ledger.
func (p *Participant) Update() error {
	p.Lock()
	defer p.Unlock()
	return p.update()
}

func (p *Participant) fail(err error, msg string) error {
	p.err = trafficledger.ErrorOrNilSkip(err, msg, 2)
	return p.err
}

func (p *Participant) setState(s ParticipantState) {
	if s != p.state {
		log.Lvlf2("%s: %s -> %s", p, p.state, s)
		p.state = s
	}
}

func (p *Participant) update() error {
	if p.err != nil {
		return ErrStopped
	}
	if err := p.Ledger.VerifyFrom(p.verified); err != nil {
		return p.fail(xerrors.Errorf("%w: %v", ErrLedgerIntegrity, err), "local ledger")
	}
	p.verified = p.Ledger.Len()

	tail := p.Ledger.Tail()
	if nb, ok := neighborhoodOf(tail.Payload); ok && nb != p.neighborhood {
		return nil
	}
	switch m := tail.Payload.(type) {
	case *RequestFacilitator:
		p.setState(RequestSent)
		p.round = m.Round
	case *FacilitatorAccepted:
		if tail != p.accepted {
			if err := p.acceptRound(tail, m); err != nil {
				return p.fail(err, "facilitator answer")
			}
			p.setState(RequestAnswered)
		}
		p.checkTime()
	case *Aggregate:
		if m.Position == First {
			p.setState(FirstAggregated)
		} else {
			p.setState(SecondAggregated)
		}
	case *BlindingParameters:
		if err := p.blinding.Check(*m); err != nil {
			return p.fail(err, "published parameters")
		}
		switch {
		case m.Position == First && p.state == SecondAggregated:
			p.setState(FirstParamsSent)
		case m.Position == Second && p.state == FirstParamsSent:
			p.setState(SecondParamsSent)
		}
	case *SendDecryption:
		p.setState(DecryptionSent)
	case *DecryptedResult:
		p.decrypted = m
		p.setState(ResultReceived)
	case *Approved:
		p.results = m.Results
		p.setState(RequestNotSent)
	case *Disapproved:
		p.setState(RequestNotSent)
	default:
		p.checkTime()
	}
	return nil
}

// checkTime moves from REQUEST_ANSWERED to CALC_TIME_REACHED once the
// update interval is over.
func (p *Participant) checkTime() {
	if p.state == RequestAnswered &&
		p.now().After(p.responseTime.Add(p.cfg.UpdateInterval.Duration)) {
		p.setState(CalcTimeReached)
	}
}

// acceptRound resets the round data and loads the facilitator's public
// material.
func (p *Participant) acceptRound(b *ledger.Block, m *FacilitatorAccepted) error {
	if m.Scheme != p.scheme.Name() {
		return xerrors.Errorf("facilitator uses scheme %s instead of %s", m.Scheme, p.scheme.Name())
	}
	ev, err := p.scheme.LoadPublic(m.PublicMaterial)
	if err != nil {
		return err
	}
	p.accepted = b
	p.evaluator = ev
	p.responseTime = b.Timestamp
	p.round = m.Round
	p.position = NoPosition
	p.params = BlindingParameters{}
	p.counts = nil
	p.decrypted = nil
	return nil
}

// appendBoth appends a payload to the local ledger and then to the global
// one. cond guards the local append; if it is false nothing is appended and
// the returned block is nil.
func (p *Participant) appendBoth(cond func(*ledger.Block) bool, pl ledger.Payload) (*ledger.Block, error) {
	b, err := p.Ledger.AppendIf(cond, pl)
	if err != nil || b == nil {
		return nil, err
	}
	if _, err := p.global.Append(pl); err != nil {
		return nil, trafficledger.WrapError(err)
	}
	return b, nil
}

func tailIs(typ string) func(*ledger.Block) bool {
	return func(tail *ledger.Block) bool {
		return tail.Type() == typ
	}
}

func tailIsNot(typ string) func(*ledger.Block) bool {
	return func(tail *ledger.Block) bool {
		return tail.Type() != typ
	}
}

// RequestFacilitating starts a round by asking for a facilitator on both
// ledgers.
func (p *Participant) RequestFacilitating() error {
	p.Lock()
	defer p.Unlock()
	if err := p.update(); err != nil {
		return err
	}
	if p.state != RequestNotSent {
		return stateError(p.state, "request_facilitating")
	}
	if p.global == nil {
		return ErrNoGlobalLedger
	}
	req := &RequestFacilitator{
		Neighborhood: p.neighborhood,
		Round:        uuid.NewV4().String(),
	}
	b, err := p.appendBoth(tailIsNot(TypeRequestFacilitator), req)
	if err != nil {
		return err
	}
	if b == nil {
		return stateError(RequestSent, "request_facilitating")
	}
	log.Lvlf1("%s: requested a facilitator for round %s", p, req.Round)
	return p.update()
}

// SubmitLog encrypts a speed sample of a segment under the facilitator's
// public material and appends it to the local ledger.
func (p *Participant) SubmitLog(seg segments.Segment, speed int64) error {
	p.Lock()
	defer p.Unlock()
	if err := p.update(); err != nil {
		return err
	}
	if p.state != RequestAnswered {
		return stateError(p.state, "submit_log")
	}
	key, ok := p.segments[seg]
	if !ok {
		return xerrors.Errorf("%w: %s", ErrUnknownSegment, seg)
	}
	start := time.Now()
	c, err := p.evaluator.Encrypt(speed)
	if err != nil {
		return err
	}
	buf, err := c.MarshalBinary()
	if err != nil {
		return err
	}
	p.stats.LogEncryption = time.Since(start)
	b, err := p.Ledger.Append(&EncryptedLog{SegmentKey: key, Ciphertext: buf})
	if err != nil {
		return err
	}
	p.stats.LogSize = b.Size()
	return nil
}

// ComputeAndSubmitAggregate makes this participant the first aggregator in
// CALC_TIME_REACHED, or the second one in FIRST_AGGREGATED. The blinded
// aggregate goes to both ledgers.
func (p *Participant) ComputeAndSubmitAggregate() error {
	p.Lock()
	defer p.Unlock()
	if err := p.update(); err != nil {
		return err
	}
	if p.global == nil {
		return ErrNoGlobalLedger
	}
	var pos Position
	switch {
	case p.position != NoPosition:
		return stateError(p.state, "compute_and_submit_aggregate")
	case p.state == CalcTimeReached:
		pos = First
	case p.state == FirstAggregated:
		pos = Second
	default:
		return stateError(p.state, "compute_and_submit_aggregate")
	}

	params := p.blinding.Generate(pos)
	start := time.Now()
	agg, counts, err := p.aggregate(pos, params)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	b, err := p.appendBoth(func(tail *ledger.Block) bool {
		a, ok := tail.Payload.(*Aggregate)
		return !ok || a.Position < pos
	}, agg)
	if err != nil {
		return err
	}
	if b == nil {
		return stateError(p.state, "compute_and_submit_aggregate")
	}
	p.position = pos
	p.params = params
	p.counts = counts
	p.stats.Aggregation = elapsed
	p.stats.AggregateSize = b.Size()
	log.Lvlf1("%s: submitted %s aggregate of %d segments in %s", p, pos, len(agg.Entries), elapsed)
	return p.update()
}

// SendBlindingParameters publishes the blinding parameters on the local
// ledger: the first aggregator in SECOND_AGGREGATED, the second one in
// FIRST_PARAMS_SENT.
func (p *Participant) SendBlindingParameters() error {
	p.Lock()
	defer p.Unlock()
	if err := p.update(); err != nil {
		return err
	}
	switch {
	case p.position == NoPosition:
		return ErrNotAggregator
	case p.position == First && p.state != SecondAggregated,
		p.position == Second && p.state != FirstParamsSent:
		return stateError(p.state, "send_blinding_parameters")
	}
	params := p.params
	if _, err := p.Ledger.Append(&params); err != nil {
		return err
	}
	return p.update()
}

// RequestDecryption asks the facilitator for the decrypted aggregates.
func (p *Participant) RequestDecryption() error {
	p.Lock()
	defer p.Unlock()
	if err := p.update(); err != nil {
		return err
	}
	if p.global == nil {
		return ErrNoGlobalLedger
	}
	if p.state != SecondParamsSent {
		return stateError(p.state, "request_decryption")
	}
	b, err := p.appendBoth(tailIsNot(TypeSendDecryption),
		&SendDecryption{Neighborhood: p.neighborhood})
	if err != nil {
		return err
	}
	if b == nil {
		return stateError(DecryptionSent, "request_decryption")
	}
	return p.update()
}

// ApproveResults unblinds and cross-checks both decrypted aggregates, then
// appends the verdict to both ledgers. It returns true if the round was
// approved.
func (p *Participant) ApproveResults() (bool, error) {
	p.Lock()
	defer p.Unlock()
	if err := p.update(); err != nil {
		return false, err
	}
	if p.state != ResultReceived {
		return false, stateError(p.state, "approve_results")
	}
	if p.position == NoPosition {
		return false, ErrNotAggregator
	}
	if p.global == nil {
		return false, ErrNoGlobalLedger
	}
	if err := p.Ledger.Verify(); err != nil {
		return false, p.fail(xerrors.Errorf("%w: %v", ErrLedgerIntegrity, err), "local ledger")
	}

	verdict, err := p.verify()
	if err != nil {
		return false, p.fail(err, "verification")
	}
	b, err := p.appendBoth(tailIs(TypeDecryptedResult), verdict)
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, stateError(p.state, "approve_results")
	}
	_, approved := verdict.(*Approved)
	if !approved {
		log.Lvlf1("%s: round disapproved: %s", p, verdict.(*Disapproved).Reason)
	} else {
		log.Lvlf1("%s: round approved", p)
	}
	return approved, p.update()
}

// PublishSegments appends the segment keys of the neighborhood to the
// local ledger. It fails if a segment map is already there.
func (p *Participant) PublishSegments() error {
	p.Lock()
	defer p.Unlock()
	var found *ledger.Block
	p.Ledger.Forward(func(b *ledger.Block) bool {
		if m, ok := b.Payload.(*SegmentMap); ok && m.Neighborhood == p.neighborhood {
			found = b
			return false
		}
		return true
	})
	if found != nil {
		return xerrors.Errorf("%w: block %d", ErrSegmentMapExists, found.Index)
	}
	_, err := p.Ledger.Append(&SegmentMap{
		Neighborhood: p.neighborhood,
		SegmentKeys:  append([]string(nil), p.keys...),
	})
	return err
}
