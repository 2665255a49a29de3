package protocol

import (
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/trafficledger/ledger"
	"golang.org/x/xerrors"
)

// Forward copies the facilitator's answers for this neighborhood from the
// global ledger to the local one: facilitator_accepted while the local
// state is REQUEST_SENT, decrypted_result while it is DECRYPTION_SENT.
// Only the newest global block of the neighborhood is considered. The
// local append is conditional on the local tail, so two participants
// forwarding the same block append it once.
func (p *Participant) Forward() error {
	p.Lock()
	defer p.Unlock()
	if p.global == nil {
		return ErrNoGlobalLedger
	}
	if err := p.update(); err != nil {
		return err
	}
	var wantType string
	switch p.state {
	case RequestSent:
		wantType = TypeFacilitatorAccepted
	case DecryptionSent:
		wantType = TypeDecryptedResult
	default:
		return nil
	}

	var latest *ledger.Block
	p.global.Backward(func(b *ledger.Block) bool {
		if nb, ok := neighborhoodOf(b.Payload); ok && nb == p.neighborhood {
			latest = b
			return false
		}
		return true
	})
	if latest == nil || latest.Type() != wantType {
		return nil
	}
	if fa, ok := latest.Payload.(*FacilitatorAccepted); ok && fa.Round != p.round {
		log.Lvlf3("%s: ignoring answer for round %s", p, fa.Round)
		return nil
	}

	var waitFor string
	if wantType == TypeFacilitatorAccepted {
		waitFor = TypeRequestFacilitator
	} else {
		waitFor = TypeSendDecryption
	}
	b, err := p.Ledger.AppendIf(tailIs(waitFor), latest.Payload)
	if err != nil {
		return xerrors.Errorf("forwarding %s: %v", wantType, err)
	}
	if b != nil {
		log.Lvlf2("%s: forwarded %s to the local ledger", p, wantType)
	}
	return p.update()
}
