package protocol

import (
	"fmt"

	"golang.org/x/xerrors"
)

// FacilitatorState is the state of a Facilitator.
type FacilitatorState int

// The facilitator cycles through these states once per round.
const (
	Idle FacilitatorState = iota
	WaitingFirstAggregate
	WaitingSecondAggregate
	WaitingDecryptionRequest
)

var facilitatorStateNames = []string{
	"IDLE",
	"WAITING_FIRST_AGGREGATE",
	"WAITING_SECOND_AGGREGATE",
	"WAITING_DECRYPTION_REQUEST",
}

func (s FacilitatorState) String() string {
	if s < 0 || int(s) >= len(facilitatorStateNames) {
		return fmt.Sprintf("FacilitatorState(%d)", int(s))
	}
	return facilitatorStateNames[s]
}

// ParticipantState is the state of a Participant. It is re-derived from the
// tail of the local ledger on every update.
type ParticipantState int

// The participant states in protocol order.
const (
	RequestNotSent ParticipantState = iota
	RequestSent
	RequestAnswered
	CalcTimeReached
	FirstAggregated
	SecondAggregated
	FirstParamsSent
	SecondParamsSent
	DecryptionSent
	ResultReceived
)

var participantStateNames = []string{
	"REQUEST_NOT_SENT",
	"REQUEST_SENT",
	"REQUEST_ANSWERED",
	"CALC_TIME_REACHED",
	"FIRST_AGGREGATED",
	"SECOND_AGGREGATED",
	"FIRST_PARAMS_SENT",
	"SECOND_PARAMS_SENT",
	"DECRYPTION_SENT",
	"RESULT_RECEIVED",
}

func (s ParticipantState) String() string {
	if s < 0 || int(s) >= len(participantStateNames) {
		return fmt.Sprintf("ParticipantState(%d)", int(s))
	}
	return participantStateNames[s]
}

// StateError is returned when an operation is called in the wrong state.
// The caller can retry once the state advanced.
type StateError struct {
	State  fmt.Stringer
	Action string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s is incorrect for action %s", e.State, e.Action)
}

func stateError(s fmt.Stringer, action string) error {
	return &StateError{State: s, Action: action}
}

// IsStateError returns true if err wraps a *StateError.
func IsStateError(err error) bool {
	var se *StateError
	return xerrors.As(err, &se)
}

var (
	// ErrDegenerateBlinding is fatal: a published blinding scalar is zero.
	ErrDegenerateBlinding = xerrors.New("degenerate blinding parameter")
	// ErrLedgerIntegrity is fatal: the ledger failed validation.
	ErrLedgerIntegrity = xerrors.New("ledger integrity failure")
	// ErrNoGlobalLedger is returned for operations needing the global
	// ledger on a participant without one.
	ErrNoGlobalLedger = xerrors.New("participant has no global ledger")
	// ErrNotAggregator is returned when a participant that did not
	// aggregate in this round tries to act as an aggregator.
	ErrNotAggregator = xerrors.New("participant is not an aggregator of this round")
	// ErrUnknownSegment is returned for a log on a segment that is not in
	// the neighborhood.
	ErrUnknownSegment = xerrors.New("unknown segment")
	// ErrSegmentMapExists is returned when the segment map is already on the
	// local ledger.
	ErrSegmentMapExists = xerrors.New("segment map already on the ledger")
	// ErrStopped is returned by operations on a node with a fatal error.
	ErrStopped = xerrors.New("node stopped")
)
