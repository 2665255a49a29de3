package trafficledger

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Error is the fatal error a node keeps after it stopped: a broken ledger,
// a degenerate blinding or a failed append. It names the node or ledger
// that failed and the place where the node gave up, which "%+v" prints.
type Error struct {
	cause error
	where string
	frame xerrors.Frame
}

// ErrorOrNil tags err with where, usually the failing node or ledger. A nil
// err stays nil so the result can be returned directly.
func ErrorOrNil(err error, where string) error {
	return ErrorOrNilSkip(err, where, 1)
}

// ErrorOrNilSkip is ErrorOrNil for helpers: the recorded place is skip
// frames above the caller.
func ErrorOrNilSkip(err error, where string, skip int) error {
	if err == nil {
		return nil
	}
	return &Error{cause: err, where: where, frame: xerrors.Caller(skip)}
}

// WrapError records where a helper's caller failed without a tag.
func WrapError(err error) error {
	return ErrorOrNilSkip(err, "", 2)
}

func (e *Error) Error() string {
	return fmt.Sprint(e)
}

// Unwrap gives xerrors.Is access to the cause, e.g. ErrLedgerIntegrity.
func (e *Error) Unwrap() error {
	return e.cause
}

// Format implements fmt.Formatter.
func (e *Error) Format(f fmt.State, c rune) {
	xerrors.FormatError(e, f, c)
}

// FormatError implements xerrors.Formatter.
func (e *Error) FormatError(p xerrors.Printer) error {
	if e.where != "" {
		p.Printf("%s: ", e.where)
	}
	p.Printf("%v", e.cause)
	if !p.Detail() {
		return nil
	}
	e.frame.Format(p)
	p.Printf("%+v", e.cause)
	return nil
}
