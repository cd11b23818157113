package ledger

import (
	"errors"
	"fmt"
)

// ErrUnknownToken marks business-rule failures for token ids the ledger has
// never seen (or no longer tracks on this chain).
var ErrUnknownToken = errors.New("unknown token id")

// TransportError is a network or protocol failure reaching the gateway. The
// call may or may not have executed remotely.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteRejection means the gateway executed the call and returned a
// business-rule failure.
type RemoteRejection struct {
	Op      string
	Message string
	Err     error
}

func (e *RemoteRejection) Error() string {
	return fmt.Sprintf("%s: rejected by ledger: %s", e.Op, e.Message)
}

func (e *RemoteRejection) Unwrap() error { return e.Err }

func rejectUnknownToken(op, tokenID string) error {
	return &RemoteRejection{Op: op, Message: fmt.Sprintf("unknown token id %q", tokenID), Err: ErrUnknownToken}
}
