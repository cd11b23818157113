package app

import "fmt"

// ValidationError reports client-side input rejection. The ledger is never
// contacted when one of these is returned.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func validationErr(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// PublishError wraps a failure of the blob publish step of registration.
// Registration was not attempted and no ledger state changed.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish data blob: %v", e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// PartialSequenceFailure reports a registration that failed after its
// document blob was already published. The blob stays on the chain with no
// product referencing it; callers get its hash so the condition is at least
// attributable.
type PartialSequenceFailure struct {
	BlobHash string
	Err      error
}

func (e *PartialSequenceFailure) Error() string {
	return fmt.Sprintf("register product: %v (blob %s already published, left unreferenced)", e.Err, e.BlobHash)
}

func (e *PartialSequenceFailure) Unwrap() error { return e.Err }
