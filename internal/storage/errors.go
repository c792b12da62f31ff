package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcoot/sideline/internal/model"
)

// LocalStorageError wraps any failure of the local provider
type LocalStorageError struct {
	Op  string
	Err error
}

func (e *LocalStorageError) Error() string {
	return fmt.Sprintf("local storage %s: %v", e.Op, e.Err)
}

func (e *LocalStorageError) Unwrap() error { return e.Err }

// AuthenticationRequiredError is returned when an operation needs an
// identity and the router is anonymous
type AuthenticationRequiredError struct {
	Op string
}

func (e *AuthenticationRequiredError) Error() string {
	return fmt.Sprintf("%s: authentication required", e.Op)
}

// TransientSyncError is a remote failure worth retrying (network, timeout,
// server overload, open circuit)
type TransientSyncError struct {
	Op  string
	Err error
}

func (e *TransientSyncError) Error() string {
	return fmt.Sprintf("transient remote failure in %s: %v", e.Op, e.Err)
}

func (e *TransientSyncError) Unwrap() error { return e.Err }

// ConflictError reports a revision mismatch on a conditional write.
// Remote is the current remote record, nil when the remote has none.
type ConflictError struct {
	Key      model.EntityKey
	Expected int64
	Remote   *model.Record
}

func (e *ConflictError) Error() string {
	var actual int64
	if e.Remote != nil {
		actual = e.Remote.Revision
	}
	return fmt.Sprintf("conflict on %s: expected revision %d, remote has %d", e.Key, e.Expected, actual)
}

// PermanentSyncError is a remote rejection that retrying cannot fix
type PermanentSyncError struct {
	Op     string
	Reason string
	Err    error
}

func (e *PermanentSyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote rejected %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("remote rejected %s: %s", e.Op, e.Reason)
}

func (e *PermanentSyncError) Unwrap() error { return e.Err }

// TransactionStepError identifies the transaction step that failed
type TransactionStepError struct {
	TransactionID string
	OperationID   string
	Err           error
}

func (e *TransactionStepError) Error() string {
	return fmt.Sprintf("transaction %s: operation %s failed: %v", e.TransactionID, e.OperationID, e.Err)
}

func (e *TransactionStepError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried. Context deadlines count
// as transient because they are per-request timeouts.
func IsTransient(err error) bool {
	var te *TransientSyncError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether err is a permanent remote rejection
func IsPermanent(err error) bool {
	var pe *PermanentSyncError
	return errors.As(err, &pe)
}

// AsConflict extracts a *ConflictError from err
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsAuthRequired reports whether err is an *AuthenticationRequiredError
func IsAuthRequired(err error) bool {
	var ae *AuthenticationRequiredError
	return errors.As(err, &ae)
}

// IsLocal reports whether err is a *LocalStorageError
func IsLocal(err error) bool {
	var le *LocalStorageError
	return errors.As(err, &le)
}
