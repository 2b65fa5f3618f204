package approval

import (
	"errors"
	"fmt"

	"github.com/chatdeskhq/chatdesk/internal/store"
)

var (
	// ErrNotFound: no message with that id.
	ErrNotFound = errors.New("message not found")

	// ErrConflict: this call lost the conditional-update race. The caller
	// must not assume failure — the concurrent winner may have delivered.
	ErrConflict = errors.New("concurrent approval in progress")
)

// InvalidStateError is returned when the message is already in a terminal
// review state. Re-approval and re-rejection are not idempotent: each is a
// one-time auditable human action.
type InvalidStateError struct {
	Status store.ApprovalStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("message already %s", e.Status)
}

// ManualRecoveryError blocks any automated action on a message whose
// delivery succeeded but whose bookkeeping did not. Not retryable without
// operator intervention.
type ManualRecoveryError struct {
	ExternalID string
}

func (e *ManualRecoveryError) Error() string {
	return fmt.Sprintf("manual recovery required: message already delivered as %s, do not retry", e.ExternalID)
}

// TransmissionError wraps a gateway send failure. The message was reverted
// to pending_approval; retrying the approve call is safe.
type TransmissionError struct {
	Err error
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("transmission failed: %v", e.Err)
}

func (e *TransmissionError) Unwrap() error { return e.Err }

// DeliveredError reports that the gateway confirmed delivery but persisting
// the delivery marker failed. The message is flagged for manual recovery;
// the system never auto-retries past this point.
type DeliveredError struct {
	ExternalID string
	Err        error
}

func (e *DeliveredError) Error() string {
	return fmt.Sprintf("delivered as %s but bookkeeping failed, do not retry: %v", e.ExternalID, e.Err)
}

func (e *DeliveredError) Unwrap() error { return e.Err }
