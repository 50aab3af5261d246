// Package errdefs defines the error taxonomy shared by all billing modules.
//
// Callers classify failures with errors.Is against these sentinels; modules
// wrap them with fmt.Errorf("%w: ...") to add detail without losing the class.
package errdefs

import "errors"

var (
	// ErrValidation marks malformed input rejected before it reaches any
	// persisted record (zero-length period, negative quantity, unknown id
	// format). Never retried.
	ErrValidation = errors.New("validation_error")

	// ErrStateConflict marks an invalid state transition, such as
	// finalizing a non-draft invoice or changing the plan of a suspended
	// subscription. Returned to the caller, not retried.
	ErrStateConflict = errors.New("state_conflict")

	// ErrImmutableRecord marks an attempted mutation of a finalized or
	// posted record. Indicates a caller bug; always fatal to the operation.
	ErrImmutableRecord = errors.New("immutable_record")

	// ErrImbalancedLedger marks a journal entry whose debits and credits
	// do not match. Entry factories can never produce this, so seeing it
	// means a programming defect.
	ErrImbalancedLedger = errors.New("imbalanced_ledger")

	// ErrNotFound marks a lookup miss on a referenced entity.
	ErrNotFound = errors.New("not_found")

	// ErrExternalService marks a payment/notification collaborator failure.
	// Retried with backoff by the calling job and recorded against the
	// subscription once retries are exhausted.
	ErrExternalService = errors.New("external_service_error")
)
