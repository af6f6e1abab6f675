package workflow

import (
	"errors"
	"fmt"

	"github.com/claimbot/claimbot/internal/domain/patient"
	"github.com/claimbot/claimbot/internal/domain/search"
)

// Configuration errors stop the whole run. Everything else aborts one invoice.
var (
	ErrConfiguration = errors.New("configuration error")

	ErrNoMember = errors.New("no payer member matched any search candidate")

	ErrAuthUnavailable = errors.New("authorization unavailable")
	ErrAuthFailed      = errors.New("authorization failed")

	ErrSubmitFailed = errors.New("claim submission failed")

	// ErrAttachFailed never aborts: the claim is already on the payer side.
	ErrAttachFailed = errors.New("attaching confirmation failed")

	ErrInvoiceNotFound = errors.New("invoice not found")
)

// PhaseError records where an invoice stopped.
type PhaseError struct {
	Invoice string
	Phase   Phase
	Err     error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("invoice %s: %s: %v", e.Invoice, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err must stop the run.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, search.ErrMissingDOS) ||
		errors.Is(err, patient.ErrMissingDOS)
}

// Kind names the error class for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsConfiguration(err):
		return "configuration"
	case errors.Is(err, ErrNoMember):
		return "identity"
	case errors.Is(err, ErrAuthUnavailable), errors.Is(err, ErrAuthFailed):
		return "authorization"
	case errors.Is(err, ErrSubmitFailed):
		return "submission"
	case errors.Is(err, ErrAttachFailed):
		return "attach"
	}
	return "driver"
}

// PhaseOf extracts the phase from err, or "" when err carries none.
func PhaseOf(err error) Phase {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase
	}
	return ""
}
