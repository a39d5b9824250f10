package fieldwork

import "errors"

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

var (
	ErrInvalidTransition   = Err("invalid transition")
	ErrNotAuthorized       = Err("not authorized")
	ErrNotClaimable        = Err("task is not claimable")
	ErrAlreadyFinalised    = Err("submission already finalised")
	ErrDisputeAlreadyOpen  = Err("dispute already open")
	ErrDeadlinePassed      = Err("deadline passed")
	ErrProviderUnavailable = Err("provider unavailable")
	ErrProviderRejected    = Err("provider rejected operation")
	ErrNotFound            = Err("not found")
	ErrAlreadyVoted        = Err("juror already voted")
	ErrInvalidInput        = Err("invalid input")
	ErrInvalidRequirements = Err("invalid requirements")
)

// Kind returns a stable label for err, used for metrics and API error codes.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrNotClaimable):
		return "not_claimable"
	case errors.Is(err, ErrAlreadyFinalised):
		return "already_finalised"
	case errors.Is(err, ErrDisputeAlreadyOpen):
		return "dispute_already_open"
	case errors.Is(err, ErrDeadlinePassed):
		return "deadline_passed"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, ErrInvalidRequirements):
		return "invalid_requirements"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}
