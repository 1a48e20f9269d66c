package dialer

import (
	"errors"
	"fmt"
)

// Error kinds. Every error the dialer returns matches exactly one of these
// with errors.Is; the API layer maps kinds to status codes.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
	ErrTelephony    = errors.New("telephony provider error")

	// ErrInvalidCampaign matches both a missing and a non-active campaign.
	ErrInvalidCampaign = errors.New("invalid campaign")
)

var (
	ErrSessionNotFound  = kindError("session not found", ErrNotFound)
	ErrCallNotFound     = kindError("call not found", ErrNotFound)
	ErrContactNotFound  = kindError("contact not found", ErrNotFound)
	ErrCampaignNotFound = kindError("campaign not found", ErrNotFound, ErrInvalidCampaign)

	ErrCampaignInactive   = kindError("campaign is not active", ErrInvalidState, ErrInvalidCampaign)
	ErrSessionStopped     = kindError("session is stopped", ErrInvalidState)
	ErrSessionBusy        = kindError("session has an operation in flight", ErrInvalidState)
	ErrCallInProgress     = kindError("session already has an active call", ErrInvalidState)
	ErrCallCompleted      = kindError("call is already completed", ErrInvalidState)
	ErrContactNotDialable = kindError("contact is not the session's dialing contact", ErrInvalidState)
	ErrContactUnsettled   = kindError("current contact is still dialing; place the call or skip it", ErrInvalidState)
	ErrNoCurrentContact   = kindError("session has no current contact", ErrInvalidState)
	ErrNoContactDue       = kindError("no contact is due for a retry yet", ErrInvalidState)
	ErrLinesBusy          = kindError("campaign line limit reached", ErrInvalidState)

	ErrUnknownDisposition = kindError("unknown disposition", ErrValidation)
	ErrUnknownSID         = kindError("unknown provider call sid", ErrNotFound)
)

type dialerError struct {
	msg   string
	kinds []error
}

func kindError(msg string, kinds ...error) error {
	return &dialerError{msg: msg, kinds: kinds}
}

func (e *dialerError) Error() string { return "dialer: " + e.msg }

func (e *dialerError) Is(target error) bool {
	for _, k := range e.kinds {
		if k == target {
			return true
		}
	}
	return false
}

func requiredError(field string) error {
	return fmt.Errorf("dialer: %s is required: %w", field, ErrValidation)
}

// TelephonyError wraps a provider failure. It matches ErrTelephony and
// unwraps to the provider's own error (e.g. *telephony.APIError).
type TelephonyError struct {
	Op  string
	Err error
}

func (e *TelephonyError) Error() string {
	return fmt.Sprintf("dialer: %s: %v", e.Op, e.Err)
}

func (e *TelephonyError) Unwrap() error { return e.Err }

func (e *TelephonyError) Is(target error) bool { return target == ErrTelephony }
