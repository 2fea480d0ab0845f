package confirmations

import "errors"

var (
	// ErrDetailsDisabled is returned when a details key is requested while the
	// poller derives keys from an identity secret.
	ErrDetailsDisabled         = errors.New("Disabled")
	ErrNoConfirmationForObject = errors.New("Could not find confirmation for object")
	ErrNoKeyProvider           = errors.New("no key provider configured")
	ErrUnknownConfirmation     = errors.New("confirmation is not known to the poller")
	ErrRespondFailed           = errors.New("Could not act on confirmation")
	ErrMismatchedKeys          = errors.New("every confirmation id needs exactly one confirmation key")
)
