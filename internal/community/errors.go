package community

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoggedIn means the session cookies are no longer valid. It is always
	// forwarded to the session observer as well.
	ErrNotLoggedIn          = errors.New("Not Logged In")
	ErrFamilyViewRestricted = errors.New("Family View Restricted")
	ErrMalformedResponse    = errors.New("Malformed JSON response")
	ErrNoSteamID            = errors.New("must be logged in before trying to do anything with confirmations")
)

// HTTPError is returned for responses with a status code >= 400.
type HTTPError struct {
	Code int
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d", e.Code)
}

// CommunityError is an error message the platform rendered into an html page.
type CommunityError struct {
	Message string
}

func (e CommunityError) Error() string {
	return e.Message
}

// SessionObserver receives every error that indicates the session expired.
type SessionObserver interface {
	SessionExpired(err error)
}

type SessionObserverFunc func(err error)

func (f SessionObserverFunc) SessionExpired(err error) {
	f(err)
}
