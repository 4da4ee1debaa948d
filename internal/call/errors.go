package call

import "errors"

var (
	// ErrProviderUnavailable is returned when a call cannot be started.
	ErrProviderUnavailable = errors.New("voice provider unavailable")
	ErrNoActiveCall        = errors.New("no active call")
	ErrAlreadyStarted      = errors.New("call already started")
	// ErrSayUnsupported is returned by providers that cannot speak.
	ErrSayUnsupported = errors.New("provider cannot speak")
)
