package store

import "errors"

// Observable operation outcomes. Handlers match on these to build caller
// facing error events; anything else is a storage engine failure and is
// surfaced verbatim.
var (
	ErrUsernameInUse    = errors.New("username already in use")
	ErrInvalidUserID    = errors.New("unknown user id")
	ErrInvalidGroupID   = errors.New("unknown group id")
	ErrInvalidMessageID = errors.New("unknown message id")
	ErrPermissionDenied = errors.New("permission denied")
)
