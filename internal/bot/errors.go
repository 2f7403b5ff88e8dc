package bot

import "errors"

// Dispatch-level failure classes. The dispatcher maps these to user-facing
// replies; everything else becomes a generic failure with the cause logged.
var (
	// ErrSessionExpired marks a stale session that was cleared; the user is
	// redirected to the top-level menu.
	ErrSessionExpired = errors.New("session expired")

	// ErrSignatureInvalid marks a payload rejected at the boundary.
	ErrSignatureInvalid = errors.New("invalid signature")
)
