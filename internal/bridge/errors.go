package bridge

import "errors"

var (
	// ErrNoSession indicates the tenant has no live session.
	ErrNoSession = errors.New("bridge: no session")
	// ErrNotLoggedIn indicates the session has no authenticated login handle.
	ErrNotLoggedIn = errors.New("bridge: not logged in")
	// ErrNoTarget indicates neither a replied message nor a current contact addresses a peer.
	ErrNoTarget = errors.New("bridge: no target contact")
	// ErrSessionClosed indicates the session loop has exited.
	ErrSessionClosed = errors.New("bridge: session closed")
)
