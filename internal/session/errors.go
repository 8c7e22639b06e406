package session

import "errors"

var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidForkPoint indicates a fork index outside the parent's
	// message range.
	ErrInvalidForkPoint = errors.New("invalid fork point")

	// ErrMergeSelf indicates an attempt to merge a session into itself.
	ErrMergeSelf = errors.New("cannot merge a session into itself")
)
