package dispatch

import "errors"

var (
	// ErrValidation covers malformed requests; they never enter matching.
	ErrValidation = errors.New("invalid request")
	// ErrUnknownRequest means the request id is not in the live working set.
	ErrUnknownRequest = errors.New("unknown request")
	// ErrAlreadyTaken is the race-loss outcome: another driver won first.
	ErrAlreadyTaken = errors.New("already taken")
	// ErrCapacity is the stale-data outcome: the accepting driver's vehicle
	// cannot carry the party. The request stays open for others.
	ErrCapacity = errors.New("vehicle capacity insufficient")
	// ErrInvalidState rejects operations that do not apply to the request's
	// current state.
	ErrInvalidState = errors.New("invalid state for operation")
)
