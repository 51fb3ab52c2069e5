package domain

import "errors"

var (
	// ErrNotFound reports a referenced task or asset that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied reports an action the actor is not allowed to take.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidState reports an operation against a task in the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid task state")
)
