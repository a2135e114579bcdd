package proto

import "errors"

// Errors a result sink reports per record. Sinks wrap them so callers can
// tell a rejected duplicate from a lost connection with errors.Is.
var (
	// ErrDuplicate means a row for the same address and scan already exists.
	ErrDuplicate = errors.New("duplicate result")
	// ErrSinkConnection means a write failed because the connection broke.
	ErrSinkConnection = errors.New("sink connection error")
)
