package queue

import "errors"

// Error kinds returned by the queue. Each wraps its cause, so errors.Is works against
// both the kind and the underlying store or provider sentinel.
var (
	ErrAdmission   = errors.New("analysis admission failed")
	ErrProvider    = errors.New("analysis provider failed")
	ErrPersistence = errors.New("analysis persistence failed")
)
