package treeerr

import "errors"

// InvariantViolationError reports a structural precondition failure, e.g.
// soft-deleting an org that still has live descendants. Recoverable: the
// caller can satisfy the precondition and retry.
type InvariantViolationError struct {
	msg string
}

func (e *InvariantViolationError) Error() string { return e.msg }

func NewInvariantViolation(msg string) error { return &InvariantViolationError{msg: msg} }

func IsInvariantViolation(err error) bool {
	var target *InvariantViolationError
	return errors.As(err, &target)
}

// CycleError reports a rejected splice that would have made an org its
// own ancestor. Nothing is written when it is returned.
type CycleError struct {
	msg string
}

func (e *CycleError) Error() string { return e.msg }

func NewCycle(msg string) error { return &CycleError{msg: msg} }

func IsCycle(err error) bool {
	var target *CycleError
	return errors.As(err, &target)
}

// ConsistencyError reports pre-existing data corruption, e.g. more than
// one parent row for an org. Fatal: the operation aborts without repair.
type ConsistencyError struct {
	msg string
}

func (e *ConsistencyError) Error() string { return e.msg }

func NewConsistency(msg string) error { return &ConsistencyError{msg: msg} }

func IsConsistency(err error) bool {
	var target *ConsistencyError
	return errors.As(err, &target)
}
