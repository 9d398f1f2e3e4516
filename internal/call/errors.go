package call

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArguments  = errors.New("invalid arguments")
	ErrInvalidDigits     = errors.New("invalid digits")
	ErrNoActiveCall      = errors.New("no active call")
	ErrCallAlreadyActive = errors.New("call already active")
)

// TransportError is an SDK or OS transaction that was rejected outright.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
