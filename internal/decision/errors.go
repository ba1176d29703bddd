package decision

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownAction is wrapped by MalformedError when the action name is not recognized.
var ErrUnknownAction = errors.New("unknown action")

// TimeoutError means the reasoning collaborator did not answer within the
// decision timeout. It ends the session.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("decision request timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// TransportError is any other failure to obtain a response. It ends the session.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("decision request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedError means a response arrived but could not be turned into a
// valid Decision. The session continues; the Decision returned alongside it
// is a noop carrying whatever thought could be recovered.
type MalformedError struct {
	Raw string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed decision: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// IsFatal reports whether err should end the session.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var malformed *MalformedError
	return !errors.As(err, &malformed)
}
