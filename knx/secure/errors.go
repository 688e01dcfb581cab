// Licensed under the MIT license which can be found in the LICENSE file.

package secure

import (
	"errors"
	"fmt"

	"github.com/LB-00/knx-secure/knx/knxnet"
)

// Errors
var (
	ErrAlreadyStarted   = errors.New("secure: session already started")
	ErrMACVerification  = errors.New("secure: MAC verification failed")
	ErrSessionMismatch  = errors.New("secure: session id mismatch")
	ErrPayloadTooLong   = errors.New("secure: payload exceeds 4080 bytes")
	ErrInvalidKeySize   = errors.New("secure: invalid key size, must be 16 bytes")
	ErrSequenceOverflow = errors.New("secure: sequence number exhausted")
	ErrNoGroupKey       = errors.New("secure: no key for group address")
	ErrNotSecured       = errors.New("secure: telegram is not a Data Secure telegram")
)

// StateError is returned when an operation is invalid in the current session state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("secure: %s not allowed in state %v", e.Op, e.State)
}

// SequenceViolationError is returned for a sequence number that does not exceed the last
// accepted one. The frame must be dropped; the session stays usable.
type SequenceViolationError struct {
	Received uint64
	Last     uint64
}

func (e *SequenceViolationError) Error() string {
	return fmt.Sprintf("secure: sequence number %d not greater than %d", e.Received, e.Last)
}

// StatusError reports a session that the server closed with a failure status.
type StatusError struct {
	Status knxnet.SessionStatusCode
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("secure: session closed by server: %v", e.Status)
}
