// Package rerrors defines the unified error kind returned by every invoke
// API, carrying the wire status taxonomy of the remoting protocol.
package rerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is a wire-level response status byte.
type Status uint16

const (
	SUCCESS Status = iota
	ERROR
	SERVER_EXCEPTION
	UNKNOWN
	SERVER_THREADPOOL_BUSY
	ERROR_COMM
	NO_PROCESSOR
	TIMEOUT
	CLIENT_SEND_ERROR
	CODEC_EXCEPTION
	CONNECTION_CLOSED
	SERVER_SERIAL_EXCEPTION
	SERVER_DESERIAL_EXCEPTION
	OVERLOAD_EXCEPTION
	DESERIAL_CODE_ERROR
	CRC_CHECK
	LIFECYCLE
)

func (s Status) String() string {
	switch s {
	case SUCCESS:
		return "SUCCESS"
	case ERROR:
		return "ERROR"
	case SERVER_EXCEPTION:
		return "SERVER_EXCEPTION"
	case UNKNOWN:
		return "UNKNOWN"
	case SERVER_THREADPOOL_BUSY:
		return "SERVER_THREADPOOL_BUSY"
	case ERROR_COMM:
		return "ERROR_COMM"
	case NO_PROCESSOR:
		return "NO_PROCESSOR"
	case TIMEOUT:
		return "TIMEOUT"
	case CLIENT_SEND_ERROR:
		return "CLIENT_SEND_ERROR"
	case CODEC_EXCEPTION:
		return "CODEC_EXCEPTION"
	case CONNECTION_CLOSED:
		return "CONNECTION_CLOSED"
	case SERVER_SERIAL_EXCEPTION:
		return "SERVER_SERIAL_EXCEPTION"
	case SERVER_DESERIAL_EXCEPTION:
		return "SERVER_DESERIAL_EXCEPTION"
	case OVERLOAD_EXCEPTION:
		return "OVERLOAD_EXCEPTION"
	case DESERIAL_CODE_ERROR:
		return "DESERIAL_CODE_ERROR"
	case CRC_CHECK:
		return "CRC_CHECK"
	case LIFECYCLE:
		return "LIFECYCLE"
	}
	return "UNKNOWN_STATUS"
}

// RemotingException is the single unified error kind every invoke API
// returns. Callers distinguish cases via Status and the wrapped Cause.
type RemotingException struct {
	Status Status
	Cause  error
}

func New(status Status, msg string) *RemotingException {
	return &RemotingException{Status: status, Cause: errors.New(msg)}
}

func Wrap(status Status, cause error) *RemotingException {
	return &RemotingException{Status: status, Cause: errors.WithStack(cause)}
}

func (e *RemotingException) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("remoting: %s", e.Status)
	}
	return fmt.Sprintf("remoting: %s: %v", e.Status, e.Cause)
}

func (e *RemotingException) Unwrap() error {
	return e.Cause
}

// Is reports whether err is a *RemotingException with the given status.
func Is(err error, status Status) bool {
	re, ok := err.(*RemotingException)
	if !ok {
		return false
	}
	return re.Status == status
}

// StatusOf extracts the status carried by err, defaulting to UNKNOWN for
// errors that did not originate from this package.
func StatusOf(err error) Status {
	if re, ok := err.(*RemotingException); ok {
		return re.Status
	}
	return UNKNOWN
}
