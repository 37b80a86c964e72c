package sdhost

import (
	"errors"
	"fmt"
)

// Status is the result of a controller or card operation. The values and their
// order match the vendor SDK. Every Status except StatusOK, StatusCardInserted
// and StatusCardRemoved describes a failure; Status implements error for them.
type Status uint8

const (
	StatusOK Status = iota
	StatusError
	StatusCardInserted
	StatusCardRemoved
	StatusInvalidResponseType
	StatusCmdTimeout
	StatusUnusableCard
	StatusCMD1Failed
	StatusCMD2Failed
	StatusCMD3Failed
	StatusCMD8Failed
	StatusCMD9Failed
	StatusCMD55Failed
	StatusACMD41Failed
	StatusCannotEnterTransferState
	StatusCannotSetCardBusWidth
	StatusCannotSetCardHighSpeed
	StatusResponseError
	StatusWriteError
	StatusReadError
	StatusNotInitialised
	StatusCardNotInitialised
)

var statusNames = [...]string{
	StatusOK:                       "ok",
	StatusError:                    "error",
	StatusCardInserted:             "card inserted",
	StatusCardRemoved:              "card removed",
	StatusInvalidResponseType:      "invalid response type",
	StatusCmdTimeout:               "command timeout",
	StatusUnusableCard:             "unusable card",
	StatusCMD1Failed:               "CMD1 failed",
	StatusCMD2Failed:               "CMD2 failed",
	StatusCMD3Failed:               "CMD3 failed",
	StatusCMD8Failed:               "CMD8 failed",
	StatusCMD9Failed:               "CMD9 failed",
	StatusCMD55Failed:              "CMD55 failed",
	StatusACMD41Failed:             "ACMD41 failed",
	StatusCannotEnterTransferState: "cannot enter transfer state",
	StatusCannotSetCardBusWidth:    "cannot set card bus width",
	StatusCannotSetCardHighSpeed:   "cannot set card high speed",
	StatusResponseError:            "response error",
	StatusWriteError:               "write error",
	StatusReadError:                "read error",
	StatusNotInitialised:           "host not initialised",
	StatusCardNotInitialised:       "card not initialised",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) Error() string { return "sdhost: " + s.String() }

// Err returns nil for StatusOK and s otherwise.
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	return s
}

// StatusOf extracts the Status carried by err. A nil error is StatusOK, an
// error not carrying a Status is StatusError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var ie *InitError
	if errors.As(err, &ie) {
		return ie.Status
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusError
}

// InitError is returned by CardInit. Status is the value returned to the caller
// and Reason the step of the sequence that failed, which is also recorded in
// Card.InternalStatus. errors.Is matches both.
type InitError struct {
	Status Status
	Reason Status
}

func (e *InitError) Error() string {
	if e.Reason == e.Status {
		return e.Status.Error()
	}
	return fmt.Sprintf("%v: %v", e.Status.Error(), e.Reason)
}

func (e *InitError) Unwrap() []error { return []error{e.Status, e.Reason} }

// Errors of the block device adapter.
var (
	ErrSeekOutOfRange = errors.New("sdhost: seek out of range")
	ErrOutOfRange     = errors.New("sdhost: access beyond card capacity")
)
