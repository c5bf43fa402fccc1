package vera

import (
	"errors"
	"fmt"
)

var (
	ErrPollTimeout    = errors.New("vera: poll timed out without changes")
	ErrDeviceNotFound = errors.New("vera: device not found")
	ErrSceneNotFound  = errors.New("vera: scene not found")
	ErrWrongCategory  = errors.New("vera: device has a different category")
	ErrEmptyBaseURL   = errors.New("vera: base URL is empty")
	ErrNotStarted     = errors.New("vera: subscription not started")
	ErrAlreadyStarted = errors.New("vera: subscription already started")
	ErrInvalidValue   = errors.New("vera: invalid value")
)

// NetworkError reports a transport failure or a non-2xx answer to a read.
type NetworkError struct {
	Op         string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vera %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("vera %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError reports a payload the controller sent that could not be decoded.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("vera %s: parsing response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CommandRejectedError is returned when the controller refuses an action.
type CommandRejectedError struct {
	DeviceID   int
	Service    string
	Action     string
	StatusCode int
	Reason     string
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("vera: %s %s on device %d rejected (status %d): %s",
		e.Service, e.Action, e.DeviceID, e.StatusCode, e.Reason)
}

// SubscriptionError is the terminal error of a polling loop that gave up.
type SubscriptionError struct {
	Failures int
	Err      error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("vera: subscription stopped after %d consecutive failures: %v", e.Failures, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

func IsNetworkError(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

func IsCommandRejected(err error) bool {
	var target *CommandRejectedError
	return errors.As(err, &target)
}

func IsSubscriptionError(err error) bool {
	var target *SubscriptionError
	return errors.As(err, &target)
}
