package engine

import (
	"errors"
	"fmt"
)

// ErrEnumerate wraps the one failure SyncData surfaces: the unsynced records
// could not be listed.
var ErrEnumerate = errors.New("enumerate unsynced records")

// IsEnumerateError reports whether err came from listing unsynced records.
func IsEnumerateError(err error) bool {
	return errors.Is(err, ErrEnumerate)
}

// DeliveryError represents a failed POST of one record.
//
// Delivery errors are recovered locally (increment and retry later) and are
// never surfaced as hard failures; they are logged and counted in the pass
// summary.
type DeliveryError struct {
	// Code identifies the error category.
	Code DeliveryErrorCode

	// Message is a human-readable description.
	Message string

	// RecordID identifies the record being delivered.
	RecordID int64

	// Status is the HTTP status code, when a response was received.
	Status int

	// Err is the underlying transport error, if any.
	Err error
}

// DeliveryErrorCode categorizes delivery errors.
type DeliveryErrorCode string

const (
	// ErrCodeNetwork indicates the request never produced a response.
	ErrCodeNetwork DeliveryErrorCode = "NETWORK"

	// ErrCodeStatus indicates the endpoint answered with a non-2xx status.
	ErrCodeStatus DeliveryErrorCode = "STATUS"

	// ErrCodeEncode indicates the record could not be serialized.
	ErrCodeEncode DeliveryErrorCode = "ENCODE"
)

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (record=%d, status=%d)", e.Code, e.Message, e.RecordID, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (record=%d): %v", e.Code, e.Message, e.RecordID, e.Err)
	}
	return fmt.Sprintf("%s: %s (record=%d)", e.Code, e.Message, e.RecordID)
}

// Unwrap returns the underlying transport error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsDeliveryError returns true if err is a DeliveryError.
// Uses errors.As to handle wrapped errors.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

// IsStatusError returns true if err is a DeliveryError carrying a non-2xx
// response.
func IsStatusError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Code == ErrCodeStatus
	}
	return false
}

// NewNetworkError creates a DeliveryError for a transport failure.
func NewNetworkError(recordID int64, err error) *DeliveryError {
	return &DeliveryError{
		Code:     ErrCodeNetwork,
		Message:  "request failed",
		RecordID: recordID,
		Err:      err,
	}
}

// NewStatusError creates a DeliveryError for a non-2xx response.
func NewStatusError(recordID int64, status int) *DeliveryError {
	return &DeliveryError{
		Code:     ErrCodeStatus,
		Message:  "unexpected response status",
		RecordID: recordID,
		Status:   status,
	}
}
