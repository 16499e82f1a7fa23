package engine

import (
	"errors"
	"fmt"
)

// RetryBudget decides whether a record may still be attempted automatically.
//
// The budget is advisory: an exhausted record is never deleted and never
// incremented further by a normal pass, but ForceSync ignores the budget.
type RetryBudget struct {
	maxRetries int
}

// NewRetryBudget creates a budget allowing maxRetries attempts per record.
func NewRetryBudget(maxRetries int) RetryBudget {
	return RetryBudget{maxRetries: maxRetries}
}

// Check returns a RetryBudgetExhaustedError when attempts has reached the
// limit.
func (b RetryBudget) Check(recordID int64, attempts int) error {
	if attempts >= b.maxRetries {
		return &RetryBudgetExhaustedError{
			RecordID: recordID,
			Attempts: attempts,
			Limit:    b.maxRetries,
		}
	}
	return nil
}

// MaxRetries returns the configured limit.
func (b RetryBudget) MaxRetries() int {
	return b.maxRetries
}

// RetryBudgetExhaustedError reports a record in the terminal abandoned state.
// It is recorded in the pass summary, never returned from SyncData.
type RetryBudgetExhaustedError struct {
	RecordID int64
	Attempts int
	Limit    int
}

// Error implements the error interface.
func (e *RetryBudgetExhaustedError) Error() string {
	return fmt.Sprintf("record %d exhausted retry budget: %d attempts >= %d limit",
		e.RecordID, e.Attempts, e.Limit)
}

// IsRetryBudgetExhausted returns true if err is a RetryBudgetExhaustedError.
// Uses errors.As to handle wrapped errors.
func IsRetryBudgetExhausted(err error) bool {
	var be *RetryBudgetExhaustedError
	return errors.As(err, &be)
}
