package tasks

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError asks the worker to try the task again after RetryIn
// without spending one of its retries.
type RateLimitError struct {
	RetryIn time.Duration
	Reason  string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s), retry in %v", e.Reason, e.RetryIn)
}

func IsRateLimitError(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
