package queue

import (
	"fmt"
	"time"
)

// BackoffType selects how the retry delay grows
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// maxBackoffShift caps 2^n so the delay cannot overflow
const maxBackoffShift = 20

// Backoff is the delay policy between automatic retries
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

func (b Backoff) validate() error {
	switch b.Type {
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("%w: unknown backoff type %q", ErrInvalidJob, b.Type)
	}
	if b.Delay < 0 {
		return fmt.Errorf("%w: negative backoff delay", ErrInvalidJob)
	}
	return nil
}

// Next returns the wait before the retry that follows attemptsMade
// invocations: Delay for fixed, Delay*2^(attemptsMade-1) for exponential.
func (b Backoff) Next(attemptsMade int) time.Duration {
	if b.Type != BackoffExponential {
		return b.Delay
	}
	shift := attemptsMade - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return b.Delay * time.Duration(1<<shift)
}
