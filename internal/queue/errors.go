package queue

import "errors"

var (
	// ErrInvalidJob is returned when AddJob receives bad parameters
	ErrInvalidJob = errors.New("invalid job")

	// ErrJobActive is returned when removing an entry a handler is running
	ErrJobActive = errors.New("job is active")

	// ErrServiceClosed is returned after Close has been called
	ErrServiceClosed = errors.New("queue service closed")
)

// PermanentError marks a handler failure that must not be retried.
// Its message is the wrapped message so stored failure reasons stay readable.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the broker fails the entry without retrying.
// A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is permanent
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
