package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrTrackNotFound is returned when a track cannot be found in the database
	ErrTrackNotFound = errors.New("track not found")

	// ErrTrendNotFound is returned when a trend cannot be found in the database
	ErrTrendNotFound = errors.New("trend not found")

	// ErrInvalidTransition is returned when a job status change is not allowed
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrMaxAttemptsReached is returned when a job has no attempts left
	ErrMaxAttemptsReached = errors.New("max attempts reached")

	// ErrInvalidPayload is returned when job payload JSON is malformed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrJobNotTerminal is returned when deleting a job that can still change
	ErrJobNotTerminal = errors.New("job is not in a terminal state")
)

// ValidationError describes a rejected input field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
