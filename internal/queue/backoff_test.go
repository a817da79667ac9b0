package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_Next(t *testing.T) {
	tests := []struct {
		name         string
		backoff      Backoff
		attemptsMade int
		want         time.Duration
	}{
		{name: "fixed first", backoff: Backoff{Type: BackoffFixed, Delay: time.Second}, attemptsMade: 1, want: time.Second},
		{name: "fixed later", backoff: Backoff{Type: BackoffFixed, Delay: time.Second}, attemptsMade: 4, want: time.Second},
		{name: "exponential first", backoff: Backoff{Type: BackoffExponential, Delay: 2 * time.Second}, attemptsMade: 1, want: 2 * time.Second},
		{name: "exponential second", backoff: Backoff{Type: BackoffExponential, Delay: 2 * time.Second}, attemptsMade: 2, want: 4 * time.Second},
		{name: "exponential third", backoff: Backoff{Type: BackoffExponential, Delay: 5 * time.Second}, attemptsMade: 3, want: 20 * time.Second},
		{name: "exponential zero attempts", backoff: Backoff{Type: BackoffExponential, Delay: time.Second}, attemptsMade: 0, want: time.Second},
		{name: "exponential capped", backoff: Backoff{Type: BackoffExponential, Delay: time.Millisecond}, attemptsMade: 64, want: time.Millisecond << maxBackoffShift},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.backoff.Next(tt.attemptsMade))
		})
	}
}

func TestBackoff_Validate(t *testing.T) {
	require.NoError(t, Backoff{Type: BackoffFixed}.validate())
	require.ErrorIs(t, Backoff{Type: "linear", Delay: time.Second}.validate(), ErrInvalidJob)
	require.ErrorIs(t, Backoff{Type: BackoffFixed, Delay: -time.Second}.validate(), ErrInvalidJob)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := assert.AnError
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, base.Error(), err.Error())

	wrapped := fmt.Errorf("process job 7: %w", err)
	assert.True(t, IsPermanent(wrapped))
	assert.False(t, IsPermanent(base))
}
