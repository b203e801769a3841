package payroll

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(n int) *conflictRetrier {
	return newConflictRetrier(RetryConfig{MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, nil)
}

func TestConflictRetrier_RetriesConflicts(t *testing.T) {
	attempts := 0
	err := fastRetry(3).Run(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("append: %w", ErrConcurrentModification)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestConflictRetrier_ExhaustionReturnsConflict(t *testing.T) {
	attempts := 0
	err := fastRetry(2).Run(context.Background(), func() error {
		attempts++
		return ErrConcurrentModification
	})

	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.Equal(t, 3, attempts, "one try plus two retries")
}

func TestConflictRetrier_OtherErrorsAreNotRetried(t *testing.T) {
	attempts := 0
	err := fastRetry(5).Run(context.Background(), func() error {
		attempts++
		return &InsufficientBalanceError{WorkerID: "w1"}
	})

	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 1, attempts)
}
