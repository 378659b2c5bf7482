package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRetryableKeepsErrorChain(t *testing.T) {
	base := errors.New("connection reset")
	err := NewRetryable(base, "insert message for %s", "62811000222")

	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, base))
	assert.Contains(t, err.Error(), "retryable: insert message for 62811000222")
}

func TestIsRetryableThroughWrapping(t *testing.T) {
	err := fmt.Errorf("handle event: %w", NewRetryable(errors.New("timeout"), "query"))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestSentinelCheckers(t *testing.T) {
	assert.True(t, IsNotFoundError(fmt.Errorf("%w: user 628", ErrNotFound)))
	assert.False(t, IsNotFoundError(ErrDatabase))
	assert.True(t, IsBadRequestError(fmt.Errorf("%w: invalid mode", ErrBadRequest)))
	assert.False(t, IsBadRequestError(nil))
}
