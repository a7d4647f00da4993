package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpErrorUnwrap(t *testing.T) {
	err := Wrap("update", "products", 7, ErrNotFound)

	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
	assert.Equal(t, "update products[7]: record not found", err.Error())

	var opErr *OpError
	assert.True(t, errors.As(err, &opErr))
	assert.Equal(t, "products", opErr.Collection)
}

func TestValidationReason(t *testing.T) {
	err := Wrap("create", "users", 0, Validationf("email %s exists", "a@b.c"))

	assert.True(t, IsValidation(err))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "email a@b.c exists", Reason(err))
	assert.Equal(t, "", Reason(ErrNotFound))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap("write", "users", 0, nil))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		rejection bool
	}{
		{"transient", fmt.Errorf("dial: %w", ErrTransientNetwork), true, false},
		{"validation", Validationf("email %q exists", "a@b.c"), false, true},
		{"not found", ErrNotFound, false, true},
		{"unconfirmed", ErrUnconfirmed, false, false},
		{"persistence", ErrPersistence, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.rejection, IsRejection(tt.err))
		})
	}
}
