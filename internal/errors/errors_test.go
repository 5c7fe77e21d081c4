package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfCodedError(t *testing.T) {
	err := StaleCase("case left the review phase")
	assert.Equal(t, ErrCodeStaleCase, CodeOf(err))
}

func TestCodeOfWrappedError(t *testing.T) {
	inner := NotFound("case", "abc")
	outer := fmt.Errorf("loading snapshot: %w", inner)
	assert.Equal(t, ErrCodeNotFound, CodeOf(outer))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrCodeInternal, CodeOf(fmt.Errorf("connection reset")))
}

func TestHasCode(t *testing.T) {
	err := Unauthorized("not your turn")
	assert.True(t, HasCode(err, ErrCodeUnauthorized))
	assert.False(t, HasCode(err, ErrCodeStaleCase))
	assert.False(t, HasCode(fmt.Errorf("plain"), ErrCodeInternal))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, ErrCodeInternal, "nothing happened"))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("unique violation")
	err := Wrap(cause, ErrCodeConflict, "reference number already used")

	assert.Equal(t, ErrCodeConflict, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "CONFLICT")
	assert.Contains(t, err.Error(), "unique violation")
}

func TestConstructorMessages(t *testing.T) {
	assert.Contains(t, NotFound("tier rule", "r-1").Error(), `tier rule "r-1" not found`)
	assert.Contains(t, InvalidInput("outcome", "must be approve or decline").Error(), "outcome:")
	assert.Contains(t, InvalidChain("no filled approver seats").Error(), "INVALID_CHAIN")
}
