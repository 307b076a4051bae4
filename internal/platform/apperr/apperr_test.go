package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ErrorStringIncludesCauseWhenWrapped(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, KindIntegrity, "checksum mismatch")
	assert.Contains(t, err.Error(), "IntegrityError")
	assert.Contains(t, err.Error(), "checksum mismatch")
	assert.Contains(t, err.Error(), "boom")
}

func TestError_ErrorStringOmitsCauseWhenAbsent(t *testing.T) {
	err := New(KindValidation, "field is required")
	assert.Equal(t, "ValidationError: field is required", err.Error())
}

func TestError_UnwrapReturnsCause(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(cause, KindUnavailable, "downstream unavailable")
	assert.ErrorIs(t, err, cause)
}

func TestAs_ExtractsTypedErrorButNotAMessageCopy(t *testing.T) {
	typed := New(KindConflict, "version mismatch")
	wrapped := errors.New("context: " + typed.Error())

	_, ok := As(wrapped)
	assert.False(t, ok, "a plain error prefixed with the message text is not the typed error")

	extracted, ok := As(typed)
	require.True(t, ok)
	assert.Equal(t, KindConflict, extracted.Kind)
}

func TestKindOf_ReturnsEmptyForUntypedError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestKindOf_ReturnsKindForTypedError(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("Rule", "rul_1")))
}

func TestNotFound_PopulatesEntityAndIDDetails(t *testing.T) {
	err := NotFound("Rule", "rul_1")
	assert.Equal(t, KindNotFound, err.Kind)
	assert.Contains(t, err.Message, "Rule")
	assert.Contains(t, err.Message, "rul_1")
	assert.Equal(t, "Rule", err.Details["entity"])
	assert.Equal(t, "rul_1", err.Details["id"])
}

func TestInvalidInput_ScopesDetailToField(t *testing.T) {
	err := InvalidInput("priority", "priority must be non-negative")
	assert.Equal(t, KindValidation, err.Kind)
	assert.Equal(t, "priority", err.Details["field"])
}

func TestWithDetails_ReturnsReceiverForChaining(t *testing.T) {
	err := New(KindConflict, "conflict").WithDetails(map[string]any{"row_version": 3})
	assert.Equal(t, 3, err.Details["row_version"])
}

func TestToEnvelope_TypedErrorPreservesKindMessageAndDetails(t *testing.T) {
	err := InvalidInput("field_key", "field_key already exists")
	env := ToEnvelope(err)
	assert.Equal(t, "ValidationError", env.Error)
	assert.Equal(t, "field_key already exists", env.Message)
	assert.Equal(t, "field_key", env.Details["field"])
}

func TestToEnvelope_UntypedErrorFallsBackToUnavailable(t *testing.T) {
	env := ToEnvelope(errors.New("connection refused"))
	assert.Equal(t, "UnavailableError", env.Error)
	assert.Equal(t, "connection refused", env.Message)
	assert.Nil(t, env.Details)
}
