package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode_HTTPStatus(t *testing.T) {
	assert.Equal(t, 400, CodeValidation.HTTPStatus())
	assert.Equal(t, 404, CodeNotFound.HTTPStatus())
	assert.Equal(t, 502, CodeEmbedding.HTTPStatus())
	assert.Equal(t, 500, CodeDatabase.HTTPStatus())
	assert.Equal(t, 503, CodePoolExhausted.HTTPStatus())
	assert.Equal(t, 500, CodeConsolidation.HTTPStatus())
	assert.Equal(t, 500, Code("UNKNOWN").HTTPStatus())
}

func TestWrap_UnwrapsToCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeDatabase, "query failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "query failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNew_NoCause(t *testing.T) {
	err := New(CodeValidation, "bad input")
	assert.Nil(t, err.Unwrap())
	assert.Equal(t, "VALIDATION_ERROR: bad input", err.Error())
}

func TestWithDetails(t *testing.T) {
	err := New(CodeValidation, "bad input").WithDetails(map[string]any{"field": "content"})
	assert.Equal(t, "content", err.Details["field"])
}

func TestValidationAndNotFoundHelpers(t *testing.T) {
	assert.Equal(t, CodeValidation, Validation("x").Code)
	assert.Equal(t, CodeNotFound, NotFound("x").Code)
}

func TestErrorsAs_MatchesAppErr(t *testing.T) {
	var target *Error
	err := error(Wrap(CodeEmbedding, "embed failed", errors.New("timeout")))
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, CodeEmbedding, target.Code)
}
