package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anima-systems/anima-memory/internal/apperr"
)

func TestAtoiDefault(t *testing.T) {
	assert.Equal(t, 5, atoiDefault("", 5))
	assert.Equal(t, 10, atoiDefault("10", 5))
	assert.Equal(t, 5, atoiDefault("not-a-number", 5))
}

func TestAtofDefault(t *testing.T) {
	assert.Equal(t, 0.1, atofDefault("", 0.1))
	assert.Equal(t, 0.75, atofDefault("0.75", 0.1))
	assert.Equal(t, 0.1, atofDefault("nope", 0.1))
}

func TestBoolDefault(t *testing.T) {
	assert.True(t, boolDefault("", true))
	assert.False(t, boolDefault("false", true))
	assert.True(t, boolDefault("garbage", true))
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"content":"hi","bogus":1}`))
	var dst addRequest
	err := decodeJSON(r, &dst)
	assert.Error(t, err)
	var appErr *apperr.Error
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.CodeValidation, appErr.Code)
}

func TestDecodeJSON_NilBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/test", nil)
	r.Body = nil
	var dst addRequest
	err := decodeJSON(r, &dst)
	assert.Error(t, err)
}

func TestDecodeJSON_Valid(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"content":"hi"}`))
	var dst addRequest
	err := decodeJSON(r, &dst)
	assert.NoError(t, err)
	assert.Equal(t, "hi", dst.Content)
}
