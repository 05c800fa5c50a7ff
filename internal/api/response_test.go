package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima-systems/anima-memory/internal/apperr"
)

func TestWriteData_Envelope(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	writeData(w, r, http.StatusOK, map[string]any{"foo": "bar"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)
}

func TestWriteDataTimed_SetsQueryTime(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	writeDataTimed(w, r, http.StatusOK, map[string]any{"ok": true}, 42*time.Millisecond)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NotNil(t, env.Meta.QueryTime)
	assert.Equal(t, int64(42), *env.Meta.QueryTime)
}

func TestWriteError_AppErrMapsStatusAndCode(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	writeError(w, r, apperr.Validation("content must not be empty"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Equal(t, "content must not be empty", env.Error.Message)
}

func TestWriteError_PlainErrorDefaultsToInternal(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	writeError(w, r, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
	assert.Equal(t, "boom", env.Error.Message)
}

func TestWriteError_AppErrAsCausePropagatesCode(t *testing.T) {
	cause := apperr.NotFound("memory not found")

	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	writeError(w, r, fmt.Errorf("load memory: %w", cause))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
