package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError_AppError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrMalformedMutation.WithDetail("missing project"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "MALFORMED_MUTATION", body["code"])
	assert.Equal(t, "missing project", body["detail"])
}

func TestFromError_WrappedAndGeneric(t *testing.T) {
	wrapped := fmt.Errorf("ctx: %w", ErrNotFound)
	assert.Equal(t, http.StatusNotFound, FromError(wrapped).HTTPStatus)

	cause := stderrors.New("boom")
	got := FromError(cause)
	assert.Equal(t, http.StatusInternalServerError, got.HTTPStatus)
	assert.ErrorIs(t, got, cause)
	assert.Nil(t, ErrInternalServerError.Err, "base errors are never mutated")
}
